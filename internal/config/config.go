package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"` // auto, json, text
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Node        NodeConfig        `yaml:"node"`
	JobStore    JobStoreConfig    `yaml:"job_store"`
	TTS         TTSConfig         `yaml:"tts"`
	Markup      MarkupConfig      `yaml:"markup"`
	Pauses      PauseConfig       `yaml:"pauses"`
	Audio       AudioConfig       `yaml:"audio"`
	Storage     StorageConfig     `yaml:"storage"`
	LLM         LLMConfig         `yaml:"llm"`
	Dialogue    DialogueConfig    `yaml:"dialogue"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	JetStream      bool     `yaml:"jetstream"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

type JobStoreConfig struct {
	Driver        string `yaml:"driver"` // none, sqlite, postgres
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type TTSConfig struct {
	Mode              string  `yaml:"mode"` // mock, polly, exec
	Command           string  `yaml:"command"`
	Region            string  `yaml:"region"`
	Engine            string  `yaml:"engine"`
	RetryAttempts     int     `yaml:"retry_attempts"`
	RetryBaseDelayMS  int     `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMS   int     `yaml:"retry_max_delay_ms"`
	TimeoutMS         int     `yaml:"timeout_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	CacheEnabled      bool    `yaml:"cache_enabled"`
	CacheDir          string  `yaml:"cache_dir"`
	CacheEntries      int     `yaml:"cache_entries"`
	PricePerMillion   float64 `yaml:"price_per_million_chars"`
}

type MarkupConfig struct {
	Dialect         string            `yaml:"dialect"` // ssml, plain
	MaxChars        int               `yaml:"max_chars"`
	SentencePauseMS int               `yaml:"sentence_pause_ms"`
	ClausePauseMS   int               `yaml:"clause_pause_ms"`
	EllipsisPauseMS int               `yaml:"ellipsis_pause_ms"`
	Rates           map[string]string `yaml:"rates"`
	Voices          map[string]string `yaml:"voices"`
}

type PauseConfig struct {
	SegmentTransitionMS int `yaml:"segment_transition_ms"`
	SpeakerChangeMS     int `yaml:"speaker_change_ms"`
	SameSpeakerMS       int `yaml:"same_speaker_ms"`
}

type AudioConfig struct {
	Format          string  `yaml:"format"` // mp3, wav
	SampleRate      int     `yaml:"sample_rate"`
	Bitrate         string  `yaml:"bitrate"`
	StitchMode      string  `yaml:"stitch_mode"` // auto, processing, concat
	FFmpegPath      string  `yaml:"ffmpeg_path"`
	CrossfadeMS     int     `yaml:"crossfade_ms"`
	Normalize       bool    `yaml:"normalize"`
	TargetDBFS      float64 `yaml:"target_dbfs"`
	IntroMusic      string  `yaml:"intro_music"`
	OutroMusic      string  `yaml:"outro_music"`
	IntroGainDB     float64 `yaml:"intro_gain_db"`
	OutroGainDB     float64 `yaml:"outro_gain_db"`
	IntroFadeMS     int     `yaml:"intro_fade_ms"`
	OutroFadeMS     int     `yaml:"outro_fade_ms"`
	IntroLengthMS   int     `yaml:"intro_length_ms"`
	OutroLengthMS   int     `yaml:"outro_length_ms"`
}

type StorageConfig struct {
	OutputDir         string `yaml:"output_dir"`
	Backend           string `yaml:"backend"` // none, s3, supabase
	Bucket            string `yaml:"bucket"`
	Prefix            string `yaml:"prefix"`
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	UsePathStyle      bool   `yaml:"use_path_style"`
	PresignTTLSeconds int    `yaml:"presign_ttl_seconds"`
	SupabaseURL       string `yaml:"supabase_url"`
	SupabaseKey       string `yaml:"supabase_key"`
}

type LLMConfig struct {
	Mode          string  `yaml:"mode"` // ollama, exec
	Endpoint      string  `yaml:"endpoint"`
	Command       string  `yaml:"command"`
	ModelFast     string  `yaml:"model_fast"`
	ModelBalanced string  `yaml:"model_balanced"`
	DefaultTier   string  `yaml:"default_tier"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	TimeoutMS     int     `yaml:"timeout_ms"`
}

type DialogueConfig struct {
	Mode        string `yaml:"mode"` // mock, llm
	Tier        string `yaml:"tier"`
	TargetTurns int    `yaml:"target_turns"`
}

type CoordinatorConfig struct {
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`
	JobRetentionHours     int `yaml:"job_retention_hours"`
	CleanupIntervalMS     int `yaml:"cleanup_interval_ms"`
	JobTimeoutMS          int `yaml:"job_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-podcast",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "auto",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "podcast-worker-1",
			Role:              "synthesis",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "podcast.synthesis", Tier: "balanced"},
			},
		},
		JobStore: JobStoreConfig{
			Driver:        "sqlite",
			Path:          "./data/podcast-jobs.db",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
		TTS: TTSConfig{
			Mode:              "mock",
			Region:            "us-east-1",
			Engine:            "neural",
			RetryAttempts:     3,
			RetryBaseDelayMS:  1000,
			RetryMaxDelayMS:   10000,
			TimeoutMS:         30000,
			RequestsPerSecond: 8,
			Burst:             8,
			CacheEnabled:      true,
			CacheDir:          "./data/tts-cache",
			CacheEntries:      256,
			PricePerMillion:   16,
		},
		Markup: MarkupConfig{
			Dialect:         "ssml",
			MaxChars:        2900,
			SentencePauseMS: 400,
			ClausePauseMS:   200,
			EllipsisPauseMS: 800,
			Rates:           map[string]string{"alex": "95%", "sam": "100%"},
		},
		Pauses: PauseConfig{
			SegmentTransitionMS: 800,
			SpeakerChangeMS:     600,
			SameSpeakerMS:       250,
		},
		Audio: AudioConfig{
			Format:        "mp3",
			SampleRate:    24000,
			Bitrate:       "48k",
			StitchMode:    "auto",
			CrossfadeMS:   50,
			Normalize:     true,
			TargetDBFS:    -16,
			IntroGainDB:   -12,
			OutroGainDB:   -10,
			IntroFadeMS:   2000,
			OutroFadeMS:   3000,
			IntroLengthMS: 8000,
			OutroLengthMS: 10000,
		},
		Storage: StorageConfig{
			OutputDir:         "./output",
			Backend:           "none",
			Prefix:            "lessons",
			Region:            "us-east-1",
			PresignTTLSeconds: 3600,
		},
		LLM: LLMConfig{
			Mode:          "ollama",
			Endpoint:      "http://localhost:11434",
			ModelFast:     "llama3.2:latest",
			ModelBalanced: "llama3.2:latest",
			DefaultTier:   "balanced",
			MaxTokens:     4096,
			Temperature:   0.7,
			TimeoutMS:     120000,
		},
		Dialogue: DialogueConfig{
			Mode:        "mock",
			Tier:        "balanced",
			TargetTurns: 16,
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrentRequests: 5,
			JobRetentionHours:     24,
			CleanupIntervalMS:     600000,
			JobTimeoutMS:          1800000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "PODCAST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PODCAST_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PODCAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PODCAST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PODCAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "PODCAST_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PODCAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PODCAST_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "PODCAST_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "PODCAST_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PODCAST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PODCAST_BUS_PORT")
	overrideBool(&cfg.Bus.JetStream, "PODCAST_BUS_JETSTREAM")
	overrideString(&cfg.Bus.StoreDir, "PODCAST_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "PODCAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PODCAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PODCAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PODCAST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PODCAST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PODCAST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "PODCAST_NODE_ID")
	overrideString(&cfg.Node.Role, "PODCAST_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "PODCAST_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "PODCAST_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.JobStore.Driver, "PODCAST_JOB_STORE_DRIVER")
	overrideString(&cfg.JobStore.Path, "PODCAST_JOB_STORE_PATH")
	overrideString(&cfg.JobStore.DSN, "PODCAST_JOB_STORE_DSN")
	overrideInt(&cfg.JobStore.RetentionDays, "PODCAST_JOB_STORE_RETENTION_DAYS")
	overrideInt(&cfg.JobStore.MaxJobs, "PODCAST_JOB_STORE_MAX_JOBS")
	overrideBool(&cfg.JobStore.VacuumOnStart, "PODCAST_JOB_STORE_VACUUM_ON_START")
	overrideString(&cfg.TTS.Mode, "PODCAST_TTS_MODE")
	overrideString(&cfg.TTS.Command, "PODCAST_TTS_COMMAND")
	overrideString(&cfg.TTS.Region, "PODCAST_TTS_REGION")
	overrideString(&cfg.TTS.Engine, "PODCAST_TTS_ENGINE")
	overrideInt(&cfg.TTS.RetryAttempts, "PODCAST_TTS_RETRY_ATTEMPTS")
	overrideInt(&cfg.TTS.RetryBaseDelayMS, "PODCAST_TTS_RETRY_BASE_DELAY_MS")
	overrideInt(&cfg.TTS.RetryMaxDelayMS, "PODCAST_TTS_RETRY_MAX_DELAY_MS")
	overrideInt(&cfg.TTS.TimeoutMS, "PODCAST_TTS_TIMEOUT_MS")
	overrideFloat(&cfg.TTS.RequestsPerSecond, "PODCAST_TTS_REQUESTS_PER_SECOND")
	overrideInt(&cfg.TTS.Burst, "PODCAST_TTS_BURST")
	overrideBool(&cfg.TTS.CacheEnabled, "PODCAST_TTS_CACHE_ENABLED")
	overrideString(&cfg.TTS.CacheDir, "PODCAST_TTS_CACHE_DIR")
	overrideInt(&cfg.TTS.CacheEntries, "PODCAST_TTS_CACHE_ENTRIES")
	overrideFloat(&cfg.TTS.PricePerMillion, "PODCAST_TTS_PRICE_PER_MILLION_CHARS")
	overrideString(&cfg.Markup.Dialect, "PODCAST_MARKUP_DIALECT")
	overrideInt(&cfg.Markup.MaxChars, "PODCAST_MARKUP_MAX_CHARS")
	overrideInt(&cfg.Pauses.SegmentTransitionMS, "PODCAST_PAUSES_SEGMENT_TRANSITION_MS")
	overrideInt(&cfg.Pauses.SpeakerChangeMS, "PODCAST_PAUSES_SPEAKER_CHANGE_MS")
	overrideInt(&cfg.Pauses.SameSpeakerMS, "PODCAST_PAUSES_SAME_SPEAKER_MS")
	overrideString(&cfg.Audio.Format, "PODCAST_AUDIO_FORMAT")
	overrideInt(&cfg.Audio.SampleRate, "PODCAST_AUDIO_SAMPLE_RATE")
	overrideString(&cfg.Audio.Bitrate, "PODCAST_AUDIO_BITRATE")
	overrideString(&cfg.Audio.StitchMode, "PODCAST_AUDIO_STITCH_MODE")
	overrideString(&cfg.Audio.FFmpegPath, "PODCAST_AUDIO_FFMPEG_PATH")
	overrideInt(&cfg.Audio.CrossfadeMS, "PODCAST_AUDIO_CROSSFADE_MS")
	overrideBool(&cfg.Audio.Normalize, "PODCAST_AUDIO_NORMALIZE")
	overrideFloat(&cfg.Audio.TargetDBFS, "PODCAST_AUDIO_TARGET_DBFS")
	overrideString(&cfg.Audio.IntroMusic, "PODCAST_AUDIO_INTRO_MUSIC")
	overrideString(&cfg.Audio.OutroMusic, "PODCAST_AUDIO_OUTRO_MUSIC")
	overrideString(&cfg.Storage.OutputDir, "PODCAST_STORAGE_OUTPUT_DIR")
	overrideString(&cfg.Storage.Backend, "PODCAST_STORAGE_BACKEND")
	overrideString(&cfg.Storage.Bucket, "PODCAST_STORAGE_BUCKET")
	overrideString(&cfg.Storage.Prefix, "PODCAST_STORAGE_PREFIX")
	overrideString(&cfg.Storage.Region, "PODCAST_STORAGE_REGION")
	overrideString(&cfg.Storage.Endpoint, "PODCAST_STORAGE_ENDPOINT")
	overrideBool(&cfg.Storage.UsePathStyle, "PODCAST_STORAGE_USE_PATH_STYLE")
	overrideInt(&cfg.Storage.PresignTTLSeconds, "PODCAST_STORAGE_PRESIGN_TTL_SECONDS")
	overrideString(&cfg.Storage.SupabaseURL, "PODCAST_STORAGE_SUPABASE_URL")
	overrideString(&cfg.Storage.SupabaseKey, "PODCAST_STORAGE_SUPABASE_KEY")
	overrideString(&cfg.LLM.Mode, "PODCAST_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "PODCAST_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "PODCAST_LLM_COMMAND")
	overrideString(&cfg.LLM.ModelFast, "PODCAST_LLM_MODEL_FAST")
	overrideString(&cfg.LLM.ModelBalanced, "PODCAST_LLM_MODEL_BALANCED")
	overrideString(&cfg.LLM.DefaultTier, "PODCAST_LLM_DEFAULT_TIER")
	overrideInt(&cfg.LLM.MaxTokens, "PODCAST_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "PODCAST_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "PODCAST_LLM_TIMEOUT_MS")
	overrideString(&cfg.Dialogue.Mode, "PODCAST_DIALOGUE_MODE")
	overrideString(&cfg.Dialogue.Tier, "PODCAST_DIALOGUE_TIER")
	overrideInt(&cfg.Dialogue.TargetTurns, "PODCAST_DIALOGUE_TARGET_TURNS")
	overrideInt(&cfg.Coordinator.MaxConcurrentRequests, "PODCAST_COORDINATOR_MAX_CONCURRENT_REQUESTS")
	overrideInt(&cfg.Coordinator.JobRetentionHours, "PODCAST_COORDINATOR_JOB_RETENTION_HOURS")
	overrideInt(&cfg.Coordinator.CleanupIntervalMS, "PODCAST_COORDINATOR_CLEANUP_INTERVAL_MS")
	overrideInt(&cfg.Coordinator.JobTimeoutMS, "PODCAST_COORDINATOR_JOB_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogFormat {
	case "", "auto", "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of auto|json|text")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port < 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 0 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	switch cfg.JobStore.Driver {
	case "", "none":
	case "sqlite":
		if cfg.JobStore.Path == "" {
			return errors.New("job_store.path must be set when driver=sqlite")
		}
	case "postgres":
		if cfg.JobStore.DSN == "" {
			return errors.New("job_store.dsn must be set when driver=postgres")
		}
	default:
		return errors.New("job_store.driver must be one of none|sqlite|postgres")
	}
	if cfg.JobStore.RetentionDays < 0 {
		return errors.New("job_store.retention_days must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "polly":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of mock|polly|exec")
	}
	if cfg.TTS.RetryAttempts <= 0 {
		return errors.New("tts.retry_attempts must be >= 1")
	}
	if cfg.TTS.RequestsPerSecond < 0 {
		return errors.New("tts.requests_per_second must be >= 0")
	}
	if cfg.TTS.CacheEnabled && cfg.TTS.CacheDir == "" {
		return errors.New("tts.cache_dir must be set when the cache is enabled")
	}
	switch cfg.Markup.Dialect {
	case "ssml", "plain":
	default:
		return errors.New("markup.dialect must be one of ssml|plain")
	}
	if cfg.Markup.MaxChars < 200 {
		return errors.New("markup.max_chars must be >= 200")
	}
	if cfg.Pauses.SegmentTransitionMS < 0 || cfg.Pauses.SpeakerChangeMS < 0 || cfg.Pauses.SameSpeakerMS < 0 {
		return errors.New("pauses must be >= 0")
	}
	switch cfg.Audio.Format {
	case "mp3", "wav":
	default:
		return errors.New("audio.format must be one of mp3|wav")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	switch cfg.Audio.StitchMode {
	case "auto", "processing", "concat":
	default:
		return errors.New("audio.stitch_mode must be one of auto|processing|concat")
	}
	if cfg.Storage.OutputDir == "" {
		return errors.New("storage.output_dir must not be empty")
	}
	switch cfg.Storage.Backend {
	case "", "none":
	case "s3":
		if cfg.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set when backend=s3")
		}
	case "supabase":
		if cfg.Storage.Bucket == "" || cfg.Storage.SupabaseURL == "" || cfg.Storage.SupabaseKey == "" {
			return errors.New("storage.bucket, storage.supabase_url and storage.supabase_key must be set when backend=supabase")
		}
	default:
		return errors.New("storage.backend must be one of none|s3|supabase")
	}
	switch cfg.Dialogue.Mode {
	case "mock":
	case "llm":
		switch cfg.LLM.Mode {
		case "ollama":
			if cfg.LLM.Endpoint == "" {
				return errors.New("llm.endpoint must be set when mode=ollama")
			}
		case "exec":
			if cfg.LLM.Command == "" {
				return errors.New("llm.command must be set when mode=exec")
			}
		default:
			return errors.New("llm.mode must be one of ollama|exec")
		}
	default:
		return errors.New("dialogue.mode must be one of mock|llm")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.Coordinator.MaxConcurrentRequests <= 0 {
		return errors.New("coordinator.max_concurrent_requests must be >= 1")
	}
	if cfg.Coordinator.JobRetentionHours < 0 {
		return errors.New("coordinator.job_retention_hours must be >= 0")
	}
	return nil
}
