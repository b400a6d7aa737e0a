package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.TTS.Mode != "mock" {
		t.Fatalf("expected mock tts by default, got %q", cfg.TTS.Mode)
	}
	if cfg.Markup.MaxChars != 2900 {
		t.Fatalf("expected 2900 char ceiling, got %d", cfg.Markup.MaxChars)
	}
	if cfg.Coordinator.MaxConcurrentRequests != 5 {
		t.Fatalf("expected 5 concurrent requests, got %d", cfg.Coordinator.MaxConcurrentRequests)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podcast.yaml")
	body := `
tts:
  mode: polly
  region: eu-west-1
audio:
  format: wav
storage:
  backend: s3
  bucket: lessons-bucket
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTS.Mode != "polly" || cfg.TTS.Region != "eu-west-1" {
		t.Fatalf("expected tts overrides, got %+v", cfg.TTS)
	}
	if cfg.TTS.RetryAttempts != 3 {
		t.Fatalf("expected default retry attempts kept, got %d", cfg.TTS.RetryAttempts)
	}
	if cfg.Audio.Format != "wav" || cfg.Audio.SampleRate != 24000 {
		t.Fatalf("unexpected audio config %+v", cfg.Audio)
	}
	if cfg.Storage.Bucket != "lessons-bucket" {
		t.Fatalf("expected bucket override")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PODCAST_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("PODCAST_BUS_USERNAME", "alice")
	t.Setenv("PODCAST_BUS_PASSWORD", "secret")
	t.Setenv("PODCAST_BUS_TLS_INSECURE", "true")
	t.Setenv("PODCAST_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("PODCAST_NODE_ID", "test-node")
	t.Setenv("PODCAST_NODE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("PODCAST_NODE_HEARTBEAT_TIMEOUT_MS", "5000")
	t.Setenv("PODCAST_JOB_STORE_PATH", "./tmp.db")
	t.Setenv("PODCAST_JOB_STORE_RETENTION_DAYS", "7")
	t.Setenv("PODCAST_TTS_RETRY_ATTEMPTS", "5")
	t.Setenv("PODCAST_TTS_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("PODCAST_AUDIO_FORMAT", "wav")
	t.Setenv("PODCAST_COORDINATOR_MAX_CONCURRENT_REQUESTS", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.Node.HeartbeatInterval != 1500 || cfg.Node.HeartbeatTimeout != 5000 {
		t.Fatalf("expected heartbeat overrides")
	}
	if cfg.JobStore.Path != "./tmp.db" || cfg.JobStore.RetentionDays != 7 {
		t.Fatalf("expected job store overrides")
	}
	if cfg.TTS.RetryAttempts != 5 {
		t.Fatalf("expected retry attempts override, got %d", cfg.TTS.RetryAttempts)
	}
	if cfg.TTS.RequestsPerSecond != 2.5 {
		t.Fatalf("expected requests per second override, got %v", cfg.TTS.RequestsPerSecond)
	}
	if cfg.Audio.Format != "wav" {
		t.Fatalf("expected audio format override")
	}
	if cfg.Coordinator.MaxConcurrentRequests != 2 {
		t.Fatalf("expected concurrency override")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"tts mode":      func(c *Config) { c.TTS.Mode = "festival" },
		"exec command":  func(c *Config) { c.TTS.Mode = "exec" },
		"dialect":       func(c *Config) { c.Markup.Dialect = "html" },
		"audio format":  func(c *Config) { c.Audio.Format = "ogg" },
		"stitch mode":   func(c *Config) { c.Audio.StitchMode = "magic" },
		"s3 bucket":     func(c *Config) { c.Storage.Backend = "s3" },
		"supabase keys": func(c *Config) { c.Storage.Backend = "supabase"; c.Storage.Bucket = "b" },
		"concurrency":   func(c *Config) { c.Coordinator.MaxConcurrentRequests = 0 },
		"llm endpoint":  func(c *Config) { c.Dialogue.Mode = "llm"; c.LLM.Endpoint = "" },
		"job driver":    func(c *Config) { c.JobStore.Driver = "mongo" },
		"postgres dsn":  func(c *Config) { c.JobStore.Driver = "postgres" },
		"negative gap":  func(c *Config) { c.Pauses.SameSpeakerMS = -1 },
		"tiny ceiling":  func(c *Config) { c.Markup.MaxChars = 150 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := validate(Default()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
