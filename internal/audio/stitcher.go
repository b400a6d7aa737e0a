package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/loqalabs/loqa-podcast/internal/script"
)

// Mode reports which stitching strategy produced an output.
type Mode string

const (
	ModeProcessing Mode = "processing"
	ModeConcat     Mode = "concat"
)

type Config struct {
	Format     Format
	SampleRate int
	Bitrate    string
	// Mode is auto, processing or concat.
	Mode       string
	FFmpegPath string
	Crossfade  time.Duration
	Normalize  bool
	TargetDBFS float64
	Pauses     script.PausePolicy
	Music      MusicConfig
}

type MusicConfig struct {
	IntroGainDB float64
	IntroFade   time.Duration
	IntroLength time.Duration
	OutroGainDB float64
	OutroFade   time.Duration
	OutroLength time.Duration
}

func DefaultConfig() Config {
	return Config{
		Format:     FormatMP3,
		SampleRate: 24000,
		Bitrate:    "48k",
		Mode:       "auto",
		Crossfade:  50 * time.Millisecond,
		Normalize:  true,
		TargetDBFS: -16,
		Pauses:     script.DefaultPausePolicy(),
		Music: MusicConfig{
			IntroGainDB: -12,
			IntroFade:   2 * time.Second,
			IntroLength: 8 * time.Second,
			OutroGainDB: -10,
			OutroFade:   3 * time.Second,
			OutroLength: 10 * time.Second,
		},
	}
}

// Result describes a stitched stream. DurationMS equals the sum of the
// stitched chunk durations plus PauseMS minus OverlapMS.
type Result struct {
	Audio      []byte         `json:"-"`
	Format     Format         `json:"format"`
	Mode       Mode           `json:"mode"`
	DurationMS int            `json:"duration_ms"`
	PauseMS    int            `json:"pause_ms"`
	OverlapMS  int            `json:"overlap_ms"`
	Chunks     []ChunkTiming  `json:"chunks"`
	Skipped    []SkippedChunk `json:"skipped,omitempty"`
}

type ChunkTiming struct {
	Index      int `json:"index"`
	OffsetMS   int `json:"offset_ms"`
	DurationMS int `json:"duration_ms"`
}

type SkippedChunk struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Info is the introspection view of an encoded stream.
type Info struct {
	DurationMS   int      `json:"duration_ms"`
	SampleRate   int      `json:"sample_rate,omitempty"`
	Channels     int      `json:"channels,omitempty"`
	Bytes        int      `json:"bytes"`
	Size         string   `json:"size"`
	Format       Format   `json:"format"`
	Mode         Mode     `json:"mode"`
	Estimated    bool     `json:"estimated"`
	LoudnessDBFS *float64 `json:"loudness_dbfs,omitempty"`
}

// Stitcher merges ordered chunks into one stream.
type Stitcher interface {
	Stitch(chunks []Chunk) (Result, error)
	AddIntroMusic(main, music []byte) []byte
	AddOutroMusic(main, music []byte) []byte
	Info(data []byte) Info
	Split(data []byte, at []time.Duration) ([][]byte, error)
	Mode() Mode
	Format() Format
}

var ErrNoChunks = errors.New("no audio chunks to stitch")

// NewStitcher resolves the strategy once. In auto mode a missing codec
// degrades to byte concatenation.
func NewStitcher(cfg Config, logger *slog.Logger) (Stitcher, error) {
	logger = logger.With(slog.String("component", "stitcher"))
	if cfg.SampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	switch cfg.Mode {
	case "concat":
		logger.Info("audio stitching configured", slog.String("mode", string(ModeConcat)))
		return newConcatStitcher(cfg, logger), nil
	case "", "auto", "processing":
	default:
		return nil, fmt.Errorf("unknown stitch mode %q", cfg.Mode)
	}

	codec, err := selectCodec(cfg)
	if err != nil {
		if cfg.Mode == "processing" {
			return nil, err
		}
		logger.Warn("audio processing unavailable, using byte concatenation", slogError(err))
		return newConcatStitcher(cfg, logger), nil
	}
	logger.Info("audio stitching configured",
		slog.String("mode", string(ModeProcessing)),
		slog.String("codec", codec.Name()),
		slog.String("format", string(cfg.Format)))
	return newProcessingStitcher(cfg, codec, logger), nil
}

func selectCodec(cfg Config) (Codec, error) {
	switch cfg.Format {
	case FormatWAV:
		return NewWAVCodec(), nil
	case FormatMP3:
		path, err := LookupFFmpeg(cfg.FFmpegPath)
		if err != nil {
			return nil, fmt.Errorf("mp3 processing needs ffmpeg: %w", err)
		}
		return NewFFmpegCodec(path, cfg.Format, cfg.SampleRate, cfg.Bitrate, nil), nil
	}
	return nil, fmt.Errorf("unsupported audio format %q", cfg.Format)
}

func sortedChunks(chunks []Chunk) []Chunk {
	ordered := append([]Chunk(nil), chunks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	return ordered
}

func estimatedInfo(data []byte, cfg Config, mode Mode) Info {
	return Info{
		DurationMS: EstimateDurationMS(len(data), cfg.Format, cfg.SampleRate),
		Bytes:      len(data),
		Size:       humanize.Bytes(uint64(len(data))),
		Format:     cfg.Format,
		Mode:       mode,
		Estimated:  true,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
