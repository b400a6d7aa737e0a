package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/coordinator"
	"github.com/loqalabs/loqa-podcast/internal/dialogue"
	"github.com/loqalabs/loqa-podcast/internal/jobstore"
	"github.com/loqalabs/loqa-podcast/internal/markup"
	"github.com/loqalabs/loqa-podcast/internal/script"
	"github.com/loqalabs/loqa-podcast/internal/storage"
	"github.com/loqalabs/loqa-podcast/internal/tts"
)

// Pipeline bundles the configured synthesis components.
type Pipeline struct {
	Formatter   *markup.Formatter
	Synthesizer *tts.Synthesizer
	Stitcher    audio.Stitcher
	Local       *storage.LocalStore
	Objects     storage.ObjectStore
	Generator   dialogue.Generator
	Store       *jobstore.Store
	Coordinator *coordinator.Coordinator
}

// PausePolicy converts pause settings.
func PausePolicy(cfg config.PauseConfig) script.PausePolicy {
	return script.PausePolicy{
		SegmentTransition: time.Duration(cfg.SegmentTransitionMS) * time.Millisecond,
		SpeakerChange:     time.Duration(cfg.SpeakerChangeMS) * time.Millisecond,
		SameSpeaker:       time.Duration(cfg.SameSpeakerMS) * time.Millisecond,
	}
}

func MarkupConfig(cfg config.Config) markup.Config {
	mc := markup.DefaultConfig()
	mc.Dialect = markup.Dialect(cfg.Markup.Dialect)
	mc.MaxChars = cfg.Markup.MaxChars
	mc.SentencePause = time.Duration(cfg.Markup.SentencePauseMS) * time.Millisecond
	mc.ClausePause = time.Duration(cfg.Markup.ClausePauseMS) * time.Millisecond
	mc.EllipsisPause = time.Duration(cfg.Markup.EllipsisPauseMS) * time.Millisecond
	mc.Pauses = PausePolicy(cfg.Pauses)
	for name, rate := range cfg.Markup.Rates {
		if sp, err := script.ParseSpeaker(name); err == nil {
			mc.Rates[sp] = rate
		}
	}
	if len(cfg.Markup.Voices) > 0 {
		mc.Voices = make(map[script.Speaker]string, len(cfg.Markup.Voices))
		for name, voice := range cfg.Markup.Voices {
			if sp, err := script.ParseSpeaker(name); err == nil {
				mc.Voices[sp] = voice
			}
		}
	}
	return mc
}

func AudioConfig(cfg config.Config) (audio.Config, error) {
	format, err := audio.ParseFormat(cfg.Audio.Format)
	if err != nil {
		return audio.Config{}, err
	}
	ac := audio.DefaultConfig()
	ac.Format = format
	ac.SampleRate = cfg.Audio.SampleRate
	ac.Bitrate = cfg.Audio.Bitrate
	ac.Mode = cfg.Audio.StitchMode
	ac.FFmpegPath = cfg.Audio.FFmpegPath
	ac.Crossfade = time.Duration(cfg.Audio.CrossfadeMS) * time.Millisecond
	ac.Normalize = cfg.Audio.Normalize
	ac.TargetDBFS = cfg.Audio.TargetDBFS
	ac.Pauses = PausePolicy(cfg.Pauses)
	ac.Music = audio.MusicConfig{
		IntroGainDB: cfg.Audio.IntroGainDB,
		IntroFade:   time.Duration(cfg.Audio.IntroFadeMS) * time.Millisecond,
		IntroLength: time.Duration(cfg.Audio.IntroLengthMS) * time.Millisecond,
		OutroGainDB: cfg.Audio.OutroGainDB,
		OutroFade:   time.Duration(cfg.Audio.OutroFadeMS) * time.Millisecond,
		OutroLength: time.Duration(cfg.Audio.OutroLengthMS) * time.Millisecond,
	}
	return ac, nil
}

// NewSynthesizer builds the configured provider behind retry, pacing and the
// optional cache.
func NewSynthesizer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*tts.Synthesizer, error) {
	opts, err := tts.OptionsFromConfig(cfg.TTS, cfg.Audio)
	if err != nil {
		return nil, err
	}
	provider, err := tts.NewProvider(ctx, cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("tts provider: %w", err)
	}
	var cache *tts.Cache
	if cfg.TTS.CacheEnabled {
		cache, err = tts.NewCache(cfg.TTS.CacheDir, opts.Format.Extension(), cfg.TTS.CacheEntries)
		if err != nil {
			return nil, fmt.Errorf("tts cache: %w", err)
		}
	}
	return tts.NewSynthesizer(provider, cache, opts, logger), nil
}

// BuildPipeline wires every component from cfg. Close releases what it
// opened.
func BuildPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Pipeline, error) {
	p := &Pipeline{}
	var err error
	if p.Formatter, err = markup.NewFormatter(MarkupConfig(cfg)); err != nil {
		return nil, err
	}
	if p.Synthesizer, err = NewSynthesizer(ctx, cfg, logger); err != nil {
		return nil, err
	}
	audioCfg, err := AudioConfig(cfg)
	if err != nil {
		return nil, err
	}
	if p.Stitcher, err = audio.NewStitcher(audioCfg, logger); err != nil {
		return nil, err
	}
	if p.Local, err = storage.NewLocalStore(cfg.Storage.OutputDir); err != nil {
		return nil, err
	}
	if p.Objects, err = storage.NewObjectStore(ctx, cfg.Storage); err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	if p.Generator, err = dialogue.NewFromConfig(cfg.Dialogue, cfg.LLM, logger); err != nil {
		return nil, fmt.Errorf("dialogue generator: %w", err)
	}
	if p.Store, err = jobstore.Open(ctx, cfg.JobStore, logger); err != nil {
		return nil, err
	}

	opts := coordinator.OptionsFromConfig(cfg.Coordinator, cfg.Storage)
	opts.IntroMusic = readMusic(cfg.Audio.IntroMusic, logger)
	opts.OutroMusic = readMusic(cfg.Audio.OutroMusic, logger)
	p.Coordinator, err = coordinator.New(ctx, coordinator.Deps{
		Chunker:     p.Formatter,
		Synthesizer: p.Synthesizer,
		Stitcher:    p.Stitcher,
		Local:       p.Local,
		Objects:     p.Objects,
		Generator:   p.Generator,
		Store:       p.Store,
	}, opts, logger)
	if err != nil {
		_ = p.Store.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.Coordinator != nil {
		p.Coordinator.Close()
	}
	if err := p.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// readMusic loads an optional music bed. A missing file only disables it.
func readMusic(path string, logger *slog.Logger) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("music bed unavailable", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	return data
}
