package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/time/rate"

	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/markup"
	"github.com/loqalabs/loqa-podcast/internal/script"
)

const (
	// MarkupOverhead approximates the billed characters added by markup.
	MarkupOverhead = 1.2
	// NeuralPricePerMillion is the USD price per million billed characters.
	NeuralPricePerMillion = 16.0

	meterName = "github.com/loqalabs/loqa-podcast/tts"
)

var ErrCacheDisabled = errors.New("synthesis cache disabled")

type Options struct {
	Format            audio.Format
	SampleRate        int
	RetryAttempts     int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	PricePerMillion   float64
}

// OptionsFromConfig builds synthesizer options from config.
func OptionsFromConfig(cfg config.TTSConfig, audioCfg config.AudioConfig) (Options, error) {
	format, err := audio.ParseFormat(audioCfg.Format)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Format:            format,
		SampleRate:        audioCfg.SampleRate,
		RetryAttempts:     cfg.RetryAttempts,
		RetryBaseDelay:    time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		RetryMaxDelay:     time.Duration(cfg.RetryMaxDelayMS) * time.Millisecond,
		Timeout:           time.Duration(cfg.TimeoutMS) * time.Millisecond,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		PricePerMillion:   cfg.PricePerMillion,
	}, nil
}

// NewProvider selects the backend named by cfg.Mode.
func NewProvider(ctx context.Context, cfg config.TTSConfig) (Provider, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockProvider(), nil
	case "polly":
		return NewPollyProvider(ctx, cfg.Region, cfg.Engine)
	case "exec":
		return NewExecProvider(cfg.Command)
	}
	return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
}

type instruments struct {
	requests  metric.Int64Counter
	cacheHits metric.Int64Counter
	retries   metric.Int64Counter
	failures  metric.Int64Counter
	latency   metric.Float64Histogram
}

func newInstruments(logger *slog.Logger) instruments {
	meter := otel.Meter(meterName)
	var errs []error
	track := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	requests, err := meter.Int64Counter("podcast.tts.requests", metric.WithDescription("Chunks submitted for synthesis"))
	track(err)
	hits, err := meter.Int64Counter("podcast.tts.cache_hits", metric.WithDescription("Chunks served from the synthesis cache"))
	track(err)
	retries, err := meter.Int64Counter("podcast.tts.retries", metric.WithDescription("Provider calls retried after throttling"))
	track(err)
	failures, err := meter.Int64Counter("podcast.tts.failures", metric.WithDescription("Chunks that failed synthesis"))
	track(err)
	latency, err := meter.Float64Histogram("podcast.tts.provider_latency", metric.WithUnit("ms"), metric.WithDescription("Provider call latency"))
	track(err)
	if err := errors.Join(errs...); err != nil {
		logger.Warn("failed to initialize tts metrics", slogError(err))
		return instruments{
			requests:  noop.Int64Counter{},
			cacheHits: noop.Int64Counter{},
			retries:   noop.Int64Counter{},
			failures:  noop.Int64Counter{},
			latency:   noop.Float64Histogram{},
		}
	}
	return instruments{requests: requests, cacheHits: hits, retries: retries, failures: failures, latency: latency}
}

// Synthesizer turns markup chunks into audio chunks: cache lookup, pacing,
// provider call with throttling retries, then cache fill.
type Synthesizer struct {
	provider Provider
	cache    *Cache
	opts     Options
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  instruments
}

func NewSynthesizer(provider Provider, cache *Cache, opts Options, logger *slog.Logger) *Synthesizer {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.RetryMaxDelay < opts.RetryBaseDelay {
		opts.RetryMaxDelay = opts.RetryBaseDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PricePerMillion <= 0 {
		opts.PricePerMillion = NeuralPricePerMillion
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	logger = logger.With(slog.String("component", "synthesizer"), slog.String("provider", provider.Name()))
	return &Synthesizer{
		provider: provider,
		cache:    cache,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
		metrics:  newInstruments(logger),
	}
}

func (s *Synthesizer) ProviderName() string { return s.provider.Name() }
func (s *Synthesizer) Format() audio.Format { return s.opts.Format }

func (s *Synthesizer) Synthesize(ctx context.Context, chunk markup.Chunk) (audio.Chunk, error) {
	out := audio.Chunk{
		Index:   chunk.Index,
		Speaker: chunk.Speaker,
		Voice:   chunk.Voice,
		Segment: chunk.Segment,
		Excerpt: chunk.Excerpt(),
	}
	attrs := metric.WithAttributes(attribute.String("voice", chunk.Voice))
	s.metrics.requests.Add(ctx, 1, attrs)

	key := CacheKey(chunk.Voice, chunk.Markup, s.opts.Format, s.opts.SampleRate)
	if s.cache != nil {
		if data, ok := s.cache.Get(key); ok {
			s.metrics.cacheHits.Add(ctx, 1, attrs)
			out.Audio = data
			out.Cached = true
			out.DurationMS = s.duration(data, chunk)
			s.logger.Debug("synthesis cache hit", slog.Int("index", chunk.Index), slog.String("key", key[:12]))
			return out, nil
		}
	}

	data, err := s.callWithRetry(ctx, chunk)
	if err != nil {
		s.metrics.failures.Add(ctx, 1, attrs)
		return out, fmt.Errorf("synthesize chunk %d: %w", chunk.Index, err)
	}
	out.Audio = data
	out.DurationMS = s.duration(data, chunk)

	if s.cache != nil {
		if err := s.cache.Put(key, data); err != nil {
			s.logger.Warn("failed to cache synthesized audio", slog.Int("index", chunk.Index), slogError(err))
		}
	}
	return out, nil
}

func (s *Synthesizer) callWithRetry(ctx context.Context, chunk markup.Chunk) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryBaseDelay
	b.MaxInterval = s.opts.RetryMaxDelay
	b.Multiplier = 2

	req := Request{
		Text:       chunk.Markup,
		Voice:      chunk.Voice,
		Dialect:    chunk.Dialect,
		Format:     s.opts.Format,
		SampleRate: s.opts.SampleRate,
	}
	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()

		start := time.Now()
		data, err := s.provider.Synthesize(callCtx, req)
		s.metrics.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000)
		switch {
		case err == nil:
			return data, nil
		case errors.Is(err, ErrRateLimited):
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}
	notify := func(err error, next time.Duration) {
		s.metrics.retries.Add(ctx, 1)
		s.logger.Warn("provider throttled, backing off",
			slog.Int("index", chunk.Index),
			slog.Int("attempt", attempt),
			slog.Duration("wait", next),
			slogError(err))
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.RetryAttempts)),
		backoff.WithNotify(notify),
	)
}

// duration prefers the container's own length and falls back to the
// word-count estimate for empty placeholder audio.
func (s *Synthesizer) duration(data []byte, chunk markup.Chunk) int {
	if ms := audio.MeasureDurationMS(data, s.opts.Format, s.opts.SampleRate); ms > 0 {
		return ms
	}
	return spokenDurationMS(chunk.Text())
}

func (s *Synthesizer) Voices(ctx context.Context) ([]Voice, error) {
	return s.provider.Voices(ctx)
}

func (s *Synthesizer) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.provider.Health(ctx)
}

func (s *Synthesizer) ClearCache() (int, error) {
	if s.cache == nil {
		return 0, ErrCacheDisabled
	}
	n, err := s.cache.Clear()
	s.logger.Info("synthesis cache cleared", slog.Int("removed", n))
	return n, err
}

func (s *Synthesizer) CacheStats() (CacheStats, error) {
	if s.cache == nil {
		return CacheStats{}, ErrCacheDisabled
	}
	return s.cache.Stats()
}

// Cost is a pre-flight synthesis price estimate.
type Cost struct {
	Episodes         int     `json:"episodes"`
	Characters       int     `json:"characters"`
	BilledCharacters int     `json:"billed_characters"`
	PricePerMillion  float64 `json:"price_per_million"`
	USD              float64 `json:"usd"`
}

func (s *Synthesizer) EstimateCost(episodes ...*script.Episode) Cost {
	return EstimateCost(s.opts.PricePerMillion, episodes...)
}

// EstimateCost prices the spoken text with the markup overhead applied.
func EstimateCost(pricePerMillion float64, episodes ...*script.Episode) Cost {
	if pricePerMillion <= 0 {
		pricePerMillion = NeuralPricePerMillion
	}
	c := Cost{PricePerMillion: pricePerMillion}
	for _, ep := range episodes {
		if ep == nil {
			continue
		}
		c.Episodes++
		for _, t := range ep.AllTurns() {
			c.Characters += utf8.RuneCountInString(t.Text())
		}
	}
	// ceil(chars * 1.2) in integer arithmetic
	c.BilledCharacters = (c.Characters*12 + 9) / 10
	c.USD = math.Round(float64(c.BilledCharacters)*pricePerMillion/1e6*1e4) / 1e4
	return c
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
