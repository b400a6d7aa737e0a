package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/markup"
	"github.com/loqalabs/loqa-podcast/internal/script"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scriptedProvider struct {
	mu    sync.Mutex
	calls int
	errs  []error
	data  []byte
	reqs  []Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Synthesize(_ context.Context, req Request) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.reqs = append(p.reqs, req)
	if i := p.calls - 1; i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	return p.data, nil
}

func (p *scriptedProvider) Voices(context.Context) ([]Voice, error) { return defaultVoices(), nil }
func (p *scriptedProvider) Health(context.Context) error            { return nil }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func fastOptions() Options {
	return Options{
		Format:         audio.FormatMP3,
		SampleRate:     24000,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func testChunk() markup.Chunk {
	return markup.Chunk{
		Index:         3,
		Speaker:       script.SpeakerAlex,
		Voice:         "Matthew",
		Segment:       1,
		Markup:        `<speak><prosody rate="medium" pitch="+0%">Hello there friend.</prosody></speak>`,
		Dialect:       markup.DialectSSML,
		OriginalTexts: []string{"Hello there friend."},
	}
}

func TestThrottledCallsAreRetriedUntilSuccess(t *testing.T) {
	throttle := rateLimited(errors.New("slow down"))
	provider := &scriptedProvider{errs: []error{throttle, throttle}, data: make([]byte, 6000)}
	synth := NewSynthesizer(provider, nil, fastOptions(), testLogger())

	chunk, err := synth.Synthesize(context.Background(), testChunk())
	require.NoError(t, err)
	assert.Equal(t, 3, provider.callCount())
	assert.Equal(t, 1000, chunk.DurationMS)
	assert.Equal(t, 3, chunk.Index)
	assert.Equal(t, 1, chunk.Segment)
	assert.Equal(t, script.SpeakerAlex, chunk.Speaker)
	assert.False(t, chunk.Cached)
}

func TestThrottlingExhaustsRetryBudget(t *testing.T) {
	throttle := rateLimited(errors.New("slow down"))
	provider := &scriptedProvider{errs: []error{throttle, throttle, throttle, throttle}}
	synth := NewSynthesizer(provider, nil, fastOptions(), testLogger())

	_, err := synth.Synthesize(context.Background(), testChunk())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, provider.callCount())
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("invalid ssml")}}
	synth := NewSynthesizer(provider, nil, fastOptions(), testLogger())

	_, err := synth.Synthesize(context.Background(), testChunk())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, provider.callCount())
}

func TestRetryStopsOnCancellation(t *testing.T) {
	throttle := rateLimited(errors.New("slow down"))
	provider := &scriptedProvider{errs: []error{throttle, throttle, throttle}}
	opts := fastOptions()
	opts.RetryBaseDelay = time.Hour
	opts.RetryMaxDelay = time.Hour
	synth := NewSynthesizer(provider, nil, opts, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := synth.Synthesize(ctx, testChunk())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, provider.callCount())
}

func TestCacheHitSkipsProvider(t *testing.T) {
	cache, err := NewCache(t.TempDir(), "mp3", 4)
	require.NoError(t, err)
	provider := &scriptedProvider{data: []byte("fake mp3 frames")}
	synth := NewSynthesizer(provider, cache, fastOptions(), testLogger())

	first, err := synth.Synthesize(context.Background(), testChunk())
	require.NoError(t, err)
	second, err := synth.Synthesize(context.Background(), testChunk())
	require.NoError(t, err)

	assert.Equal(t, 1, provider.callCount())
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Audio, second.Audio)

	stats, err := synth.CacheStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)

	removed, err := synth.ClearCache()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = synth.Synthesize(context.Background(), testChunk())
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount())
}

func TestCacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	key := CacheKey("Joanna", "<speak>hi</speak>", audio.FormatWAV, 24000)
	first, err := NewCache(dir, "wav", 2)
	require.NoError(t, err)
	require.NoError(t, first.Put(key, []byte("audio")))
	require.NoError(t, first.Put(key, []byte("audio")))

	second, err := NewCache(dir, "wav", 2)
	require.NoError(t, err)
	data, ok := second.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("audio"), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.NotEqual(t, key, CacheKey("Matthew", "<speak>hi</speak>", audio.FormatWAV, 24000))
	assert.NotEqual(t, key, CacheKey("Joanna", "<speak>hi</speak>", audio.FormatMP3, 24000))
	assert.NotEqual(t, key, CacheKey("Joanna", "<speak>hi</speak>", audio.FormatWAV, 16000))
	assert.Equal(t, key, CacheKey("Joanna", "<speak>hi</speak>", audio.FormatWAV, 24000))
}

func TestCacheDisabled(t *testing.T) {
	synth := NewSynthesizer(&scriptedProvider{}, nil, fastOptions(), testLogger())
	_, err := synth.ClearCache()
	assert.ErrorIs(t, err, ErrCacheDisabled)
	_, err = synth.CacheStats()
	assert.ErrorIs(t, err, ErrCacheDisabled)
}

func TestMockProviderDurations(t *testing.T) {
	opts := fastOptions()
	opts.Format = audio.FormatWAV
	synth := NewSynthesizer(NewMockProvider(), nil, opts, testLogger())

	chunk := testChunk()
	chunk.OriginalTexts = []string{"one two three four five"}
	chunk.Markup = "<speak>one two three four five</speak>"
	out, err := synth.Synthesize(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, 2000, out.DurationMS)
	assert.NotEmpty(t, out.Audio)

	synth = NewSynthesizer(NewMockProvider(), nil, fastOptions(), testLogger())
	out, err = synth.Synthesize(context.Background(), chunk)
	require.NoError(t, err)
	assert.Empty(t, out.Audio)
	assert.Equal(t, 2000, out.DurationMS)
}

func TestEstimateCost(t *testing.T) {
	turn := script.MustTurn(script.SpeakerAlex, strings.Repeat("a", 1000))
	ep := script.NewEpisode("Costs", 1, 1, "pricing", nil, script.NewSegment("", script.SegmentIntro, turn))

	cost := EstimateCost(0, ep, ep)
	assert.Equal(t, 2, cost.Episodes)
	assert.Equal(t, 2000, cost.Characters)
	assert.Equal(t, 2400, cost.BilledCharacters)
	assert.InDelta(t, 0.0384, cost.USD, 1e-9)
}

func TestExecProvider(t *testing.T) {
	dir := t.TempDir()
	ok := writeScript(t, dir, "ok.sh", `cat > /dev/null
echo '{"audio_base64":"YWJj"}'
echo '{"audio_base64":"ZGVm","final":true}'
`)
	provider, err := NewExecProvider(ok + " --voice test")
	require.NoError(t, err)
	data, err := provider.Synthesize(context.Background(), Request{Text: "hi", Voice: "Joanna"})
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
	require.NoError(t, provider.Health(context.Background()))

	throttled := writeScript(t, dir, "throttled.sh", `cat > /dev/null
echo '{"error":"slow down","throttled":true}'
`)
	provider, err = NewExecProvider(throttled)
	require.NoError(t, err)
	_, err = provider.Synthesize(context.Background(), Request{Text: "hi"})
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = NewExecProvider("   ")
	assert.Error(t, err)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

type fakePolly struct {
	audio []byte
	err   error
	input *polly.SynthesizeSpeechInput
}

func (f *fakePolly) SynthesizeSpeech(_ context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(strings.NewReader(string(f.audio)))}, nil
}

func (f *fakePolly) DescribeVoices(context.Context, *polly.DescribeVoicesInput, ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &polly.DescribeVoicesOutput{}, nil
}

func TestPollyProvider(t *testing.T) {
	fake := &fakePolly{audio: make([]byte, 3200)}
	p := newPollyProvider(fake, "")

	data, err := p.Synthesize(context.Background(), Request{Text: "<speak>hi</speak>", Voice: "Joanna", Dialect: markup.DialectSSML, Format: audio.FormatWAV})
	require.NoError(t, err)
	assert.Equal(t, "ssml", string(fake.input.TextType))
	assert.Equal(t, "pcm", string(fake.input.OutputFormat))
	assert.Equal(t, 100, audio.MeasureDurationMS(data, audio.FormatWAV, 24000))

	_, err = p.Synthesize(context.Background(), Request{Text: "hi", Voice: "Joanna", Dialect: markup.DialectPlain, Format: audio.FormatMP3, SampleRate: 44100})
	require.NoError(t, err)
	assert.Equal(t, "text", string(fake.input.TextType))
	assert.Equal(t, "24000", *fake.input.SampleRate)

	fake.err = &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"}
	_, err = p.Synthesize(context.Background(), Request{Text: "hi", Voice: "Joanna", Format: audio.FormatMP3})
	assert.ErrorIs(t, err, ErrRateLimited)

	fake.err = &smithy.GenericAPIError{Code: "InvalidSsmlException", Message: "bad"}
	_, err = p.Synthesize(context.Background(), Request{Text: "hi", Voice: "Joanna", Format: audio.FormatMP3})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Error(t, p.Health(context.Background()))
}
