package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-podcast/internal/script"
)

const testRate = 24000

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func tone(t *testing.T, ms int, amplitude float64) []byte {
	t.Helper()
	n := ms * testRate / 1000
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(amplitude * math.Sin(2*math.Pi*440*float64(i)/testRate))
	}
	data, err := EncodeWAV(samples, testRate)
	require.NoError(t, err)
	return data
}

func wavStitcher(t *testing.T, mutate func(*Config)) Stitcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Format = FormatWAV
	cfg.SampleRate = testRate
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewStitcher(cfg, testLogger())
	require.NoError(t, err)
	require.Equal(t, ModeProcessing, s.Mode())
	return s
}

func TestProcessingStitchDurationIsSumPlusPauses(t *testing.T) {
	s := wavStitcher(t, nil)
	chunks := []Chunk{
		{Index: 2, Speaker: script.SpeakerSam, Segment: 1, Audio: tone(t, 250, 6000), DurationMS: 250},
		{Index: 0, Speaker: script.SpeakerAlex, Segment: 0, Audio: tone(t, 500, 6000), DurationMS: 500},
		{Index: 3, Speaker: script.SpeakerSam, Segment: 1, Audio: tone(t, 100, 6000), DurationMS: 100},
		{Index: 1, Speaker: script.SpeakerSam, Segment: 0, Audio: tone(t, 300, 6000), DurationMS: 300},
	}
	res, err := s.Stitch(chunks)
	require.NoError(t, err)

	var sum int
	for _, c := range chunks {
		sum += c.DurationMS
	}
	// speaker change 600 + segment transition 800 + same speaker 250
	assert.Equal(t, 1650, res.PauseMS)
	assert.Equal(t, sum+res.PauseMS, res.DurationMS)
	assert.Equal(t, 2800, res.DurationMS)
	assert.Empty(t, res.Skipped)

	require.Len(t, res.Chunks, 4)
	for i, c := range res.Chunks {
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, 0, res.Chunks[0].OffsetMS)
	assert.Equal(t, 1100, res.Chunks[1].OffsetMS)

	info := s.Info(res.Audio)
	assert.False(t, info.Estimated)
	assert.Equal(t, res.DurationMS, info.DurationMS)
	assert.Equal(t, ModeProcessing, info.Mode)
}

func TestProcessingZeroPauseOverlaps(t *testing.T) {
	s := wavStitcher(t, func(c *Config) { c.Pauses = script.PausePolicy{} })
	res, err := s.Stitch([]Chunk{
		{Index: 0, Speaker: script.SpeakerAlex, Audio: tone(t, 400, 5000), DurationMS: 400},
		{Index: 1, Speaker: script.SpeakerSam, Audio: tone(t, 400, 5000), DurationMS: 400},
	})
	require.NoError(t, err)
	assert.Equal(t, 50, res.OverlapMS)
	assert.Equal(t, 800-res.OverlapMS, res.DurationMS)
}

func TestProcessingSkipsUndecodableChunk(t *testing.T) {
	s := wavStitcher(t, nil)
	res, err := s.Stitch([]Chunk{
		{Index: 0, Speaker: script.SpeakerAlex, Audio: tone(t, 200, 5000), DurationMS: 200},
		{Index: 1, Speaker: script.SpeakerSam, Audio: []byte("not audio at all"), DurationMS: 999},
		{Index: 2, Speaker: script.SpeakerAlex, Audio: tone(t, 200, 5000), DurationMS: 200},
	})
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 1, res.Skipped[0].Index)
	// alex follows alex once the middle chunk is dropped
	assert.Equal(t, 250, res.PauseMS)
	assert.Equal(t, 650, res.DurationMS)
}

func TestProcessingFailsWhenNothingDecodes(t *testing.T) {
	s := wavStitcher(t, nil)
	_, err := s.Stitch([]Chunk{{Index: 0, Audio: []byte("junk"), DurationMS: 10}})
	require.Error(t, err)

	_, err = s.Stitch(nil)
	require.ErrorIs(t, err, ErrNoChunks)
}

func TestProcessingRendersPlaceholderChunksAsSilence(t *testing.T) {
	s := wavStitcher(t, func(c *Config) { c.Normalize = false })
	res, err := s.Stitch([]Chunk{
		{Index: 0, Speaker: script.SpeakerAlex, DurationMS: 1000},
		{Index: 1, Speaker: script.SpeakerAlex, DurationMS: 500},
	})
	require.NoError(t, err)
	assert.Equal(t, 1750, res.DurationMS)
}

func TestProcessingNormalizesLoudness(t *testing.T) {
	s := wavStitcher(t, nil)
	res, err := s.Stitch([]Chunk{{Index: 0, Speaker: script.SpeakerAlex, Audio: tone(t, 1000, 1000), DurationMS: 1000}})
	require.NoError(t, err)
	info := s.Info(res.Audio)
	require.NotNil(t, info.LoudnessDBFS)
	assert.InDelta(t, -16, *info.LoudnessDBFS, 0.2)
}

func TestConcatStitchIsPureConcatenation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "concat"
	s, err := NewStitcher(cfg, testLogger())
	require.NoError(t, err)
	require.Equal(t, ModeConcat, s.Mode())

	a := bytes.Repeat([]byte{0xAA}, 1000)
	b := bytes.Repeat([]byte{0xBB}, 1000)
	res, err := s.Stitch([]Chunk{
		{Index: 1, Speaker: script.SpeakerSam, Audio: b, DurationMS: 500},
		{Index: 0, Speaker: script.SpeakerAlex, Audio: a, DurationMS: 500},
	})
	require.NoError(t, err)
	assert.Len(t, res.Audio, 2000)
	assert.Equal(t, 1000, res.DurationMS)
	assert.Equal(t, 0, res.PauseMS)
	assert.Equal(t, append(append([]byte(nil), a...), b...), res.Audio)
	assert.Equal(t, ModeConcat, res.Mode)

	info := s.Info(res.Audio)
	assert.Equal(t, ModeConcat, info.Mode)
	assert.True(t, info.Estimated)

	assert.Equal(t, res.Audio, s.AddIntroMusic(res.Audio, a))
	parts, err := s.Split(res.Audio, []time.Duration{100 * time.Millisecond})
	require.NoError(t, err)
	assert.Len(t, parts, 1)
}

func TestNewStitcherSelection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = FormatMP3
	cfg.FFmpegPath = "/nonexistent/ffmpeg-for-tests"

	s, err := NewStitcher(cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, ModeConcat, s.Mode())

	cfg.Mode = "processing"
	_, err = NewStitcher(cfg, testLogger())
	require.Error(t, err)

	cfg.Mode = "fancy"
	_, err = NewStitcher(cfg, testLogger())
	require.Error(t, err)
}

func TestMusicOverlayIsBestEffort(t *testing.T) {
	s := wavStitcher(t, nil)
	main := tone(t, 3000, 4000)

	assert.Equal(t, main, s.AddIntroMusic(main, []byte("garbage")))
	assert.Equal(t, main, s.AddOutroMusic(main, nil))
	assert.Equal(t, []byte("garbage"), s.AddOutroMusic([]byte("garbage"), main))

	withIntro := s.AddIntroMusic(main, tone(t, 1000, 8000))
	assert.NotEqual(t, main, withIntro)
	assert.Equal(t, 3000, s.Info(withIntro).DurationMS)

	withOutro := s.AddOutroMusic(main, tone(t, 5000, 8000))
	assert.Equal(t, 3000, s.Info(withOutro).DurationMS)
}

func TestSplitAtTimestamps(t *testing.T) {
	s := wavStitcher(t, nil)
	data := tone(t, 1000, 4000)
	parts, err := s.Split(data, []time.Duration{600 * time.Millisecond, 250 * time.Millisecond, 5 * time.Second})
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, 250, s.Info(parts[0]).DurationMS)
	assert.Equal(t, 350, s.Info(parts[1]).DurationMS)
	assert.Equal(t, 400, s.Info(parts[2]).DurationMS)

	_, err = s.Split([]byte("nope"), nil)
	require.Error(t, err)
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 1000, EstimateDurationMS(6000, FormatMP3, 24000))
	assert.Equal(t, 1000, EstimateDurationMS(44+48000, FormatWAV, 24000))
	assert.Equal(t, 0, EstimateDurationMS(0, FormatMP3, 24000))

	// header-derived duration ignores the configured rate
	assert.Equal(t, 500, MeasureDurationMS(tone(t, 500, 1000), FormatWAV, 8000))
	assert.Equal(t, 2000, MeasureDurationMS(make([]byte, 12000), FormatMP3, 24000))

	wrapped, err := WAVFromPCM16(make([]byte, 3200), 16000)
	require.NoError(t, err)
	assert.Equal(t, 100, MeasureDurationMS(wrapped, FormatWAV, 24000))
}

type fakeRunner struct {
	args  []string
	stdin []byte
	out   []byte
}

func (f *fakeRunner) Run(_ context.Context, _ string, args []string, stdin []byte) ([]byte, error) {
	f.args = args
	f.stdin = stdin
	return f.out, nil
}

func TestFFmpegCodecPipesRawPCM(t *testing.T) {
	raw := make([]byte, 6)
	for i, v := range []int16{1, -2, 300} {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(v))
	}
	runner := &fakeRunner{out: raw}
	codec := NewFFmpegCodec("ffmpeg", FormatMP3, testRate, "", runner)

	buf, err := codec.Decode([]byte("mp3 bytes"))
	require.NoError(t, err)
	assert.Equal(t, []int{1, -2, 300}, buf.Data)
	assert.Contains(t, runner.args, "24000")
	assert.Equal(t, []byte("mp3 bytes"), runner.stdin)

	runner.out = []byte("encoded")
	out, err := codec.Encode(monoBuffer([]int{1, -2, 300}, testRate))
	require.NoError(t, err)
	assert.Equal(t, []byte("encoded"), out)
	assert.Equal(t, raw, runner.stdin)
	assert.Contains(t, runner.args, "libmp3lame")
	assert.Contains(t, runner.args, "48k")

	_, err = codec.Decode(nil)
	require.Error(t, err)
}
