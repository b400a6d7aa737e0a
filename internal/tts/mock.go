package tts

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/script"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// mockProvider returns deterministic silence sized from the word count.
// Wav requests get a real silent wav; mp3 requests get no bytes and the
// synthesizer falls back to the word-count duration.
type mockProvider struct {
	delay time.Duration
}

func NewMockProvider() Provider {
	return &mockProvider{delay: 5 * time.Millisecond}
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.delay):
	}
	if req.Format != audio.FormatWAV {
		return []byte{}, nil
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = 24000
	}
	ms := spokenDurationMS(req.Text)
	return audio.EncodeWAV(make([]int, ms*rate/1000), rate)
}

func (m *mockProvider) Voices(context.Context) ([]Voice, error) {
	return defaultVoices(), nil
}

func (m *mockProvider) Health(context.Context) error { return nil }

// spokenDurationMS estimates speech length for markup or plain text.
func spokenDurationMS(text string) int {
	words := len(strings.Fields(tagPattern.ReplaceAllString(text, " ")))
	ms := int(float64(words) / script.WordsPerSecond * 1000)
	if ms < 100 {
		ms = 100
	}
	return ms
}
