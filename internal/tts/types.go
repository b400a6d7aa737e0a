package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/markup"
)

// Request contains parameters for a single provider call.
type Request struct {
	Text       string
	Voice      string
	Dialect    markup.Dialect
	Format     audio.Format
	SampleRate int
}

// Voice describes a voice offered by a provider.
type Voice struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Gender   string   `json:"gender,omitempty"`
	Language string   `json:"language,omitempty"`
	Engines  []string `json:"engines,omitempty"`
}

// Provider is the contract for a speech backend.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	Voices(ctx context.Context) ([]Voice, error)
	Health(ctx context.Context) error
}

// ErrRateLimited marks provider throttling. Only these errors are retried.
var ErrRateLimited = errors.New("speech provider rate limited")

func rateLimited(err error) error {
	return fmt.Errorf("%w: %w", ErrRateLimited, err)
}

func defaultVoices() []Voice {
	return []Voice{
		{ID: "Matthew", Name: "Matthew", Gender: "Male", Language: "en-US"},
		{ID: "Joanna", Name: "Joanna", Gender: "Female", Language: "en-US"},
	}
}
