package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	Tier        string
	MaxTokens   int
	Temperature float64
	// JSON asks the backend to constrain output to a JSON document.
	JSON bool
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
	Health(ctx context.Context) error
}

// OptionsFromConfig builds defaults from config.
func OptionsFromConfig(cfg config.LLMConfig, reqTier string) (Request, error) {
	req := Request{Tier: cfg.DefaultTier, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
	if reqTier != "" {
		req.Tier = reqTier
	}
	switch req.Tier {
	case "", "fast", "balanced":
	default:
		return Request{}, fmt.Errorf("unknown llm tier %q", req.Tier)
	}
	return req, nil
}

// NewGenerator selects the backend named by cfg.Mode.
func NewGenerator(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "ollama":
		timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
		return NewOllamaGenerator(cfg.Endpoint, cfg.ModelFast, cfg.ModelBalanced, timeout), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	}
	return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
}

// Complete drains a generation into a single string.
func Complete(ctx context.Context, g Generator, req Request) (string, Chunk, error) {
	var (
		b    strings.Builder
		last Chunk
	)
	err := g.Generate(ctx, req, func(c Chunk) error {
		b.WriteString(c.Content)
		last = c
		return nil
	})
	if err != nil {
		return "", last, err
	}
	return b.String(), last, nil
}
