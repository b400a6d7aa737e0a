// Package dialogue produces two-host episode scripts from lesson content.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/llm"
	"github.com/loqalabs/loqa-podcast/internal/script"
)

// Request describes the lesson a script should be written for.
type Request struct {
	SessionID     string
	Title         string
	Description   string
	Content       string
	KeyConcepts   []string
	LessonNumber  int
	TotalLessons  int
	TargetMinutes int
	SourceURL     string
}

func (r Request) normalized() Request {
	if r.LessonNumber <= 0 {
		r.LessonNumber = 1
	}
	if r.TotalLessons < r.LessonNumber {
		r.TotalLessons = r.LessonNumber
	}
	if r.TargetMinutes <= 0 {
		r.TargetMinutes = 10
	}
	if strings.TrimSpace(r.Title) == "" {
		r.Title = fmt.Sprintf("Lesson %d", r.LessonNumber)
	}
	return r
}

// Generator writes an episode script for a lesson.
type Generator interface {
	Generate(ctx context.Context, req Request) (*script.Episode, error)
	Health(ctx context.Context) error
}

// NewFromConfig builds the configured generator.
func NewFromConfig(cfg config.DialogueConfig, llmCfg config.LLMConfig, logger *slog.Logger) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(cfg.TargetTurns), nil
	case "llm":
		backend, err := llm.NewGenerator(llmCfg)
		if err != nil {
			return nil, err
		}
		opts, err := llm.OptionsFromConfig(llmCfg, cfg.Tier)
		if err != nil {
			return nil, err
		}
		return NewLLMGenerator(backend, opts, logger), nil
	}
	return nil, fmt.Errorf("unknown dialogue mode %q", cfg.Mode)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
