package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-podcast/internal/llm"
	"github.com/loqalabs/loqa-podcast/internal/script"
)

// maxContentChars bounds the source text placed in the prompt.
const maxContentChars = 12000

var ErrEmptyScript = errors.New("model returned no usable dialogue")

// LLMGenerator prompts a language model for a JSON script.
type LLMGenerator struct {
	backend  llm.Generator
	defaults llm.Request
	logger   *slog.Logger
}

func NewLLMGenerator(backend llm.Generator, defaults llm.Request, logger *slog.Logger) *LLMGenerator {
	return &LLMGenerator{
		backend:  backend,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "dialogue")),
	}
}

func (g *LLMGenerator) Health(ctx context.Context) error {
	return g.backend.Health(ctx)
}

func (g *LLMGenerator) Generate(ctx context.Context, req Request) (*script.Episode, error) {
	req = req.normalized()
	opts := g.defaults
	opts.SessionID = req.SessionID
	opts.System = systemPrompt
	opts.Prompt = buildPrompt(req)
	opts.JSON = true
	if opts.Temperature == 0 {
		opts.Temperature = 0.8
	}

	g.logger.Info("generating episode script",
		slog.String("title", req.Title),
		slog.Int("lesson", req.LessonNumber),
		slog.Int("target_minutes", req.TargetMinutes))
	text, last, err := llm.Complete(ctx, g.backend, opts)
	if err != nil {
		return nil, fmt.Errorf("generate dialogue: %w", err)
	}
	raw, err := parseScript(text)
	if err != nil {
		g.logger.Warn("unparseable model output", slog.String("excerpt", excerpt(text, 200)), slogError(err))
		return nil, err
	}
	segments, skipped := organize(raw)
	if len(segments) == 0 {
		return nil, ErrEmptyScript
	}
	ep := script.NewEpisode(req.Title, req.LessonNumber, req.TotalLessons, req.Description, req.KeyConcepts, segments...)
	ep.SourceURL = req.SourceURL

	report := ep.Validate()
	if !report.Valid {
		g.logger.Warn("generated script has issues", slog.Any("issues", report.Issues))
	}
	g.logger.Info("generated episode script",
		slog.Int("turns", ep.TurnCount()),
		slog.Int("skipped", skipped),
		slog.Float64("estimated_seconds", ep.TotalDuration()),
		slog.Int("completion_tokens", last.CompletionTokens))
	return ep, nil
}

const systemPrompt = `You are a scriptwriter for an educational podcast called "Tech Explained". You write natural two-host dialogue and answer with JSON only.`

func buildPrompt(req Request) string {
	concepts := "none specified"
	if len(req.KeyConcepts) > 0 {
		concepts = strings.Join(req.KeyConcepts, ", ")
	}
	var lessonCtx strings.Builder
	fmt.Fprintf(&lessonCtx, "This is lesson %d of %d.", req.LessonNumber, req.TotalLessons)
	if req.LessonNumber > 1 {
		lessonCtx.WriteString(" Briefly connect to the previous lesson in the intro.")
	}
	if req.LessonNumber < req.TotalLessons {
		lessonCtx.WriteString(" Tease the next lesson in the outro.")
	}

	return fmt.Sprintf(`Write a dialogue script for a %d-minute episode.

HOSTS:
- Alex: senior software engineer. Patient, uses analogies, explains complex topics simply.
- Sam: junior developer. Curious, asks the questions listeners would ask, summarizes well.

TOPIC: %s
DESCRIPTION: %s
KEY CONCEPTS TO COVER: %s

SOURCE CONTENT:
%s

EPISODE STRUCTURE:
1. intro: Alex welcomes listeners and introduces the topic
2. discussion: back-and-forth on the concepts, Sam asks clarifying questions
3. example: real-world applications
4. recap: Sam summarizes the key takeaways
5. outro: Alex thanks listeners

LESSON CONTEXT: %s

Return the script as JSON in exactly this shape:
{"script": [{"speaker": "alex", "text": "...", "segment_type": "intro", "emotion": "enthusiastic"}]}

Each text should be 2-4 sentences. speaker is alex or sam. emotion is optional.`,
		req.TargetMinutes, req.Title, req.Description, concepts,
		excerpt(req.Content, maxContentChars), lessonCtx.String())
}

type rawTurn struct {
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	SegmentType string `json:"segment_type"`
	Emotion     string `json:"emotion"`
}

type rawScript struct {
	Script []rawTurn `json:"script"`
}

// parseScript accepts bare JSON, fenced JSON, or JSON surrounded by prose.
func parseScript(text string) ([]rawTurn, error) {
	text = strings.TrimSpace(text)
	var out rawScript
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out.Script, nil
	}
	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		body = strings.TrimPrefix(body, "json")
		if end := strings.Index(body, "```"); end >= 0 {
			text = strings.TrimSpace(body[:end])
		}
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("invalid script json: %w", err)
	}
	return out.Script, nil
}

// organize groups contiguous turns of one segment type into segments.
// Unknown speakers map to sam, unknown types to discussion; empty turns drop.
func organize(raw []rawTurn) ([]script.Segment, int) {
	var (
		segments []script.Segment
		current  []script.Turn
		curType  script.SegmentType
		skipped  int
	)
	flush := func() {
		if len(current) > 0 {
			segments = append(segments, script.NewSegment("", curType, current...))
		}
		current = nil
	}
	for _, r := range raw {
		speaker := script.SpeakerSam
		if strings.EqualFold(strings.TrimSpace(r.Speaker), string(script.SpeakerAlex)) {
			speaker = script.SpeakerAlex
		}
		typ, err := script.ParseSegmentType(r.SegmentType)
		if err != nil {
			typ = script.SegmentDiscussion
		}
		emotion, err := script.ParseEmotion(r.Emotion)
		if err != nil {
			emotion = script.EmotionNeutral
		}
		turn, err := script.NewTurn(speaker, strings.TrimSpace(r.Text), script.WithSegmentType(typ), script.WithEmotion(emotion))
		if err != nil {
			skipped++
			continue
		}
		if typ != curType {
			flush()
			curType = typ
		}
		current = append(current, turn)
	}
	flush()
	return segments, skipped
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
