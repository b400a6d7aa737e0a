package dialogue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/llm"
	"github.com/loqalabs/loqa-podcast/internal/script"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const fencedScript = "Sure! Here is the script:\n```json\n" + `{"script": [
  {"speaker": "alex", "text": "Welcome to the show.", "segment_type": "intro"},
  {"speaker": "Sam", "text": "Glad to be here.", "segment_type": "intro", "emotion": "excited"},
  {"speaker": "alex", "text": "Caching stores answers.", "segment_type": "discussion"},
  {"speaker": "sam", "text": "   ", "segment_type": "discussion"},
  {"speaker": "narrator", "text": "So it is a shortcut?", "segment_type": "banter"},
  {"speaker": "sam", "text": "To recap, caches save work.", "segment_type": "recap"}
]}` + "\n```\nEnjoy!"

func TestLLMGeneratorOrganizesSegments(t *testing.T) {
	gen := NewLLMGenerator(llm.NewStaticGenerator(fencedScript), llm.Request{}, testLogger())
	ep, err := gen.Generate(context.Background(), Request{Title: "Caching", LessonNumber: 2, TotalLessons: 3, KeyConcepts: []string{"LRU"}})
	require.NoError(t, err)

	require.Len(t, ep.Segments, 3)
	assert.Equal(t, script.SegmentIntro, ep.Segments[0].Type)
	assert.Equal(t, "Introduction", ep.Segments[0].Name)
	assert.Equal(t, script.SegmentDiscussion, ep.Segments[1].Type)
	assert.Equal(t, 2, ep.Segments[1].Len())
	assert.Equal(t, script.SegmentRecap, ep.Segments[2].Type)

	turns := ep.AllTurns()
	require.Len(t, turns, 5)
	assert.Equal(t, script.SpeakerSam, turns[1].Speaker())
	assert.Equal(t, script.EmotionExcited, turns[1].Emotion())
	assert.Equal(t, script.SpeakerSam, turns[3].Speaker())
	assert.Equal(t, "Caching", ep.Title)
	assert.Equal(t, 2, ep.LessonNumber)
	assert.Equal(t, []string{"LRU"}, ep.KeyConcepts)
}

func TestLLMGeneratorRejectsGarbage(t *testing.T) {
	gen := NewLLMGenerator(llm.NewStaticGenerator("no json here"), llm.Request{}, testLogger())
	_, err := gen.Generate(context.Background(), Request{Title: "x"})
	assert.Error(t, err)

	gen = NewLLMGenerator(llm.NewStaticGenerator(`{"script": []}`), llm.Request{}, testLogger())
	_, err = gen.Generate(context.Background(), Request{Title: "x"})
	assert.ErrorIs(t, err, ErrEmptyScript)

	boom := errors.New("backend down")
	gen = NewLLMGenerator(llm.NewFailingGenerator(boom), llm.Request{}, testLogger())
	assert.ErrorIs(t, gen.Health(context.Background()), boom)
	_, err = gen.Generate(context.Background(), Request{Title: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestParseScriptVariants(t *testing.T) {
	for name, text := range map[string]string{
		"bare":   `{"script":[{"speaker":"alex","text":"hi"}]}`,
		"fenced": "```\n{\"script\":[{\"speaker\":\"alex\",\"text\":\"hi\"}]}\n```",
		"prose":  `Here you go {"script":[{"speaker":"alex","text":"hi"}]} thanks`,
	} {
		t.Run(name, func(t *testing.T) {
			raw, err := parseScript(text)
			require.NoError(t, err)
			require.Len(t, raw, 1)
			assert.Equal(t, "hi", raw[0].Text)
		})
	}
}

func TestBuildPromptMentionsLesson(t *testing.T) {
	prompt := buildPrompt(Request{Title: "Queues", LessonNumber: 2, TotalLessons: 3, TargetMinutes: 8, KeyConcepts: []string{"FIFO", "backpressure"}}.normalized())
	assert.Contains(t, prompt, "8-minute")
	assert.Contains(t, prompt, "TOPIC: Queues")
	assert.Contains(t, prompt, "FIFO, backpressure")
	assert.Contains(t, prompt, "lesson 2 of 3")
	assert.Contains(t, prompt, "previous lesson")
	assert.Contains(t, prompt, "next lesson")
}

func TestMockGenerator(t *testing.T) {
	gen := NewMockGenerator(12)
	ep, err := gen.Generate(context.Background(), Request{
		Title:       "Message Brokers",
		Content:     "Brokers decouple producers from consumers. Subjects route messages to subscribers. Short.",
		KeyConcepts: []string{"NATS", "subjects"},
	})
	require.NoError(t, err)
	assert.Equal(t, 12, ep.TurnCount())
	assert.True(t, ep.HasSegmentType(script.SegmentIntro))
	assert.True(t, ep.HasSegmentType(script.SegmentRecap))
	assert.True(t, ep.HasSegmentType(script.SegmentOutro))
	assert.Equal(t, 1, ep.LessonNumber)
	require.NoError(t, gen.Health(context.Background()))

	again, err := gen.Generate(context.Background(), Request{
		Title:       "Message Brokers",
		Content:     "Brokers decouple producers from consumers. Subjects route messages to subscribers. Short.",
		KeyConcepts: []string{"NATS", "subjects"},
	})
	require.NoError(t, err)
	assert.Equal(t, ep.AllTurns(), again.AllTurns())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gen.Generate(ctx, Request{Title: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	gen, err := NewFromConfig(cfg.Dialogue, cfg.LLM, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &MockGenerator{}, gen)

	cfg.Dialogue.Mode = "llm"
	gen, err = NewFromConfig(cfg.Dialogue, cfg.LLM, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &LLMGenerator{}, gen)

	cfg.Dialogue.Mode = "telepathy"
	_, err = NewFromConfig(cfg.Dialogue, cfg.LLM, testLogger())
	assert.Error(t, err)
}
