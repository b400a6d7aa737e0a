package dialogue

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/loqalabs/loqa-podcast/internal/script"
)

var sentenceEnd = regexp.MustCompile(`[.!?]+\s+`)

// MockGenerator builds a deterministic script from the request itself. It
// never calls a model and is always healthy.
type MockGenerator struct {
	targetTurns int
}

func NewMockGenerator(targetTurns int) *MockGenerator {
	if targetTurns < 10 {
		targetTurns = 10
	}
	return &MockGenerator{targetTurns: targetTurns}
}

func (m *MockGenerator) Health(context.Context) error { return nil }

func (m *MockGenerator) Generate(ctx context.Context, req Request) (*script.Episode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req = req.normalized()
	concepts := req.KeyConcepts
	if len(concepts) == 0 {
		concepts = []string{req.Title}
	}
	facts := sentences(req.Content)

	intro := script.NewSegment("", script.SegmentIntro,
		script.MustTurn(script.SpeakerAlex, fmt.Sprintf("Welcome back to Tech Explained. Today we are digging into %s, lesson %d of %d.", req.Title, req.LessonNumber, req.TotalLessons),
			script.WithSegmentType(script.SegmentIntro), script.WithEmotion(script.EmotionEnthusiastic)),
		script.MustTurn(script.SpeakerSam, fmt.Sprintf("I have been looking forward to this one. I keep hearing about %s and I want to really get it.", concepts[0]),
			script.WithSegmentType(script.SegmentIntro), script.WithEmotion(script.EmotionExcited)),
	)

	// intro, example pair, recap and outro account for the fixed turns
	discussionTurns := m.targetTurns - 6
	var turns []script.Turn
	for i := 0; len(turns) < discussionTurns; i++ {
		concept := concepts[i%len(concepts)]
		fact := fmt.Sprintf("The short version is that %s is worth understanding from first principles.", concept)
		if len(facts) > 0 {
			fact = facts[i%len(facts)]
		}
		turns = append(turns,
			script.MustTurn(script.SpeakerSam, fmt.Sprintf("So what should people know about %s?", concept),
				script.WithEmotion(script.EmotionCurious)),
			script.MustTurn(script.SpeakerAlex, fact+" Think of it like a recipe you can follow step by step.",
				script.WithEmphasis(concept)),
		)
	}
	discussion := script.NewSegment("", script.SegmentDiscussion, turns[:discussionTurns]...)

	example := script.NewSegment("", script.SegmentExample,
		script.MustTurn(script.SpeakerAlex, fmt.Sprintf("Here is a practical case. Imagine a team adopting %s in a service they already run.", concepts[0]),
			script.WithSegmentType(script.SegmentExample)),
		script.MustTurn(script.SpeakerSam, "Oh, that makes it click. You start small and grow it as the need shows up.",
			script.WithSegmentType(script.SegmentExample), script.WithEmotion(script.EmotionSurprised)),
	)
	recap := script.NewSegment("", script.SegmentRecap,
		script.MustTurn(script.SpeakerSam, fmt.Sprintf("Let me sum up. We covered %s.", strings.Join(concepts, ", ")),
			script.WithSegmentType(script.SegmentRecap), script.WithEmotion(script.EmotionThoughtful)),
	)
	outro := script.NewSegment("", script.SegmentOutro,
		script.MustTurn(script.SpeakerAlex, "Thanks for listening. See you in the next lesson.",
			script.WithSegmentType(script.SegmentOutro), script.WithEmotion(script.EmotionEncouraging)),
	)

	ep := script.NewEpisode(req.Title, req.LessonNumber, req.TotalLessons, req.Description, req.KeyConcepts,
		intro, discussion, example, recap, outro)
	ep.SourceURL = req.SourceURL
	return ep, nil
}

func sentences(text string) []string {
	var out []string
	for _, s := range sentenceEnd.Split(strings.TrimSpace(text), -1) {
		s = strings.TrimSpace(s)
		if len(strings.Fields(s)) < 4 {
			continue
		}
		if !strings.ContainsAny(s[len(s)-1:], ".!?") {
			s += "."
		}
		out = append(out, s)
	}
	return out
}
