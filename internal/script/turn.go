package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// WordsPerSecond is the speaking rate used for duration estimates.
	WordsPerSecond = 2.5

	DefaultPauseBeforeMS = 500
	DefaultPauseAfterMS  = 300
)

var ErrEmptyText = errors.New("turn text must not be empty")

// Turn is one speaker's utterance. Turns are immutable once built.
type Turn struct {
	speaker       Speaker
	text          string
	segmentType   SegmentType
	emotion       Emotion
	emphasis      []string
	pauseBeforeMS int
	pauseAfterMS  int
}

type TurnOption func(*Turn)

func WithSegmentType(t SegmentType) TurnOption {
	return func(turn *Turn) { turn.segmentType = t }
}

func WithEmotion(e Emotion) TurnOption {
	return func(turn *Turn) { turn.emotion = e }
}

func WithEmphasis(words ...string) TurnOption {
	return func(turn *Turn) {
		for _, w := range words {
			if w = strings.TrimSpace(w); w != "" {
				turn.emphasis = append(turn.emphasis, w)
			}
		}
	}
}

func WithPauses(beforeMS, afterMS int) TurnOption {
	return func(turn *Turn) {
		turn.pauseBeforeMS = beforeMS
		turn.pauseAfterMS = afterMS
	}
}

// NewTurn builds a turn, rejecting empty text and unknown enum values.
func NewTurn(speaker Speaker, text string, opts ...TurnOption) (Turn, error) {
	t := Turn{
		speaker:       speaker,
		text:          text,
		segmentType:   SegmentDiscussion,
		emotion:       EmotionNeutral,
		pauseBeforeMS: DefaultPauseBeforeMS,
		pauseAfterMS:  DefaultPauseAfterMS,
	}
	for _, opt := range opts {
		opt(&t)
	}
	if strings.TrimSpace(t.text) == "" {
		return Turn{}, ErrEmptyText
	}
	if !t.speaker.Valid() {
		return Turn{}, fmt.Errorf("unknown speaker %q", speaker)
	}
	if !t.segmentType.Valid() {
		return Turn{}, fmt.Errorf("unknown segment type %q", t.segmentType)
	}
	if !t.emotion.Valid() {
		return Turn{}, fmt.Errorf("unknown emotion %q", t.emotion)
	}
	if t.pauseBeforeMS < 0 || t.pauseAfterMS < 0 {
		return Turn{}, errors.New("turn pauses must be >= 0")
	}
	return t, nil
}

// MustTurn is NewTurn for literals known to be valid.
func MustTurn(speaker Speaker, text string, opts ...TurnOption) Turn {
	t, err := NewTurn(speaker, text, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Turn) Speaker() Speaker         { return t.speaker }
func (t Turn) Text() string             { return t.text }
func (t Turn) SegmentType() SegmentType { return t.segmentType }
func (t Turn) Emotion() Emotion         { return t.emotion }
func (t Turn) PauseBeforeMS() int       { return t.pauseBeforeMS }
func (t Turn) PauseAfterMS() int        { return t.pauseAfterMS }

func (t Turn) Emphasis() []string {
	return append([]string(nil), t.emphasis...)
}

func (t Turn) WordCount() int {
	return len(strings.Fields(t.text))
}

// EstimatedDuration returns the spoken length in seconds, pauses included.
func (t Turn) EstimatedDuration() float64 {
	return float64(t.WordCount())/WordsPerSecond + float64(t.pauseBeforeMS+t.pauseAfterMS)/1000
}

type turnJSON struct {
	Speaker       Speaker     `json:"speaker"`
	Text          string      `json:"text"`
	SegmentType   SegmentType `json:"segment_type,omitempty"`
	Emotion       Emotion     `json:"emotion,omitempty"`
	Emphasis      []string    `json:"emphasis_words,omitempty"`
	PauseBeforeMS *int        `json:"pause_before_ms,omitempty"`
	PauseAfterMS  *int        `json:"pause_after_ms,omitempty"`
}

func (t Turn) MarshalJSON() ([]byte, error) {
	before, after := t.pauseBeforeMS, t.pauseAfterMS
	return json.Marshal(turnJSON{
		Speaker:       t.speaker,
		Text:          t.text,
		SegmentType:   t.segmentType,
		Emotion:       t.emotion,
		Emphasis:      t.emphasis,
		PauseBeforeMS: &before,
		PauseAfterMS:  &after,
	})
}

func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw turnJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var opts []TurnOption
	if raw.SegmentType != "" {
		opts = append(opts, WithSegmentType(raw.SegmentType))
	}
	if raw.Emotion != "" {
		opts = append(opts, WithEmotion(raw.Emotion))
	}
	if len(raw.Emphasis) > 0 {
		opts = append(opts, WithEmphasis(raw.Emphasis...))
	}
	before, after := DefaultPauseBeforeMS, DefaultPauseAfterMS
	if raw.PauseBeforeMS != nil {
		before = *raw.PauseBeforeMS
	}
	if raw.PauseAfterMS != nil {
		after = *raw.PauseAfterMS
	}
	opts = append(opts, WithPauses(before, after))
	built, err := NewTurn(raw.Speaker, raw.Text, opts...)
	if err != nil {
		return err
	}
	*t = built
	return nil
}
