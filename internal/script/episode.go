package script

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Segment is an ordered, named group of turns sharing a narrative role.
type Segment struct {
	Name  string
	Type  SegmentType
	Topic string
	turns []Turn
}

// NewSegment copies turns; an empty name falls back to the type's default.
func NewSegment(name string, typ SegmentType, turns ...Turn) Segment {
	if strings.TrimSpace(name) == "" {
		name = typ.DefaultName()
	}
	return Segment{Name: name, Type: typ, turns: append([]Turn(nil), turns...)}
}

func (s Segment) Turns() []Turn { return append([]Turn(nil), s.turns...) }

func (s Segment) Len() int { return len(s.turns) }

func (s Segment) Duration() float64 {
	var total float64
	for _, t := range s.turns {
		total += t.EstimatedDuration()
	}
	return total
}

func (s Segment) WordCount() int {
	var total int
	for _, t := range s.turns {
		total += t.WordCount()
	}
	return total
}

type segmentJSON struct {
	Name  string      `json:"name"`
	Type  SegmentType `json:"segment_type"`
	Topic string      `json:"topic,omitempty"`
	Turns []Turn      `json:"turns"`
}

func (s Segment) MarshalJSON() ([]byte, error) {
	turns := s.turns
	if turns == nil {
		turns = []Turn{}
	}
	return json.Marshal(segmentJSON{Name: s.Name, Type: s.Type, Topic: s.Topic, Turns: turns})
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw segmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	seg := NewSegment(raw.Name, raw.Type, raw.Turns...)
	seg.Topic = raw.Topic
	*s = seg
	return nil
}

// Episode is a complete dialogue script. The pipeline treats Segments as
// read-only once a job has started.
type Episode struct {
	Title            string    `json:"title"`
	LessonNumber     int       `json:"lesson_number"`
	TotalLessons     int       `json:"total_lessons"`
	TopicDescription string    `json:"topic_description,omitempty"`
	KeyConcepts      []string  `json:"key_concepts,omitempty"`
	Segments         []Segment `json:"segments"`
	CreatedAt        time.Time `json:"created_at"`
	SourceURL        string    `json:"source_url,omitempty"`
}

func NewEpisode(title string, lesson, total int, topic string, concepts []string, segments ...Segment) *Episode {
	return &Episode{
		Title:            title,
		LessonNumber:     lesson,
		TotalLessons:     total,
		TopicDescription: topic,
		KeyConcepts:      DedupeConcepts(concepts),
		Segments:         append([]Segment(nil), segments...),
		CreatedAt:        time.Now().UTC(),
	}
}

func (e *Episode) AddSegment(s Segment) {
	e.Segments = append(e.Segments, s)
}

func (e *Episode) UnmarshalJSON(data []byte) error {
	type plain Episode
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Episode(raw)
	e.KeyConcepts = DedupeConcepts(e.KeyConcepts)
	return nil
}

// DedupeConcepts keeps the first occurrence of each concept, ignoring case.
func DedupeConcepts(concepts []string) []string {
	seen := make(map[string]struct{}, len(concepts))
	var out []string
	for _, c := range concepts {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// AllTurns flattens segments in script order.
func (e *Episode) AllTurns() []Turn {
	var turns []Turn
	for _, s := range e.Segments {
		turns = append(turns, s.turns...)
	}
	return turns
}

func (e *Episode) TurnCount() int {
	var n int
	for _, s := range e.Segments {
		n += len(s.turns)
	}
	return n
}

// TotalDuration is the estimated runtime in seconds.
func (e *Episode) TotalDuration() float64 {
	var total float64
	for _, s := range e.Segments {
		total += s.Duration()
	}
	return total
}

func (e *Episode) TotalWords() int {
	var total int
	for _, s := range e.Segments {
		total += s.WordCount()
	}
	return total
}

func (e *Episode) WordsBySpeaker() map[Speaker]int {
	counts := make(map[Speaker]int, len(speakers))
	for _, sp := range Speakers() {
		counts[sp] = 0
	}
	for _, s := range e.Segments {
		for _, t := range s.turns {
			counts[t.speaker] += t.WordCount()
		}
	}
	return counts
}

// SpeakerBalance is alex words divided by sam words, +Inf when sam is silent.
func (e *Episode) SpeakerBalance() float64 {
	counts := e.WordsBySpeaker()
	if counts[SpeakerSam] == 0 {
		return math.Inf(1)
	}
	return float64(counts[SpeakerAlex]) / float64(counts[SpeakerSam])
}

func (e *Episode) HasSegmentType(t SegmentType) bool {
	for _, s := range e.Segments {
		if s.Type == t {
			return true
		}
	}
	return false
}

// Metrics is a JSON friendly snapshot of the derived values.
type Metrics struct {
	TotalTurns      int             `json:"total_turns"`
	TotalWords      int             `json:"total_words"`
	DurationSeconds float64         `json:"duration_seconds"`
	WordsBySpeaker  map[Speaker]int `json:"words_by_speaker"`
	SpeakerBalance  *float64        `json:"speaker_balance,omitempty"`
	AvgTurnWords    float64         `json:"avg_turn_words"`
	SegmentCount    int             `json:"segment_count"`
}

func (e *Episode) Metrics() Metrics {
	m := Metrics{
		TotalTurns:      e.TurnCount(),
		TotalWords:      e.TotalWords(),
		DurationSeconds: e.TotalDuration(),
		WordsBySpeaker:  e.WordsBySpeaker(),
		SegmentCount:    len(e.Segments),
	}
	if b := e.SpeakerBalance(); !math.IsInf(b, 0) {
		m.SpeakerBalance = &b
	}
	if m.TotalTurns > 0 {
		m.AvgTurnWords = float64(m.TotalWords) / float64(m.TotalTurns)
	}
	return m
}
