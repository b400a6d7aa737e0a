package script

import (
	"fmt"
	"strings"
)

// Speaker identifies one of the podcast hosts.
type Speaker string

const (
	SpeakerAlex Speaker = "alex"
	SpeakerSam  Speaker = "sam"
)

type speakerInfo struct {
	display string
	voice   string
	role    string
}

var speakers = map[Speaker]speakerInfo{
	SpeakerAlex: {display: "Alex", voice: "Matthew", role: "Expert Host"},
	SpeakerSam:  {display: "Sam", voice: "Joanna", role: "Co-Host"},
}

// Speakers returns every known host in a stable order.
func Speakers() []Speaker { return []Speaker{SpeakerAlex, SpeakerSam} }

func ParseSpeaker(s string) (Speaker, error) {
	sp := Speaker(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := speakers[sp]; !ok {
		return "", fmt.Errorf("unknown speaker %q", s)
	}
	return sp, nil
}

func (s Speaker) Valid() bool {
	_, ok := speakers[s]
	return ok
}

func (s Speaker) DisplayName() string {
	if info, ok := speakers[s]; ok {
		return info.display
	}
	return string(s)
}

// DefaultVoice is the provider voice used when no override is configured.
func (s Speaker) DefaultVoice() string { return speakers[s].voice }

func (s Speaker) Role() string { return speakers[s].role }

func (s *Speaker) UnmarshalText(text []byte) error {
	sp, err := ParseSpeaker(string(text))
	if err != nil {
		return err
	}
	*s = sp
	return nil
}

// SegmentType classifies the narrative role of a turn or segment.
type SegmentType string

const (
	SegmentIntro      SegmentType = "intro"
	SegmentHook       SegmentType = "hook"
	SegmentDiscussion SegmentType = "discussion"
	SegmentExample    SegmentType = "example"
	SegmentQuestion   SegmentType = "question"
	SegmentAnswer     SegmentType = "answer"
	SegmentAnalogy    SegmentType = "analogy"
	SegmentRecap      SegmentType = "recap"
	SegmentOutro      SegmentType = "outro"
	SegmentTransition SegmentType = "transition"
)

var segmentNames = map[SegmentType]string{
	SegmentIntro:      "Introduction",
	SegmentHook:       "Hook",
	SegmentDiscussion: "Main Discussion",
	SegmentExample:    "Practical Example",
	SegmentQuestion:   "Q&A",
	SegmentAnswer:     "Explanation",
	SegmentAnalogy:    "Analogy",
	SegmentRecap:      "Recap",
	SegmentOutro:      "Conclusion",
	SegmentTransition: "Transition",
}

func ParseSegmentType(s string) (SegmentType, error) {
	t := SegmentType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := segmentNames[t]; !ok {
		return "", fmt.Errorf("unknown segment type %q", s)
	}
	return t, nil
}

func (t SegmentType) Valid() bool {
	_, ok := segmentNames[t]
	return ok
}

// DefaultName is the heading used for a segment when none is supplied.
func (t SegmentType) DefaultName() string {
	if name, ok := segmentNames[t]; ok {
		return name
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

func (t *SegmentType) UnmarshalText(text []byte) error {
	st, err := ParseSegmentType(string(text))
	if err != nil {
		return err
	}
	*t = st
	return nil
}

// Emotion is a tone hint that drives prosody.
type Emotion string

const (
	EmotionNeutral       Emotion = "neutral"
	EmotionExcited       Emotion = "excited"
	EmotionCurious       Emotion = "curious"
	EmotionThoughtful    Emotion = "thoughtful"
	EmotionEnthusiastic  Emotion = "enthusiastic"
	EmotionSurprised     Emotion = "surprised"
	EmotionEncouraging   Emotion = "encouraging"
	EmotionContemplative Emotion = "contemplative"
)

// Emotions lists every emotion in declaration order.
func Emotions() []Emotion {
	return []Emotion{
		EmotionNeutral, EmotionExcited, EmotionCurious, EmotionThoughtful,
		EmotionEnthusiastic, EmotionSurprised, EmotionEncouraging, EmotionContemplative,
	}
}

// pitch offsets in percent
var emotionPitch = map[Emotion]int{
	EmotionNeutral:       0,
	EmotionExcited:       10,
	EmotionCurious:       5,
	EmotionThoughtful:    -5,
	EmotionEnthusiastic:  15,
	EmotionSurprised:     20,
	EmotionEncouraging:   5,
	EmotionContemplative: -10,
}

func ParseEmotion(s string) (Emotion, error) {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := emotionPitch[e]; !ok {
		return "", fmt.Errorf("unknown emotion %q", s)
	}
	return e, nil
}

func (e Emotion) Valid() bool {
	_, ok := emotionPitch[e]
	return ok
}

// PitchOffset returns the relative pitch change in percent.
func (e Emotion) PitchOffset() int { return emotionPitch[e] }

// Pitch renders the offset the way prosody markup expects it, e.g. "+10%".
func (e Emotion) Pitch() string {
	return fmt.Sprintf("%+d%%", emotionPitch[e])
}

func (e *Emotion) UnmarshalText(text []byte) error {
	em, err := ParseEmotion(string(text))
	if err != nil {
		return err
	}
	*e = em
	return nil
}
