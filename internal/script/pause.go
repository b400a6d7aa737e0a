package script

import "time"

// PausePolicy picks silence between consecutive utterances. A segment
// transition wins over a speaker change, which wins over a continuation.
type PausePolicy struct {
	SegmentTransition time.Duration
	SpeakerChange     time.Duration
	SameSpeaker       time.Duration
}

func DefaultPausePolicy() PausePolicy {
	return PausePolicy{
		SegmentTransition: 800 * time.Millisecond,
		SpeakerChange:     600 * time.Millisecond,
		SameSpeaker:       250 * time.Millisecond,
	}
}

// Position locates an utterance for pause decisions.
type Position struct {
	Speaker Speaker
	Segment int
}

func (p PausePolicy) Between(prev, next Position) time.Duration {
	switch {
	case prev.Segment != next.Segment:
		return p.SegmentTransition
	case prev.Speaker != next.Speaker:
		return p.SpeakerChange
	default:
		return p.SameSpeaker
	}
}
