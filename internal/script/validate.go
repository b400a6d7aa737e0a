package script

import "fmt"

const (
	MinTurns           = 10
	MinDurationSeconds = 180
	MaxDurationSeconds = 900
	MinSpeakerBalance  = 1.2
	MaxSpeakerBalance  = 3.0
	MinAvgTurnWords    = 10
	MaxAvgTurnWords    = 100
)

// ValidationReport lists quality problems. Issues and warnings are advisory;
// synthesis proceeds regardless.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
	Metrics  Metrics  `json:"metrics"`
}

func (e *Episode) Validate() ValidationReport {
	r := ValidationReport{Issues: []string{}, Warnings: []string{}, Metrics: e.Metrics()}
	m := r.Metrics

	if m.TotalTurns < MinTurns {
		r.Issues = append(r.Issues, fmt.Sprintf("too few turns: %d (minimum %d)", m.TotalTurns, MinTurns))
	}

	switch {
	case m.DurationSeconds < MinDurationSeconds:
		r.Issues = append(r.Issues, fmt.Sprintf("episode too short: %.0fs (minimum %ds)", m.DurationSeconds, MinDurationSeconds))
	case m.DurationSeconds > MaxDurationSeconds:
		r.Warnings = append(r.Warnings, fmt.Sprintf("episode long: %.0fs (recommended maximum %ds)", m.DurationSeconds, MaxDurationSeconds))
	}

	if !e.HasSegmentType(SegmentIntro) {
		r.Issues = append(r.Issues, "missing intro segment")
	}
	if !e.HasSegmentType(SegmentOutro) {
		r.Issues = append(r.Issues, "missing outro segment")
	}

	balance := e.SpeakerBalance()
	switch {
	case balance < MinSpeakerBalance:
		r.Warnings = append(r.Warnings, fmt.Sprintf("%s speaks too little relative to %s (ratio %.2f)",
			SpeakerAlex.DisplayName(), SpeakerSam.DisplayName(), balance))
	case balance > MaxSpeakerBalance:
		r.Warnings = append(r.Warnings, fmt.Sprintf("%s dominates the conversation (ratio %.2f)",
			SpeakerAlex.DisplayName(), balance))
	}

	if m.TotalTurns > 0 {
		switch {
		case m.AvgTurnWords > MaxAvgTurnWords:
			r.Warnings = append(r.Warnings, fmt.Sprintf("turns are long on average: %.1f words", m.AvgTurnWords))
		case m.AvgTurnWords < MinAvgTurnWords:
			r.Warnings = append(r.Warnings, fmt.Sprintf("turns are short on average: %.1f words", m.AvgTurnWords))
		}
	}

	if len(e.KeyConcepts) == 0 {
		r.Warnings = append(r.Warnings, "no key concepts defined")
	}

	r.Valid = len(r.Issues) == 0
	return r
}
