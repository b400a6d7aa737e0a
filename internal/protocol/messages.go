package protocol

import (
	"encoding/json"
	"time"
)

// SynthesisRequest asks a worker to render an episode. Exactly one of Script
// or Content should be set; Content is turned into a script by the dialogue
// generator first.
type SynthesisRequest struct {
	SessionID     string          `json:"session_id"`
	Script        json.RawMessage `json:"script,omitempty"`
	Content       string          `json:"content,omitempty"`
	ContentFormat string          `json:"content_format,omitempty"`
	Title         string          `json:"title,omitempty"`
	LessonNumber  int             `json:"lesson_number,omitempty"`
	TotalLessons  int             `json:"total_lessons,omitempty"`
	TargetMinutes int             `json:"target_minutes,omitempty"`
	SourceURL     string          `json:"source_url,omitempty"`
	Upload        bool            `json:"upload"`
}

// SynthesisAccepted is the reply to a SynthesisRequest.
type SynthesisAccepted struct {
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type JobStatusRequest struct {
	JobID     string `json:"job_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// JobStatusReply carries one job or every job of a session, as JSON
// snapshots.
type JobStatusReply struct {
	Job   json.RawMessage   `json:"job,omitempty"`
	Jobs  []json.RawMessage `json:"jobs,omitempty"`
	Error string            `json:"error,omitempty"`
}

type TranscriptRequest struct {
	Script json.RawMessage `json:"script"`
	Format string          `json:"format,omitempty"`
}

type TranscriptReply struct {
	Format      string `json:"format,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Text        string `json:"text,omitempty"`
	Error       string `json:"error,omitempty"`
}

// JobEvent is broadcast on every job status or progress change.
type JobEvent struct {
	JobID     string          `json:"job_id"`
	SessionID string          `json:"session_id"`
	Status    string          `json:"status"`
	Progress  float64         `json:"progress_percent"`
	Step      string          `json:"current_step"`
	Timestamp time.Time       `json:"timestamp"`
	Job       json.RawMessage `json:"job"`
}

const (
	SubjectSynthesisRequest  = "podcast.synthesis.request"
	SubjectJobStatus         = "podcast.job.status"
	SubjectTranscriptRequest = "podcast.transcript.request"
	SubjectJobEventPrefix    = "podcast.job"
)

// JobEventSubject is the subject a job event is published on.
func JobEventSubject(status string) string {
	return SubjectJobEventPrefix + "." + status
}
