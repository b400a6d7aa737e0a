package coordinator

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/script"
	"github.com/loqalabs/loqa-podcast/internal/tts"
)

// Status is a job's position in the pipeline.
type Status string

const (
	StatusPending      Status = "pending"
	StatusGenerating   Status = "generating"
	StatusValidating   Status = "validating"
	StatusFormatting   Status = "formatting"
	StatusSynthesizing Status = "synthesizing"
	StatusStitching    Status = "stitching"
	StatusUploading    Status = "uploading"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// transitions lists the forward moves allowed from each state. failed is
// reachable from every non-terminal state and is not listed.
var transitions = map[Status][]Status{
	StatusPending:      {StatusGenerating, StatusValidating},
	StatusGenerating:   {StatusValidating},
	StatusValidating:   {StatusFormatting},
	StatusFormatting:   {StatusSynthesizing},
	StatusSynthesizing: {StatusStitching},
	StatusStitching:    {StatusUploading},
	StatusUploading:    {StatusCompleted},
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StorageType says where the finished audio lives.
type StorageType string

const (
	StorageLocal StorageType = "local"
	StorageMock  StorageType = "mock"
)

// ChunkFailure records one chunk that produced no audio.
type ChunkFailure struct {
	Index   int            `json:"index"`
	Speaker script.Speaker `json:"speaker"`
	Excerpt string         `json:"excerpt"`
	Stage   string         `json:"stage"`
	Error   string         `json:"error"`
}

// Result is the terminal success payload.
type Result struct {
	AudioURL        string              `json:"audio_url"`
	LocalPath       string              `json:"local_path,omitempty"`
	ObjectKey       string              `json:"object_key,omitempty"`
	StorageType     StorageType         `json:"storage_type"`
	Format          audio.Format        `json:"format"`
	StitchMode      audio.Mode          `json:"stitch_mode"`
	DurationMS      int                 `json:"duration_ms"`
	DurationSeconds float64             `json:"duration_seconds"`
	SegmentCount    int                 `json:"segment_count"`
	TotalWords      int                 `json:"total_words"`
	Chunks          int                 `json:"chunks"`
	CachedChunks    int                 `json:"cached_chunks"`
	Bytes           int                 `json:"bytes"`
	Cost            tts.Cost            `json:"cost"`
	Timings         []audio.ChunkTiming `json:"timings,omitempty"`
	Error           *string             `json:"error"`
}

// Job is a snapshot of one pipeline run. Values handed to callers are copies.
type Job struct {
	ID               string                   `json:"job_id"`
	SessionID        string                   `json:"session_id"`
	LessonNumber     int                      `json:"lesson_number"`
	Status           Status                   `json:"status"`
	Progress         float64                  `json:"progress_percent"`
	Step             string                   `json:"current_step"`
	CreatedAt        time.Time                `json:"created_at"`
	StartedAt        *time.Time               `json:"started_at"`
	CompletedAt      *time.Time               `json:"completed_at"`
	Title            string                   `json:"script_title"`
	TotalWords       int                      `json:"total_words"`
	EstimatedSeconds float64                  `json:"estimated_duration_seconds"`
	Validation       *script.ValidationReport `json:"validation,omitempty"`
	FailedChunks     []ChunkFailure           `json:"failed_chunks,omitempty"`
	Result           *Result                  `json:"result"`
	Error            string                   `json:"error,omitempty"`
}

func (j Job) clone() Job {
	out := j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Validation != nil {
		v := *j.Validation
		v.Issues = append([]string(nil), j.Validation.Issues...)
		v.Warnings = append([]string(nil), j.Validation.Warnings...)
		out.Validation = &v
	}
	out.FailedChunks = append([]ChunkFailure(nil), j.FailedChunks...)
	if j.Result != nil {
		r := *j.Result
		r.Timings = append([]audio.ChunkTiming(nil), j.Result.Timings...)
		if j.Result.Error != nil {
			msg := *j.Result.Error
			r.Error = &msg
		}
		out.Result = &r
	}
	return out
}

// advance moves the job forward, refusing moves the state machine forbids.
func (j *Job) advance(to Status, progress float64, step string) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("invalid job transition %s -> %s", j.Status, to)
	}
	j.Status = to
	j.Progress = progress
	j.Step = step
	return nil
}

func (j *Job) fail(err error, now time.Time) {
	if j.Status.Terminal() {
		return
	}
	j.Status = StatusFailed
	j.Error = err.Error()
	j.Step = "Failed"
	j.CompletedAt = &now
}

// BatchResult aggregates sequential runs over many episodes.
type BatchResult struct {
	TotalJobs            int     `json:"total_jobs"`
	CompletedJobs        int     `json:"completed_jobs"`
	FailedJobs           int     `json:"failed_jobs"`
	Jobs                 []Job   `json:"jobs"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
	TotalCostEstimate    float64 `json:"total_cost_estimate"`
}

// BatchEstimate is a pre-flight cost and length estimate for many episodes.
type BatchEstimate struct {
	Episodes                 int      `json:"episodes"`
	TotalWords               int      `json:"total_words"`
	EstimatedDurationSeconds float64  `json:"estimated_duration_seconds"`
	Cost                     tts.Cost `json:"cost"`
}

// ContentRequest starts a job from raw lesson text.
type ContentRequest struct {
	SessionID     string `json:"session_id"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	ContentFormat string `json:"content_format,omitempty"`
	LessonNumber  int    `json:"lesson_number"`
	TotalLessons  int    `json:"total_lessons"`
	TargetMinutes int    `json:"target_minutes"`
	SourceURL     string `json:"source_url,omitempty"`
	Upload        bool   `json:"upload"`
}

// HealthReport captures every dependency independently.
type HealthReport struct {
	Healthy bool                   `json:"healthy"`
	Checks  map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}
