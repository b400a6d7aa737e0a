// Package coordinator drives episodes through validation, chunking,
// synthesis, stitching and storage, and tracks every run as a job.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/dialogue"
	"github.com/loqalabs/loqa-podcast/internal/jobstore"
	"github.com/loqalabs/loqa-podcast/internal/markup"
	"github.com/loqalabs/loqa-podcast/internal/script"
	"github.com/loqalabs/loqa-podcast/internal/storage"
	"github.com/loqalabs/loqa-podcast/internal/tts"
)

var (
	ErrGeneratorUnavailable = errors.New("script generator unavailable")
	ErrClosed               = errors.New("coordinator closed")
)

// Synthesizer is the slice of the speech synthesizer the pipeline uses.
type Synthesizer interface {
	Synthesize(ctx context.Context, chunk markup.Chunk) (audio.Chunk, error)
	Health(ctx context.Context) error
	EstimateCost(episodes ...*script.Episode) tts.Cost
	ProviderName() string
}

// Chunker splits an episode into single-voice markup chunks.
type Chunker interface {
	Chunks(ep *script.Episode) []markup.Chunk
}

// Deps are the collaborators a coordinator drives. Objects, Generator and
// Store are optional.
type Deps struct {
	Chunker     Chunker
	Synthesizer Synthesizer
	Stitcher    audio.Stitcher
	Local       *storage.LocalStore
	Objects     storage.ObjectStore
	Generator   dialogue.Generator
	Store       *jobstore.Store
}

type Options struct {
	MaxConcurrentRequests int
	JobTimeout            time.Duration
	StoragePrefix         string
	PresignTTL            time.Duration
	IntroMusic            []byte
	OutroMusic            []byte
	KeyConcepts           int
	HealthTimeout         time.Duration
}

func OptionsFromConfig(cfg config.CoordinatorConfig, storageCfg config.StorageConfig) Options {
	return Options{
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
		JobTimeout:            time.Duration(cfg.JobTimeoutMS) * time.Millisecond,
		StoragePrefix:         storageCfg.Prefix,
		PresignTTL:            time.Duration(storageCfg.PresignTTLSeconds) * time.Second,
	}
}

// ProgressFunc observes job snapshots. Errors and panics are logged and never
// affect the job.
type ProgressFunc func(Job) error

type Coordinator struct {
	deps    Deps
	opts    Options
	logger  *slog.Logger
	tracker *tracker
	tracer  trace.Tracer
	metrics instruments
	clock   func() time.Time

	mu        sync.RWMutex
	callbacks []ProgressFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// guards closed and every wg.Add so none races with Close's Wait
	lifeMu sync.Mutex
	closed bool
}

func New(parent context.Context, deps Deps, opts Options, logger *slog.Logger) (*Coordinator, error) {
	if deps.Chunker == nil || deps.Synthesizer == nil || deps.Stitcher == nil || deps.Local == nil {
		return nil, errors.New("coordinator requires a chunker, synthesizer, stitcher and local store")
	}
	if opts.MaxConcurrentRequests <= 0 {
		opts.MaxConcurrentRequests = 5
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 7 * 24 * time.Hour
	}
	if opts.KeyConcepts <= 0 {
		opts.KeyConcepts = 10
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		deps:    deps,
		opts:    opts,
		logger:  logger.With(slog.String("component", "coordinator")),
		tracker: newTracker(),
		tracer:  otel.Tracer(instrumentationName),
		clock:   time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	c.initMetrics()
	return c, nil
}

// OnProgress registers a callback invoked synchronously on every status or
// progress change.
func (c *Coordinator) OnProgress(fn ProgressFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.callbacks = append(c.callbacks, fn)
	c.mu.Unlock()
}

func (c *Coordinator) now() time.Time { return c.clock().UTC() }

func (c *Coordinator) newJob(sessionID string, lesson int, title string) Job {
	if sessionID == "" {
		sessionID = "default"
	}
	return Job{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		LessonNumber: lesson,
		Title:        title,
		Status:       StatusPending,
		Step:         "Queued",
		CreatedAt:    c.now(),
	}
}

// publish records a snapshot and notifies observers.
func (c *Coordinator) publish(ctx context.Context, job *Job, message string) {
	snapshot := job.clone()
	c.tracker.put(snapshot)

	if c.deps.Store.Enabled() {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			c.logger.Warn("failed to encode job snapshot", slog.String("job_id", job.ID), slogError(err))
		}
		rec := jobstore.Record{
			ID:        snapshot.ID,
			SessionID: snapshot.SessionID,
			Status:    string(snapshot.Status),
			Progress:  snapshot.Progress,
			Lesson:    snapshot.LessonNumber,
			Title:     snapshot.Title,
			Error:     snapshot.Error,
			Payload:   payload,
		}
		// Persist even if the job's own context is done.
		if err := c.deps.Store.Save(context.WithoutCancel(ctx), rec, message); err != nil {
			c.logger.Warn("failed to persist job", slog.String("job_id", job.ID), slogError(err))
		}
	}

	c.mu.RLock()
	callbacks := append([]ProgressFunc(nil), c.callbacks...)
	c.mu.RUnlock()
	for _, fn := range callbacks {
		c.notify(fn, snapshot)
	}
}

func (c *Coordinator) notify(fn ProgressFunc, job Job) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("progress callback panicked", slog.String("job_id", job.ID), slog.Any("panic", r))
		}
	}()
	if err := fn(job.clone()); err != nil {
		c.logger.Warn("progress callback failed", slog.String("job_id", job.ID), slogError(err))
	}
}

// execute runs stages under the job timeout and turns any error or panic
// into a failed job.
func (c *Coordinator) execute(ctx context.Context, job *Job, stages func(context.Context, *Job) error) (out Job) {
	if c.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.JobTimeout)
		defer cancel()
	}
	ctx, span := c.tracer.Start(ctx, "podcast.job", trace.WithAttributes(
		jobAttrs(job)...,
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("job panicked", slog.String("job_id", job.ID), slog.Any("panic", r))
			job.fail(fmt.Errorf("internal error: %v", r), c.now())
			c.publish(ctx, job, job.Error)
		}
		c.recordFinished(ctx, *job)
		out = job.clone()
	}()

	started := c.now()
	job.StartedAt = &started
	if err := stages(ctx, job); err != nil {
		span.RecordError(err)
		job.fail(err, c.now())
		c.logger.Error("job failed",
			slog.String("job_id", job.ID),
			slog.String("session_id", job.SessionID),
			slog.Int("lesson", job.LessonNumber),
			slogError(err))
		c.publish(ctx, job, err.Error())
	}
	return job.clone()
}

// ProcessEpisode runs the pipeline for a finished script and returns the
// terminal job.
func (c *Coordinator) ProcessEpisode(ctx context.Context, ep *script.Episode, sessionID string, upload bool) Job {
	job := c.newEpisodeJob(sessionID, ep)
	c.publish(ctx, &job, "created")
	return c.execute(ctx, &job, func(ctx context.Context, job *Job) error {
		return c.pipeline(ctx, job, ep, upload)
	})
}

func (c *Coordinator) newEpisodeJob(sessionID string, ep *script.Episode) Job {
	if ep == nil {
		return c.newJob(sessionID, 0, "")
	}
	return c.newJob(sessionID, ep.LessonNumber, ep.Title)
}

// ProcessContent writes a script from lesson content, then synthesizes it.
// The generator is checked first so that an unavailable backend fails the
// job before any work is done.
func (c *Coordinator) ProcessContent(ctx context.Context, req ContentRequest) Job {
	job := c.newJob(req.SessionID, max(req.LessonNumber, 1), req.Title)
	c.publish(ctx, &job, "created")
	return c.execute(ctx, &job, func(ctx context.Context, job *Job) error {
		ep, err := c.generate(ctx, job, req)
		if err != nil {
			return err
		}
		return c.pipeline(ctx, job, ep, req.Upload)
	})
}

// begin reserves a background slot. The caller must run c.wg.Done.
func (c *Coordinator) begin() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.closed || c.ctx.Err() != nil {
		return false
	}
	c.wg.Add(1)
	return true
}

// Submit starts ProcessEpisode in the background and returns the job id.
func (c *Coordinator) Submit(ep *script.Episode, sessionID string, upload bool) (string, error) {
	if !c.begin() {
		return "", ErrClosed
	}
	job := c.newEpisodeJob(sessionID, ep)
	c.publish(c.ctx, &job, "queued")
	go func() {
		defer c.wg.Done()
		c.execute(c.ctx, &job, func(ctx context.Context, job *Job) error {
			return c.pipeline(ctx, job, ep, upload)
		})
	}()
	return job.ID, nil
}

// SubmitContent starts ProcessContent in the background.
func (c *Coordinator) SubmitContent(req ContentRequest) (string, error) {
	if !c.begin() {
		return "", ErrClosed
	}
	job := c.newJob(req.SessionID, max(req.LessonNumber, 1), req.Title)
	c.publish(c.ctx, &job, "queued")
	go func() {
		defer c.wg.Done()
		c.execute(c.ctx, &job, func(ctx context.Context, job *Job) error {
			ep, err := c.generate(ctx, job, req)
			if err != nil {
				return err
			}
			return c.pipeline(ctx, job, ep, req.Upload)
		})
	}()
	return job.ID, nil
}

// ProcessBatch runs episodes one after another. A failed episode does not
// stop the batch.
func (c *Coordinator) ProcessBatch(ctx context.Context, episodes []*script.Episode, sessionID string, upload bool) BatchResult {
	out := BatchResult{TotalJobs: len(episodes), Jobs: make([]Job, 0, len(episodes))}
	for _, ep := range episodes {
		job := c.ProcessEpisode(ctx, ep, sessionID, upload)
		out.Jobs = append(out.Jobs, job)
		switch job.Status {
		case StatusCompleted:
			out.CompletedJobs++
			if job.Result != nil {
				out.TotalDurationSeconds += job.Result.DurationSeconds
			}
		case StatusFailed:
			out.FailedJobs++
		}
	}
	out.TotalCostEstimate = c.deps.Synthesizer.EstimateCost(episodes...).USD
	c.logger.Info("batch finished",
		slog.String("session_id", sessionID),
		slog.Int("completed", out.CompletedJobs),
		slog.Int("failed", out.FailedJobs))
	return out
}

// EstimateBatchCost prices episodes without synthesizing them.
func (c *Coordinator) EstimateBatchCost(episodes []*script.Episode) BatchEstimate {
	est := BatchEstimate{Cost: c.deps.Synthesizer.EstimateCost(episodes...)}
	for _, ep := range episodes {
		if ep == nil {
			continue
		}
		est.Episodes++
		est.TotalWords += ep.TotalWords()
		est.EstimatedDurationSeconds += ep.TotalDuration()
	}
	return est
}

// Job returns a copy of the job, falling back to the job store for jobs that
// are no longer in memory.
func (c *Coordinator) Job(ctx context.Context, id string) (Job, bool) {
	if job, ok := c.tracker.get(id); ok {
		return job, true
	}
	if !c.deps.Store.Enabled() {
		return Job{}, false
	}
	rec, ok, err := c.deps.Store.Job(ctx, id)
	if err != nil {
		c.logger.Warn("job store lookup failed", slog.String("job_id", id), slogError(err))
		return Job{}, false
	}
	if !ok {
		return Job{}, false
	}
	return jobFromRecord(rec), true
}

func jobFromRecord(rec jobstore.Record) Job {
	var job Job
	if len(rec.Payload) > 0 && json.Unmarshal(rec.Payload, &job) == nil && job.ID != "" {
		return job
	}
	return Job{
		ID:           rec.ID,
		SessionID:    rec.SessionID,
		LessonNumber: rec.Lesson,
		Status:       Status(rec.Status),
		Progress:     rec.Progress,
		Title:        rec.Title,
		Error:        rec.Error,
		CreatedAt:    rec.CreatedAt,
	}
}

// SessionJobs lists in-memory jobs for a session, oldest first.
func (c *Coordinator) SessionJobs(sessionID string) []Job {
	return c.tracker.session(sessionID)
}

// CleanupOldJobs evicts terminal jobs older than maxAge and reports how many
// were removed. Running jobs are never evicted.
func (c *Coordinator) CleanupOldJobs(maxAge time.Duration) int {
	removed := c.tracker.evict(c.now().Add(-maxAge))
	if removed > 0 {
		c.logger.Info("evicted finished jobs", slog.Int("count", removed))
	}
	return removed
}

// ActiveJobs counts jobs that have not reached a terminal status.
func (c *Coordinator) ActiveJobs() int {
	n, _ := c.tracker.counts()
	return n
}

// Close stops accepting submissions, waits for background jobs and stops
// the tracker.
func (c *Coordinator) Close() {
	c.lifeMu.Lock()
	c.closed = true
	c.lifeMu.Unlock()
	c.cancel()
	c.wg.Wait()
	c.tracker.close()
}
