package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/content"
	"github.com/loqalabs/loqa-podcast/internal/dialogue"
	"github.com/loqalabs/loqa-podcast/internal/markup"
	"github.com/loqalabs/loqa-podcast/internal/script"
	"github.com/loqalabs/loqa-podcast/internal/storage"
)

const (
	progressGenerating = 5
	progressWriting    = 8
	progressValidating = 10
	progressFormatting = 20
	progressSynthStart = 30
	progressSynthSpan  = 50
	progressStitching  = 85
	progressUploading  = 90
	progressCompleted  = 100
)

func jobAttrs(job *Job) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("job.id", job.ID),
		attribute.String("session.id", job.SessionID),
		attribute.Int("lesson.number", job.LessonNumber),
	}
}

func (c *Coordinator) step(ctx context.Context, job *Job, to Status, progress float64, step string) error {
	if err := job.advance(to, progress, step); err != nil {
		return err
	}
	c.publish(ctx, job, step)
	return nil
}

func (c *Coordinator) generate(ctx context.Context, job *Job, req ContentRequest) (*script.Episode, error) {
	if err := c.step(ctx, job, StatusGenerating, progressGenerating, "Checking script generator"); err != nil {
		return nil, err
	}
	if c.deps.Generator == nil {
		return nil, ErrGeneratorUnavailable
	}
	hctx, cancel := context.WithTimeout(ctx, c.opts.HealthTimeout)
	err := c.deps.Generator.Health(hctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}

	format, err := content.ParseFormat(req.ContentFormat)
	if err != nil {
		return nil, err
	}
	doc, err := content.Normalize(req.Content, format)
	if err != nil {
		return nil, err
	}
	title := req.Title
	if title == "" {
		title = doc.Title
	}
	job.Title = title
	job.Progress = progressWriting
	job.Step = "Writing dialogue"
	c.publish(ctx, job, job.Step)

	ep, err := c.deps.Generator.Generate(ctx, dialogue.Request{
		SessionID:     job.SessionID,
		Title:         title,
		Content:       doc.Text,
		KeyConcepts:   content.KeyConcepts(doc.Text, c.opts.KeyConcepts),
		LessonNumber:  job.LessonNumber,
		TotalLessons:  req.TotalLessons,
		TargetMinutes: req.TargetMinutes,
		SourceURL:     req.SourceURL,
	})
	if err != nil {
		return nil, fmt.Errorf("generate script: %w", err)
	}
	if ep.SourceURL == "" {
		ep.SourceURL = req.SourceURL
	}
	return ep, nil
}

func (c *Coordinator) pipeline(ctx context.Context, job *Job, ep *script.Episode, upload bool) error {
	if err := c.step(ctx, job, StatusValidating, progressValidating, "Validating script"); err != nil {
		return err
	}
	if ep == nil || ep.TurnCount() == 0 {
		return errors.New("episode has no dialogue turns")
	}
	job.Title = ep.Title
	if ep.LessonNumber > 0 {
		job.LessonNumber = ep.LessonNumber
	}
	job.TotalWords = ep.TotalWords()
	job.EstimatedSeconds = ep.TotalDuration()
	report := ep.Validate()
	job.Validation = &report
	if !report.Valid {
		c.logger.Warn("script has quality issues",
			slog.String("job_id", job.ID),
			slog.Any("issues", report.Issues))
	}

	if err := c.step(ctx, job, StatusFormatting, progressFormatting, "Formatting markup"); err != nil {
		return err
	}
	chunks := c.deps.Chunker.Chunks(ep)
	if len(chunks) == 0 {
		return errors.New("script produced no markup chunks")
	}

	if err := c.step(ctx, job, StatusSynthesizing, progressSynthStart, fmt.Sprintf("Synthesizing %d chunks", len(chunks))); err != nil {
		return err
	}
	synthesized := c.synthesize(ctx, job, chunks)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("synthesis interrupted: %w", err)
	}
	if len(synthesized) == 0 {
		return fmt.Errorf("all %d chunks failed synthesis: %s", len(chunks), job.FailedChunks[0].Error)
	}

	if err := c.step(ctx, job, StatusStitching, progressStitching, "Stitching audio"); err != nil {
		return err
	}
	stitched, err := c.deps.Stitcher.Stitch(synthesized)
	if err != nil {
		return fmt.Errorf("stitch audio: %w", err)
	}
	for _, sk := range stitched.Skipped {
		job.FailedChunks = append(job.FailedChunks, c.stitchFailure(chunks, sk))
	}
	if len(stitched.Chunks) == 0 {
		return errors.New("no chunk survived stitching")
	}
	data := stitched.Audio
	if len(c.opts.IntroMusic) > 0 {
		data = c.deps.Stitcher.AddIntroMusic(data, c.opts.IntroMusic)
	}
	if len(c.opts.OutroMusic) > 0 {
		data = c.deps.Stitcher.AddOutroMusic(data, c.opts.OutroMusic)
	}

	if err := c.step(ctx, job, StatusUploading, progressUploading, "Saving audio"); err != nil {
		return err
	}
	result, err := c.save(ctx, job, data, stitched.Format, upload)
	if err != nil {
		return err
	}

	result.Format = stitched.Format
	result.StitchMode = stitched.Mode
	result.DurationMS = stitched.DurationMS
	result.DurationSeconds = float64(stitched.DurationMS) / 1000
	result.SegmentCount = len(ep.Segments)
	result.TotalWords = job.TotalWords
	result.Chunks = len(stitched.Chunks)
	result.Bytes = len(data)
	result.Cost = c.deps.Synthesizer.EstimateCost(ep)
	result.Timings = stitched.Chunks
	for _, a := range synthesized {
		if a.Cached {
			result.CachedChunks++
		}
	}
	if n := len(job.FailedChunks); n > 0 {
		msg := fmt.Sprintf("%d of %d chunks failed and were left out", n, len(chunks))
		result.Error = &msg
	}

	if err := job.advance(StatusCompleted, progressCompleted, "Completed"); err != nil {
		return err
	}
	done := c.now()
	job.CompletedAt = &done
	job.Result = &result
	c.publish(ctx, job, "completed")
	c.logger.Info("episode ready",
		slog.String("job_id", job.ID),
		slog.String("session_id", job.SessionID),
		slog.Int("lesson", job.LessonNumber),
		slog.Int("duration_ms", result.DurationMS),
		slog.Int("chunks", result.Chunks),
		slog.Int("failed_chunks", len(job.FailedChunks)),
		slog.String("storage", string(result.StorageType)))
	return nil
}

type outcome struct {
	source markup.Chunk
	audio  audio.Chunk
	err    error
}

// synthesize fans chunks out to the synthesizer, bounded by
// MaxConcurrentRequests. Results arrive in completion order; the stitcher
// restores script order by index.
func (c *Coordinator) synthesize(ctx context.Context, job *Job, chunks []markup.Chunk) []audio.Chunk {
	results := make(chan outcome)
	go func() {
		var g errgroup.Group
		g.SetLimit(c.opts.MaxConcurrentRequests)
		for _, ch := range chunks {
			g.Go(func() error {
				results <- c.synthesizeOne(ctx, ch)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	var ok []audio.Chunk
	done := 0
	for o := range results {
		done++
		switch {
		case o.err != nil:
			job.FailedChunks = append(job.FailedChunks, ChunkFailure{
				Index:   o.source.Index,
				Speaker: o.source.Speaker,
				Excerpt: o.source.Excerpt(),
				Stage:   "synthesize",
				Error:   o.err.Error(),
			})
			c.metrics.chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
			c.logger.Warn("chunk synthesis failed",
				slog.String("job_id", job.ID),
				slog.Int("chunk", o.source.Index),
				slog.String("speaker", string(o.source.Speaker)),
				slogError(o.err))
		case o.audio.Cached:
			ok = append(ok, o.audio)
			c.metrics.chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "cached")))
		default:
			ok = append(ok, o.audio)
			c.metrics.chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "synthesized")))
		}
		job.Progress = progressSynthStart + progressSynthSpan*float64(done)/float64(len(chunks))
		job.Step = fmt.Sprintf("Synthesized %d/%d chunks", done, len(chunks))
		c.publish(ctx, job, job.Step)
	}
	sort.Slice(job.FailedChunks, func(i, j int) bool { return job.FailedChunks[i].Index < job.FailedChunks[j].Index })
	return ok
}

func (c *Coordinator) synthesizeOne(ctx context.Context, ch markup.Chunk) (o outcome) {
	o.source = ch
	defer func() {
		if r := recover(); r != nil {
			o.err = fmt.Errorf("synthesizer panicked: %v", r)
		}
	}()
	o.audio, o.err = c.deps.Synthesizer.Synthesize(ctx, ch)
	return o
}

func (c *Coordinator) stitchFailure(chunks []markup.Chunk, sk audio.SkippedChunk) ChunkFailure {
	f := ChunkFailure{Index: sk.Index, Stage: "stitch", Error: sk.Reason}
	for _, ch := range chunks {
		if ch.Index == sk.Index {
			f.Speaker = ch.Speaker
			f.Excerpt = ch.Excerpt()
			break
		}
	}
	return f
}

// save always writes a local copy. When upload is requested and an object
// store is configured the file is also uploaded; upload failures degrade to
// the local copy.
func (c *Coordinator) save(ctx context.Context, job *Job, data []byte, format audio.Format, upload bool) (Result, error) {
	ext := format.Extension()
	path, err := c.deps.Local.Save(job.SessionID, job.LessonNumber, ext, data)
	if err != nil {
		return Result{}, fmt.Errorf("save audio: %w", err)
	}
	res := Result{LocalPath: path, AudioURL: fileURL(path), StorageType: StorageLocal}
	if c.deps.Synthesizer.ProviderName() == "mock" {
		res.StorageType = StorageMock
	}
	if !upload || c.deps.Objects == nil {
		return res, nil
	}

	key := storage.ObjectKey(c.opts.StoragePrefix, job.SessionID, job.LessonNumber, ext)
	link, err := c.upload(ctx, job, key, data, format)
	if err != nil {
		c.logger.Warn("upload failed, keeping local copy",
			slog.String("job_id", job.ID),
			slog.String("backend", c.deps.Objects.Name()),
			slog.String("key", key),
			slogError(err))
		res.StorageType = StorageLocal
		return res, nil
	}
	res.AudioURL = link
	res.ObjectKey = key
	res.StorageType = StorageType(c.deps.Objects.Name())
	return res, nil
}

func (c *Coordinator) upload(ctx context.Context, job *Job, key string, data []byte, format audio.Format) (string, error) {
	err := c.deps.Objects.Put(ctx, storage.Object{
		Key:         key,
		Data:        data,
		ContentType: format.ContentType(),
		Metadata: map[string]string{
			"job-id":        job.ID,
			"session-id":    job.SessionID,
			"lesson-number": strconv.Itoa(job.LessonNumber),
			"created-at":    job.CreatedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", err
	}
	return c.deps.Objects.PresignedURL(ctx, key, c.opts.PresignTTL)
}

func fileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// Health checks every dependency independently; one failing check never
// hides the others. Unconfigured optional dependencies are reported as
// skipped and do not affect the verdict.
func (c *Coordinator) Health(ctx context.Context) HealthReport {
	type check struct {
		name string
		fn   func(context.Context) error
	}
	checks := []check{
		{"synthesizer", c.deps.Synthesizer.Health},
		{"local_storage", func(context.Context) error { return c.deps.Local.Writable() }},
	}
	if c.deps.Generator != nil {
		checks = append(checks, check{"generator", c.deps.Generator.Health})
	}
	if c.deps.Objects != nil {
		checks = append(checks, check{"object_storage", c.deps.Objects.Health})
	}

	report := HealthReport{Healthy: true, Checks: make(map[string]CheckResult, 4)}
	for _, name := range []string{"generator", "object_storage"} {
		report.Checks[name] = CheckResult{OK: true, Skipped: true, Error: "not configured"}
	}
	for _, chk := range checks {
		res := c.runCheck(ctx, chk.fn)
		if !res.OK {
			report.Healthy = false
		}
		report.Checks[chk.name] = res
	}
	return report
}

func (c *Coordinator) runCheck(ctx context.Context, fn func(context.Context) error) (res CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HealthTimeout)
	defer cancel()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = CheckResult{Error: fmt.Sprintf("check panicked: %v", r)}
		}
		res.Latency = time.Since(start).String()
	}()
	if err := fn(ctx); err != nil {
		return CheckResult{Error: err.Error()}
	}
	return CheckResult{OK: true}
}
