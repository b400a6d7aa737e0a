// Package service exposes the synthesis pipeline on the NATS bus.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-podcast/internal/bus"
	"github.com/loqalabs/loqa-podcast/internal/coordinator"
	"github.com/loqalabs/loqa-podcast/internal/markup"
	"github.com/loqalabs/loqa-podcast/internal/protocol"
	"github.com/loqalabs/loqa-podcast/internal/script"
)

// QueueGroup load-balances synthesis requests across workers.
const QueueGroup = "podcast-workers"

// Pipeline is the part of the coordinator the bus service drives.
type Pipeline interface {
	Submit(ep *script.Episode, sessionID string, upload bool) (string, error)
	SubmitContent(req coordinator.ContentRequest) (string, error)
	Job(ctx context.Context, id string) (coordinator.Job, bool)
	SessionJobs(sessionID string) []coordinator.Job
	OnProgress(fn coordinator.ProgressFunc)
}

type Service struct {
	bus      *bus.Client
	pipeline Pipeline
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	subs     []*nats.Subscription
	mu       sync.Mutex
	ready    atomic.Bool
}

func NewService(parent context.Context, busClient *bus.Client, pipeline Pipeline, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:      busClient,
		pipeline: pipeline,
		log:      logger.With(slog.String("component", "podcast-service")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) Start() error {
	conn := s.bus.Conn()
	handlers := []struct {
		subject string
		queue   string
		handler nats.MsgHandler
	}{
		{protocol.SubjectSynthesisRequest, QueueGroup, s.handleSynthesis},
		{protocol.SubjectJobStatus, "", s.handleStatus},
		{protocol.SubjectTranscriptRequest, QueueGroup, s.handleTranscript},
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range handlers {
		var (
			sub *nats.Subscription
			err error
		)
		if h.queue != "" {
			sub, err = conn.QueueSubscribe(h.subject, h.queue, h.handler)
		} else {
			sub, err = conn.Subscribe(h.subject, h.handler)
		}
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := conn.Flush(); err != nil {
		s.unsubscribeLocked()
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	s.pipeline.OnProgress(s.publishEvent)
	s.ready.Store(true)
	s.log.Info("podcast service listening",
		slog.String("synthesis", protocol.SubjectSynthesisRequest),
		slog.String("status", protocol.SubjectJobStatus),
		slog.String("transcript", protocol.SubjectTranscriptRequest))
	return nil
}

func (s *Service) unsubscribeLocked() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Service) Close() {
	s.ready.Store(false)
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	return s.ready.Load() && s.bus.Healthy()
}

func (s *Service) handleSynthesis(msg *nats.Msg) {
	var req protocol.SynthesisRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode synthesis request", slogError(err))
		s.reply(msg, protocol.SynthesisAccepted{Error: "invalid request: " + err.Error()})
		return
	}
	id, err := s.submit(req)
	if err != nil {
		s.log.Warn("synthesis request rejected", slog.String("session_id", req.SessionID), slogError(err))
		s.reply(msg, protocol.SynthesisAccepted{Error: err.Error()})
		return
	}
	s.log.Info("synthesis job accepted", slog.String("job_id", id), slog.String("session_id", req.SessionID))
	s.reply(msg, protocol.SynthesisAccepted{JobID: id, Status: string(coordinator.StatusPending)})
}

func (s *Service) submit(req protocol.SynthesisRequest) (string, error) {
	switch {
	case len(req.Script) > 0:
		var ep script.Episode
		if err := json.Unmarshal(req.Script, &ep); err != nil {
			return "", fmt.Errorf("invalid script: %w", err)
		}
		return s.pipeline.Submit(&ep, req.SessionID, req.Upload)
	case req.Content != "":
		return s.pipeline.SubmitContent(coordinator.ContentRequest{
			SessionID:     req.SessionID,
			Title:         req.Title,
			Content:       req.Content,
			ContentFormat: req.ContentFormat,
			LessonNumber:  req.LessonNumber,
			TotalLessons:  req.TotalLessons,
			TargetMinutes: req.TargetMinutes,
			SourceURL:     req.SourceURL,
			Upload:        req.Upload,
		})
	}
	return "", errors.New("request needs a script or content")
}

func (s *Service) handleStatus(msg *nats.Msg) {
	var req protocol.JobStatusRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.reply(msg, protocol.JobStatusReply{Error: "invalid request: " + err.Error()})
		return
	}
	var out protocol.JobStatusReply
	switch {
	case req.JobID != "":
		job, ok := s.pipeline.Job(s.ctx, req.JobID)
		if !ok {
			out.Error = fmt.Sprintf("job %s not found", req.JobID)
			break
		}
		out.Job = mustJSON(job)
	case req.SessionID != "":
		out.Jobs = []json.RawMessage{}
		for _, job := range s.pipeline.SessionJobs(req.SessionID) {
			out.Jobs = append(out.Jobs, mustJSON(job))
		}
	default:
		out.Error = "job_id or session_id required"
	}
	s.reply(msg, out)
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var req protocol.TranscriptRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.reply(msg, protocol.TranscriptReply{Error: "invalid request: " + err.Error()})
		return
	}
	if req.Format == "" {
		req.Format = string(markup.TranscriptMarkdown)
	}
	format, err := markup.ParseTranscriptFormat(req.Format)
	if err != nil {
		s.reply(msg, protocol.TranscriptReply{Error: err.Error()})
		return
	}
	var ep script.Episode
	if err := json.Unmarshal(req.Script, &ep); err != nil {
		s.reply(msg, protocol.TranscriptReply{Error: "invalid script: " + err.Error()})
		return
	}
	text, err := markup.Transcript(&ep, format)
	if err != nil {
		s.reply(msg, protocol.TranscriptReply{Error: err.Error()})
		return
	}
	s.reply(msg, protocol.TranscriptReply{Format: string(format), ContentType: format.ContentType(), Text: text})
}

func (s *Service) publishEvent(job coordinator.Job) error {
	if !s.ready.Load() {
		return nil
	}
	event := protocol.JobEvent{
		JobID:     job.ID,
		SessionID: job.SessionID,
		Status:    string(job.Status),
		Progress:  job.Progress,
		Step:      job.Step,
		Timestamp: time.Now().UTC(),
		Job:       mustJSON(job),
	}
	return s.bus.PublishJSON(protocol.JobEventSubject(event.Status), event)
}

func (s *Service) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to send reply", slog.String("subject", msg.Subject), slogError(err))
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return data
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
