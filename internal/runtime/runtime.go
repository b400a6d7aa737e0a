package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-podcast/internal/bus"
	"github.com/loqalabs/loqa-podcast/internal/capability"
	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/coordinator"
	"github.com/loqalabs/loqa-podcast/internal/natsserver"
	"github.com/loqalabs/loqa-podcast/internal/service"
)

// SynthesisCapability is what a worker advertises on the bus.
const SynthesisCapability = "podcast.synthesis"

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	pipeline *Pipeline
	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	registry *capability.Registry
	service  *service.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	pipeline, err := BuildPipeline(ctx, r.cfg, r.logger)
	if err != nil {
		r.shutdown()
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	r.pipeline = pipeline

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			r.shutdown()
			return err
		}
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.cleanupLoop(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("tts", r.pipeline.Synthesizer.ProviderName()),
		slog.String("stitch_mode", string(r.pipeline.Stitcher.Mode())),
		slog.Bool("bus", r.cfg.Bus.Enabled))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.shutdown()

	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}

	node := r.nodeConfig()
	r.registry, err = capability.NewRegistry(ctx, node, r.bus, r.logger,
		capability.WithLoad(r.pipeline.Coordinator.ActiveJobs))
	if err != nil {
		return fmt.Errorf("start worker registry: %w", err)
	}
	tracer := otel.Tracer("github.com/loqalabs/loqa-podcast/runtime")
	for _, c := range r.registry.LocalCapabilities() {
		_, span := tracer.Start(ctx, "podcast.worker.advertise", trace.WithAttributes(c.AttributesAsAttrs()...))
		span.End()
	}

	r.service = service.NewService(ctx, r.bus, r.pipeline.Coordinator, r.logger)
	return r.service.Start()
}

// nodeConfig fills the synthesis capability with what this worker runs.
func (r *Runtime) nodeConfig() config.NodeConfig {
	node := r.cfg.Node
	node.Capabilities = append([]config.NodeCapability(nil), r.cfg.Node.Capabilities...)
	for i, c := range node.Capabilities {
		if c.Name != SynthesisCapability {
			continue
		}
		attrs := map[string]string{
			"provider":    r.pipeline.Synthesizer.ProviderName(),
			"format":      string(r.pipeline.Stitcher.Format()),
			"stitch_mode": string(r.pipeline.Stitcher.Mode()),
		}
		for k, v := range c.Attributes {
			attrs[k] = v
		}
		node.Capabilities[i].Attributes = attrs
	}
	return node
}

func (r *Runtime) shutdown() {
	if r.service != nil {
		r.service.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if err := r.pipeline.Close(); err != nil {
		r.logger.Error("pipeline shutdown error", slog.String("error", err.Error()))
	}
	r.bus.Close()
	r.embedded.Shutdown()

	if r.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) cleanupLoop(ctx context.Context) {
	interval := time.Duration(r.cfg.Coordinator.CleanupIntervalMS) * time.Millisecond
	if interval <= 0 {
		return
	}
	maxAge := time.Duration(r.cfg.Coordinator.JobRetentionHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanup(ctx, maxAge)
		}
	}
}

func (r *Runtime) cleanup(ctx context.Context, maxAge time.Duration) {
	evicted := r.pipeline.Coordinator.CleanupOldJobs(maxAge)
	pruned, err := r.pipeline.Store.Prune(ctx)
	if err != nil {
		r.logger.Warn("job store prune failed", slog.String("error", err.Error()))
	}
	if evicted > 0 || pruned > 0 {
		r.logger.Info("job cleanup", slog.Int("evicted", evicted), slog.Int64("pruned", pruned))
	}
}

func (r *Runtime) routes(metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.HandleFunc("GET /jobs/{id}", r.handleJob)
	mux.HandleFunc("GET /sessions/{id}/jobs", r.handleSessionJobs)
	mux.HandleFunc("GET /workers", r.handleWorkers)
	return mux
}

// handleWorkers lists synthesis workers on the bus, idlest first. Without a
// bus only the local worker is reported.
func (r *Runtime) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	if r.registry != nil {
		workers := r.registry.Workers(SynthesisCapability)
		if workers == nil {
			workers = []capability.NodeInfo{}
		}
		writeJSON(w, http.StatusOK, workers)
		return
	}
	writeJSON(w, http.StatusOK, []capability.NodeInfo{{
		ID:         r.cfg.Node.ID,
		Role:       r.cfg.Node.Role,
		ActiveJobs: r.pipeline.Coordinator.ActiveJobs(),
		LastSeen:   time.Now().UTC(),
		Healthy:    true,
	}})
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, req *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	report := r.pipeline.Coordinator.Health(req.Context())
	if r.service != nil && !r.service.Healthy() {
		report.Healthy = false
	}
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (r *Runtime) handleJob(w http.ResponseWriter, req *http.Request) {
	job, ok := r.pipeline.Coordinator.Job(req.Context(), req.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (r *Runtime) handleSessionJobs(w http.ResponseWriter, req *http.Request) {
	jobs := r.pipeline.Coordinator.SessionJobs(req.PathValue("id"))
	if jobs == nil {
		jobs = []coordinator.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
