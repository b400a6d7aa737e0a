package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-podcast/internal/bus"
	"github.com/loqalabs/loqa-podcast/internal/config"
)

const (
	subjectAnnounce        = "podcast.worker.announce"
	subjectHeartbeatPrefix = "podcast.worker.heartbeat"
)

type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NodeInfo is what the registry knows about one synthesis worker.
type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	ActiveJobs   int          `json:"active_jobs"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

type announceMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID     string    `json:"node_id"`
	ActiveJobs int       `json:"active_jobs"`
	Timestamp  time.Time `json:"timestamp"`
}

// Option tunes a Registry.
type Option func(*Registry)

// WithLoad reports the local worker's unfinished jobs in every heartbeat so
// peers can prefer idle workers.
func WithLoad(fn func() int) Option {
	return func(r *Registry) { r.load = fn }
}

// Registry tracks synthesis workers on the bus. Each worker announces its
// capabilities once and then heartbeats with its current job load; a worker
// that misses heartbeats for longer than the timeout is marked unhealthy.
type Registry struct {
	cfg          config.NodeConfig
	log          *slog.Logger
	bus          *bus.Client
	mu           sync.RWMutex
	nodes        map[string]*NodeInfo
	load         func() int
	heartbeat    *time.Ticker
	cancel       context.CancelFunc
	subs         []*nats.Subscription
	meter        metric.Meter
	knownGauge   metric.Int64ObservableGauge
	healthyGauge metric.Int64ObservableGauge
	loadGauge    metric.Int64ObservableGauge
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, log *slog.Logger, opts ...Option) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		log:    log.With(slog.String("component", "worker-registry")),
		bus:    busClient,
		nodes:  make(map[string]*NodeInfo),
		meter:  otel.Meter("github.com/loqalabs/loqa-podcast/capability"),
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.initMetrics(ctx); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(ctx); err != nil {
		r.cancel()
		return nil, err
	}

	r.heartbeat = time.NewTicker(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe(ctx context.Context) error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(subjectAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(subjectHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{
		NodeID:       r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: convertCapabilities(r.cfg.Capabilities),
		Timestamp:    time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.bus.Conn().Publish(subjectAnnounce, payload); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, msg.Role, msg.Capabilities, r.activeJobs(), msg.Timestamp, true)
	return nil
}

func (r *Registry) activeJobs() int {
	if r.load == nil {
		return 0
	}
	return r.load()
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{
		NodeID:     r.cfg.ID,
		ActiveJobs: r.activeJobs(),
		Timestamp:  time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", subjectHeartbeatPrefix, r.cfg.ID)
	return r.bus.Conn().Publish(subject, payload)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	r.updateNode(announcement.NodeID, announcement.Role, announcement.Capabilities, -1, announcement.Timestamp, true)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	if hb.ActiveJobs < 0 {
		hb.ActiveJobs = 0
	}
	r.updateNode(hb.NodeID, "", nil, hb.ActiveJobs, hb.Timestamp, true)
}

// updateNode records what a worker reported; activeJobs < 0 leaves the last
// known load in place.
func (r *Registry) updateNode(nodeID, role string, capabilities []Capability, activeJobs int, timestamp time.Time, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if len(capabilities) > 0 {
		node.Capabilities = capabilities
	}
	if activeJobs >= 0 {
		node.ActiveJobs = activeJobs
	}
	node.LastSeen = timestamp
	node.Healthy = healthy
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := time.Now()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	if !ok {
		return false
	}
	return node.Healthy
}

func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
	for _, node := range r.nodes {
		copy := *node
		if filter == nil || filter(copy) {
			results = append(results, copy)
		}
	}
	return results
}

func (r *Registry) initMetrics(ctx context.Context) error {
	if r.meter == nil {
		return nil
	}
	gauge, err := r.meter.Int64ObservableGauge("podcast.workers.known", metric.WithDescription("Synthesis workers seen on the bus"))
	if err != nil {
		return err
	}
	healthyGauge, err := r.meter.Int64ObservableGauge("podcast.workers.healthy", metric.WithDescription("Synthesis workers with a recent heartbeat"))
	if err != nil {
		return err
	}
	loadGauge, err := r.meter.Int64ObservableGauge("podcast.workers.active_jobs", metric.WithDescription("Unfinished jobs reported by healthy workers"))
	if err != nil {
		return err
	}
	r.knownGauge = gauge
	r.healthyGauge = healthyGauge
	r.loadGauge = loadGauge
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		known, healthy := r.snapshotCounts()
		obs.ObserveInt64(gauge, known)
		obs.ObserveInt64(healthyGauge, healthy)
		obs.ObserveInt64(loadGauge, r.clusterLoad())
		return nil
	}, gauge, healthyGauge, loadGauge)
	return err
}

func (r *Registry) snapshotCounts() (known, healthy int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, node := range r.nodes {
		known++
		if node.Healthy {
			healthy++
		}
	}
	return known, healthy
}

func (r *Registry) clusterLoad() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, node := range r.nodes {
		if node.Healthy {
			total += int64(node.ActiveJobs)
		}
	}
	return total
}

func (r *Registry) LocalCapabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if node, ok := r.nodes[r.cfg.ID]; ok {
		return append([]Capability(nil), node.Capabilities...)
	}
	return nil
}

// Workers lists healthy workers advertising capability, least loaded first
// and then by ID.
func (r *Registry) Workers(capability string) []NodeInfo {
	workers := r.Query(func(n NodeInfo) bool {
		return n.Healthy && WithCapabilityFilter(capability)(n)
	})
	sort.Slice(workers, func(i, j int) bool {
		if workers[i].ActiveJobs != workers[j].ActiveJobs {
			return workers[i].ActiveJobs < workers[j].ActiveJobs
		}
		return workers[i].ID < workers[j].ID
	})
	return workers
}

// LeastLoaded returns the idlest healthy worker advertising capability.
func (r *Registry) LeastLoaded(capability string) (NodeInfo, bool) {
	workers := r.Workers(capability)
	if len(workers) == 0 {
		return NodeInfo{}, false
	}
	return workers[0], true
}

func convertCapabilities(source []config.NodeCapability) []Capability {
	if len(source) == 0 {
		return nil
	}
	result := make([]Capability, 0, len(source))
	for _, cap := range source {
		result = append(result, Capability{
			Name:       cap.Name,
			Tier:       cap.Tier,
			Attributes: cap.Attributes,
		})
	}
	return result
}

func WithCapabilityFilter(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, cap := range node.Capabilities {
			if cap.Name == name {
				return true
			}
		}
		return false
	}
}

func WithTierFilter(tier string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, cap := range node.Capabilities {
			if cap.Tier == tier {
				return true
			}
		}
		return false
	}
}

// AttributesAsAttrs converts advertised attributes into span attributes.
func (c Capability) AttributesAsAttrs() []attribute.KeyValue {
	keys := make([]string, 0, len(c.Attributes))
	for k := range c.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]attribute.KeyValue, 0, len(keys)+1)
	attrs = append(attrs, attribute.String("capability", c.Name))
	for _, k := range keys {
		attrs = append(attrs, attribute.String("capability."+k, c.Attributes[k]))
	}
	return attrs
}
