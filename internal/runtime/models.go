package runtime

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/amqptrace/internal/runtime/errors"
	"github.com/drblury/amqptrace/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/amqptrace/internal/runtime/metadata"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// HandlerStats aggregates per-route processing counters. It is served as JSON
// on GET /handlers.
type HandlerStats struct {
	mu sync.Mutex `json:"-"`

	handlerName string `json:"-"`
	queue       string `json:"-"`

	MessagesProcessed   uint64    `json:"messages_processed"`
	MessagesFailed      uint64    `json:"messages_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`
	Backlog    BacklogMetrics    `json:"backlog"`
	Dependency DependencyHealth  `json:"dependency"`

	latencyWindow    *latencyWindow    `json:"-"`
	throughputWindow *throughputWindow `json:"-"`
	resourceSampler  *resourceTracker  `json:"-"`
	now              func() time.Time  `json:"-"`
}

type HandlerInfo struct {
	Name  string        `json:"name"`
	Queue string        `json:"queue"`
	Stats *HandlerStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Simulated  uint64 `json:"simulated"`
	Cancelled  uint64 `json:"cancelled"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// BacklogMetrics tracks in-flight deliveries and how long the last one
// waited in the queue, measured from the broker timestamp.
type BacklogMetrics struct {
	InFlight           uint64 `json:"in_flight"`
	MaxInFlight        uint64 `json:"max_in_flight"`
	EstimatedLagMillis int64  `json:"estimated_lag_millis"`
}

type DependencyHealth struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
}

const (
	DependencyStatusUnknown = "unknown"
	DependencyStatusHealthy = "healthy"
)

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategorySimulated  ErrorCategory = "simulated"
	ErrorCategoryCancelled  ErrorCategory = "cancelled"
	ErrorCategoryOther      ErrorCategory = "other"
)

type ErrorClassifier func(error) ErrorCategory

func newHandlerStats(name, queue string, sampler *resourceTracker) *HandlerStats {
	return &HandlerStats{
		handlerName:      name,
		queue:            queue,
		resourceSampler:  sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		Backlog:          BacklogMetrics{EstimatedLagMillis: -1},
		Dependency: DependencyHealth{
			Name:   "queue:" + queue,
			Status: DependencyStatusUnknown,
		},
		now: time.Now,
	}
}

type handlerInvocationContext struct {
	lagMillis int64
}

func (h *HandlerStats) clock() time.Time {
	if h.now == nil {
		return time.Now()
	}
	return h.now()
}

func (h *HandlerStats) onMessageStart(msg *message.Message) handlerInvocationContext {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Backlog.InFlight++
	if h.Backlog.InFlight > h.Backlog.MaxInFlight {
		h.Backlog.MaxInFlight = h.Backlog.InFlight
	}

	return handlerInvocationContext{lagMillis: queueLag(msg, h.clock())}
}

func (h *HandlerStats) onMessageFinish(ctx handlerInvocationContext, duration time.Duration, err error, classifier ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock()

	if h.Backlog.InFlight > 0 {
		h.Backlog.InFlight--
	}
	if ctx.lagMillis >= 0 {
		h.Backlog.EstimatedLagMillis = ctx.lagMillis
	}

	h.MessagesProcessed++
	if err != nil {
		h.MessagesFailed++
	}
	h.TotalProcessingTime += int64(duration)
	h.LastProcessedAt = now.UTC()

	if h.latencyWindow != nil {
		h.latencyWindow.Add(duration)
		h.Latency = h.latencyWindow.Snapshot()
	}
	h.Latency.LastNs = int64(duration)
	h.Latency.AverageNs = h.TotalProcessingTime / int64(h.MessagesProcessed)

	tp := h.throughputWindow.AddAndSnapshot(now)
	h.Throughput = ThroughputMetrics{
		CurrentRPS:       tp.CurrentRPS,
		WindowSeconds:    tp.WindowSeconds,
		MessagesInWindow: uint64(tp.Count),
		TotalMessages:    h.MessagesProcessed,
	}

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	h.Errors.Record(classifier(err), err)

	if h.resourceSampler != nil {
		h.Resource = h.resourceSampler.Snapshot()
	}

	// A delivery reached the handler, so the queue is consumable.
	h.Dependency.Status = DependencyStatusHealthy
	h.Dependency.LastChecked = now.UTC()
}

func queueLag(msg *message.Message, now time.Time) int64 {
	if msg == nil {
		return -1
	}
	ts := metadatapkg.Timestamp(msg)
	if ts.IsZero() {
		return -1
	}
	lag := now.Sub(ts).Milliseconds()
	if lag < 0 {
		return 0
	}
	return lag
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias HandlerStats
	return jsoncodec.Marshal((*Alias)(h))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategorySimulated:
		e.Simulated++
	case ErrorCategoryCancelled:
		e.Cancelled++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// latencyWindow keeps the most recent handler durations in a ring.
type latencyWindow struct {
	ring []time.Duration
	pos  int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{ring: make([]time.Duration, 0, size)}
}

func (w *latencyWindow) Add(d time.Duration) {
	if len(w.ring) < cap(w.ring) {
		w.ring = append(w.ring, d)
		return
	}
	w.ring[w.pos] = d
	w.pos = (w.pos + 1) % len(w.ring)
}

// Snapshot reports the percentiles of the window. AverageNs and LastNs
// cover every message and are filled in by HandlerStats.
func (w *latencyWindow) Snapshot() LatencyMetrics {
	if w == nil || len(w.ring) == 0 {
		return LatencyMetrics{}
	}
	sorted := make([]int64, len(w.ring))
	for i, d := range w.ring {
		sorted[i] = int64(d)
	}
	slices.Sort(sorted)
	return LatencyMetrics{
		SampleSize: len(sorted),
		P50Ns:      percentile(sorted, 0.50),
		P95Ns:      percentile(sorted, 0.95),
		P99Ns:      percentile(sorted, 0.99),
	}
}

// percentile interpolates linearly between the two closest ranks of sorted.
func percentile(sorted []int64, q float64) int64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	rank := q * float64(n-1)
	lo := int(rank)
	if lo+1 >= n {
		return sorted[lo]
	}
	return sorted[lo] + int64(float64(sorted[lo+1]-sorted[lo])*(rank-float64(lo)))
}

// throughputWindow counts completions over a sliding horizon.
type throughputWindow struct {
	horizon time.Duration
	done    []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon}
}

// AddAndSnapshot records a completion at now and evicts those older than
// the horizon.
func (w *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if w == nil {
		return throughputSnapshot{}
	}
	w.done = append(w.done, now)
	cutoff := now.Add(-w.horizon)
	if keep := slices.IndexFunc(w.done, func(t time.Time) bool { return !t.Before(cutoff) }); keep > 0 {
		w.done = slices.Delete(w.done, 0, keep)
	}

	elapsed := now.Sub(w.done[0]).Seconds()
	if elapsed <= 0 {
		elapsed = time.Nanosecond.Seconds()
	}
	return throughputSnapshot{
		Count:         len(w.done),
		WindowSeconds: elapsed,
		CurrentRPS:    float64(len(w.done)) / elapsed,
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryNone
	case errspkg.IsUnprocessable(err):
		return ErrorCategoryValidation
	case errors.Is(err, errspkg.ErrSimulatedFailure):
		return ErrorCategorySimulated
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryCancelled
	default:
		return ErrorCategoryOther
	}
}
