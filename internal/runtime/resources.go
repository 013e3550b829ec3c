package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// runtime/metrics samples read on every snapshot, in this order.
const (
	userCPUMetric     = "/cpu/classes/user:cpu-seconds"
	heapObjectsMetric = "/memory/classes/heap/objects:bytes"
	goroutinesMetric  = "/sched/goroutines:goroutines"
)

// resourceTracker samples process CPU, heap and goroutine counts for the
// /handlers snapshot. One tracker is shared by every route of a Service.
type resourceTracker struct {
	mu      sync.Mutex
	samples []metrics.Sample
	prevCPU float64
	prevAt  time.Time
	cpus    float64
	now     func() time.Time
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{cpus: float64(runtime.NumCPU()), now: time.Now}
}

// Snapshot reads the current usage. CPUPercent is the user CPU share since
// the previous snapshot, so the first one reports zero.
func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.samples == nil {
		r.samples = []metrics.Sample{{Name: userCPUMetric}, {Name: heapObjectsMetric}, {Name: goroutinesMetric}}
	}
	metrics.Read(r.samples)

	at := time.Now()
	if r.now != nil {
		at = r.now()
	}

	usage := ResourceUsage{
		MemoryBytes: uintSample(r.samples[1]),
		Goroutines:  int(uintSample(r.samples[2])),
	}
	if usage.Goroutines == 0 {
		usage.Goroutines = runtime.NumGoroutine()
	}

	if cpu := r.samples[0].Value; cpu.Kind() == metrics.KindFloat64 {
		seconds := cpu.Float64()
		if !r.prevAt.IsZero() && r.cpus > 0 {
			if wall := at.Sub(r.prevAt).Seconds(); wall > 0 && seconds >= r.prevCPU {
				usage.CPUPercent = (seconds - r.prevCPU) / wall / r.cpus * 100
			}
		}
		r.prevCPU = seconds
	}
	r.prevAt = at
	return usage
}

func uintSample(s metrics.Sample) uint64 {
	if s.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.Value.Uint64()
}
