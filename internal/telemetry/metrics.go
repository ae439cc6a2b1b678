package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the optional prometheus-backed observability facade described
// in SPEC_FULL.md §1.1/§4.6. A nil *Metrics disables all collection; the
// job graph core checks for nil before every call site so telemetry never
// costs anything when the caller doesn't register a registry.
type Metrics struct {
	queueDepth   *prometheus.GaugeVec
	jobDuration  *prometheus.HistogramVec
	workerIdle   *prometheus.GaugeVec
	qsbrGraceAdv prometheus.Counter

	mu       sync.Mutex
	graph    map[uint64]*graphNode
}

type graphNode struct {
	name        string
	lastRuntime time.Duration
	propagation time.Duration
}

// NewMetrics registers the job graph core's metric families against reg.
// Passing prometheus.NewRegistry() keeps the core isolated from the
// process-global DefaultRegisterer, matching the pattern used for service
// metrics across the retrieval pack (e.g. DimaJoyti-go-coffee's per-service
// registries).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jobgraph",
			Name:      "queue_depth",
			Help:      "Number of jobs currently queued, by queue kind.",
		}, []string{"queue"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobgraph",
			Name:      "job_duration_seconds",
			Help:      "Observed work-unit runtime, by job name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		workerIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jobgraph",
			Name:      "worker_idle_ratio",
			Help:      "Fraction of a worker's dispatch-loop iterations spent idle since it was enabled.",
		}, []string{"worker"}),
		qsbrGraceAdv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobgraph",
			Name:      "qsbr_grace_advances_total",
			Help:      "Number of times a QSBR item's grace period fully advanced.",
		}),
		graph: make(map[uint64]*graphNode),
	}

	reg.MustRegister(m.queueDepth, m.jobDuration, m.workerIdle, m.qsbrGraceAdv)
	return m
}

// SetQueueDepth records the current backlog of a named queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveJobDuration records a finished job's runtime and feeds the debug
// job-graph metadata snapshot exposed by DumpGraph.
func (m *Metrics) ObserveJobDuration(physicalID uint64, name string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(name).Observe(d.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.graph[physicalID]
	if !ok {
		n = &graphNode{name: name}
		m.graph[physicalID] = n
	}
	n.lastRuntime = d
}

// RecordPropagation stores the propagation-time estimate computed for a
// job (its own last runtime plus the max propagation estimate among its
// resolved dependants, per SPEC_FULL.md §4).
func (m *Metrics) RecordPropagation(physicalID uint64, name string, propagation time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.graph[physicalID]
	if !ok {
		n = &graphNode{name: name}
		m.graph[physicalID] = n
	}
	n.propagation = propagation
}

// SetWorkerIdleRatio records the fraction of a worker's dispatch-loop
// iterations spent idling rather than consuming jobs.
func (m *Metrics) SetWorkerIdleRatio(worker string, ratio float64) {
	if m == nil {
		return
	}
	m.workerIdle.WithLabelValues(worker).Set(ratio)
}

// IncQSBRGraceAdvance counts one Update() call that fully cleared an item's
// mask.
func (m *Metrics) IncQSBRGraceAdvance() {
	if m == nil {
		return
	}
	m.qsbrGraceAdv.Inc()
}

// GraphSnapshot is one row of DumpGraph's output.
type GraphSnapshot struct {
	PhysicalID  uint64
	Name        string
	LastRuntime time.Duration
	Propagation time.Duration
}

// DumpGraph returns a point-in-time snapshot of every job the metadata
// aggregator has observed. It is data only — rendering it is the
// out-of-scope "debug/graph-dump visualization" collaborator named in §1.
func (m *Metrics) DumpGraph() []GraphSnapshot {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]GraphSnapshot, 0, len(m.graph))
	for id, n := range m.graph {
		out = append(out, GraphSnapshot{
			PhysicalID:  id,
			Name:        n.name,
			LastRuntime: n.lastRuntime,
			Propagation: n.propagation,
		})
	}
	return out
}
