package jobgraph

import (
	"sync"
	"time"
)

// jobMetadata is the optional per-physical-id debug aggregate described in
// SPEC_FULL.md §4.6, grounded on original_source's job_debug_tracker /
// Job_tracker_node.h. It is keyed by a job's name (its "physical id") and
// persists across however many jobImpl instances are created under that
// name over a handler's lifetime, since the propagation-time estimator
// (spec.md §9 note (c)) is inherently a historical, cross-invocation
// aggregate: a job's priority on this submission is informed by what its
// dependants measured the *previous* time this graph ran.
type jobMetadata struct {
	physicalID uint64
	name       string

	mu                sync.Mutex
	lastRuntime       time.Duration
	propagationAggMax time.Duration
}

// priority computes the SyncQueue submission key: the job's own
// last-observed runtime plus the maximum propagation estimate reported by
// any dependant that has already finished and reported in (zero initially,
// per spec.md §9 note (c)).
func (m *jobMetadata) priority() float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.lastRuntime + m.propagationAggMax)
}

// estimate returns this metadata's own current propagation estimate, the
// value a dependant reports upward to its parents' aggregates.
func (m *jobMetadata) estimate() time.Duration {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRuntime + m.propagationAggMax
}

// recordRuntime stores the latest observed runtime for this physical id.
func (m *jobMetadata) recordRuntime(d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lastRuntime = d
	m.mu.Unlock()
}

// reportInto folds candidate into this metadata's propagation aggregate,
// keeping the maximum seen so far.
func (m *jobMetadata) reportInto(candidate time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if candidate > m.propagationAggMax {
		m.propagationAggMax = candidate
	}
	m.mu.Unlock()
}

// recordCompletion is called once by jobImpl.run after the work unit
// returns: it stamps this job's metadata with its runtime, reports its own
// estimate upward to every parent it registered an interest in via
// AddDependency, and feeds the optional telemetry.Metrics sink.
func (j *jobImpl) recordCompletion(dur time.Duration) {
	if j.meta != nil {
		j.meta.recordRuntime(dur)

		j.reportMu.Lock()
		parents := j.reportTo
		j.reportMu.Unlock()

		est := j.meta.estimate()
		for _, parent := range parents {
			parent.reportInto(est)
		}
	}

	if j.handler.cfg.Metrics != nil {
		j.handler.cfg.Metrics.ObserveJobDuration(j.physicalIDOrZero(), j.name, dur)
		j.handler.cfg.Metrics.RecordPropagation(j.physicalIDOrZero(), j.name, j.propagationOrZero())
	}
}

func (j *jobImpl) physicalIDOrZero() uint64 {
	if j.meta == nil {
		return 0
	}
	return j.meta.physicalID
}

func (j *jobImpl) propagationOrZero() time.Duration {
	if j.meta == nil {
		return 0
	}
	return j.meta.estimate()
}

// priority computes the submission priority used by SyncQueue: the job's
// metadata-derived priority when graph metadata is enabled, zero otherwise
// (falling back to FIFO-like ordering among untimed jobs, per spec.md
// §4.1).
func (j *jobImpl) priority() float64 {
	return j.meta.priority()
}

// registerParent records that, when self finishes, it should report its
// propagation estimate into parent's metadata aggregate. Called from
// AddDependency only when graph metadata is enabled.
func (j *jobImpl) registerParent(parent *jobMetadata) {
	if parent == nil {
		return
	}
	j.reportMu.Lock()
	j.reportTo = append(j.reportTo, parent)
	j.reportMu.Unlock()
}
