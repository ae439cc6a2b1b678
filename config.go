package jobgraph

import (
	"time"

	"github.com/go-foundations/jobgraph/internal/telemetry"
)

// Config tunes a JobHandler. The zero value is not meant to be used
// directly; call DefaultConfig and override individual fields, matching the
// teacher's Config/DefaultConfig pattern.
type Config struct {
	// Logger receives structured diagnostics from the dispatch loop and
	// handler lifecycle. Defaults to telemetry.NoopLogger{}.
	Logger telemetry.Logger

	// Metrics, when non-nil, records queue depth, job duration, worker idle
	// ratio, and QSBR grace advances. Defaults to nil (no collection cost).
	Metrics *telemetry.Metrics

	// StrictMode makes ProgrammingError conditions (§7) panic instead of
	// returning an error, for parity with the source's debug assertions.
	// Defaults to true.
	StrictMode bool

	// EnableGraphMetadata turns on the optional per-job physical-id, name,
	// last-runtime, and propagation-estimate bookkeeping described in
	// SPEC_FULL.md §4.6. Defaults to false.
	EnableGraphMetadata bool

	// SleepThreshold is how long a worker may go without consuming a job
	// before idle() sleeps instead of yielding.
	SleepThreshold time.Duration

	// IdleSleep is how long a worker sleeps once past SleepThreshold.
	IdleSleep time.Duration

	// MaxWorkerAssignments bounds how many queues a single worker may be
	// assigned to (spec.md §4.4: "a small constant, e.g. 2").
	MaxWorkerAssignments int

	// JobPoolBlockSize, NodePoolBlockSize, and BatchPoolBlockSize size the
	// block-growth increment of the three allocator pools (§5/§3.1).
	JobPoolBlockSize   int
	NodePoolBlockSize  int
	BatchPoolBlockSize int

	// MaxBatchSlices clamps the number of parallel process jobs a
	// BatchJobImpl may fan out to, regardless of batch_size_hint and worker
	// count (spec.md §4.2).
	MaxBatchSlices int

	// FetchRetries bounds how many times a worker's fetch_job round-robins
	// over its assigned queues before declaring itself idle for this tick.
	FetchRetries int
}

// DefaultConfig returns a Config with the teacher's conservative,
// production-shaped defaults.
func DefaultConfig() Config {
	return Config{
		Logger:                telemetry.NoopLogger{},
		Metrics:               nil,
		StrictMode:            true,
		EnableGraphMetadata:   false,
		SleepThreshold:        2 * time.Millisecond,
		IdleSleep:             500 * time.Microsecond,
		MaxWorkerAssignments:  2,
		JobPoolBlockSize:      256,
		NodePoolBlockSize:     256,
		BatchPoolBlockSize:    32,
		MaxBatchSlices:        64,
		FetchRetries:          4,
	}
}

func (c Config) logger() telemetry.Logger {
	if c.Logger == nil {
		return telemetry.NoopLogger{}
	}
	return c.Logger
}
