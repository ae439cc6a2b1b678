package jobgraph_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/go-foundations/jobgraph"
	"github.com/go-foundations/jobgraph/internal/telemetry"
)

type HandlerTestSuite struct {
	suite.Suite
}

func TestHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (ts *HandlerTestSuite) TestShutdownStopsAllWorkers() {
	h := newTestHandler(true)
	for i := 0; i < 3; i++ {
		w := h.MakeWorker()
		ts.Require().NoError(w.AddAssignment(jobgraph.Async))
		ts.Require().NoError(w.Enable())
	}

	j := h.MakeJob(func() {}, jobgraph.Async)
	ts.Require().NoError(j.Enable())
	j.WaitUntilFinished()

	ts.Require().NoError(h.Shutdown())
}

// TestNamedJobMetadataPersistsAcrossInvocations exercises the
// cross-invocation metadata aggregate: two jobs created under the same name
// share one metadata record, so DumpGraph reports that name under a single
// physical id with a recorded runtime.
func (ts *HandlerTestSuite) TestNamedJobMetadataPersistsAcrossInvocations() {
	cfg := jobgraph.DefaultConfig()
	cfg.EnableGraphMetadata = true
	reg := prometheus.NewRegistry()
	cfg.Metrics = telemetry.NewMetrics(reg)
	h := jobgraph.NewHandler(cfg)

	w := h.MakeWorker()
	ts.Require().NoError(w.AddAssignment(jobgraph.Async))
	ts.Require().NoError(w.Enable())
	defer h.Shutdown()

	first := h.MakeNamedJob("recurring", func() { time.Sleep(2 * time.Millisecond) }, jobgraph.Async)
	ts.Require().NoError(first.Enable())
	first.WaitUntilFinished()

	second := h.MakeNamedJob("recurring", func() {}, jobgraph.Async)
	ts.Require().NoError(second.Enable())
	second.WaitUntilFinished()

	snap := cfg.Metrics.DumpGraph()
	var found bool
	rows := 0
	for _, row := range snap {
		if row.Name == "recurring" {
			found = true
			rows++
			ts.True(row.LastRuntime >= 0)
		}
	}
	ts.True(found)
	ts.Equal(1, rows, "both invocations share one physical id")
}

func (ts *HandlerTestSuite) TestWorkerAssignmentLimitReached() {
	h := newTestHandler(false)
	defer h.Shutdown()

	w := h.MakeWorker()
	ts.Require().NoError(w.AddAssignment(jobgraph.Async))
	ts.Require().NoError(w.AddAssignment(jobgraph.Sync))

	err := w.AddAssignment(jobgraph.Async)
	ts.ErrorIs(err, jobgraph.ErrTooManyAssignments)
}

func (ts *HandlerTestSuite) TestUnknownQueueKindAssignmentFails() {
	h := newTestHandler(false)
	defer h.Shutdown()

	w := h.MakeWorker()
	err := w.AddAssignment(jobgraph.QueueKind(99))
	ts.ErrorIs(err, jobgraph.ErrUnknownQueueKind)
}
