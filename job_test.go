package jobgraph_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/go-foundations/jobgraph"
)

type JobTestSuite struct {
	suite.Suite
}

func TestJobTestSuite(t *testing.T) {
	suite.Run(t, new(JobTestSuite))
}

func newTestHandler(strict bool) *jobgraph.JobHandler {
	cfg := jobgraph.DefaultConfig()
	cfg.StrictMode = strict
	return jobgraph.NewHandler(cfg)
}

func newSingleWorkerHandler(t *testing.T, strict bool) (*jobgraph.JobHandler, *jobgraph.Worker) {
	h := newTestHandler(strict)
	w := h.MakeWorker()
	if err := w.AddAssignment(jobgraph.Async); err != nil {
		t.Fatalf("AddAssignment: %v", err)
	}
	if err := w.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	return h, w
}

// TestDiamond is scenario E1: jobs A (x=1), B (x+=2), C (x*=10), D (reads
// x), edges B<-A, C<-A, D<-B, D<-C. Both serializations of B/C are valid;
// D must observe both finished.
func (ts *JobTestSuite) TestDiamond() {
	h, _ := newSingleWorkerHandler(ts.T(), true)
	defer h.Shutdown()

	var mu sync.Mutex
	x := 0

	a := h.MakeJob(func() {
		mu.Lock()
		x = 1
		mu.Unlock()
	}, jobgraph.Async)
	b := h.MakeJob(func() {
		mu.Lock()
		x += 2
		mu.Unlock()
	}, jobgraph.Async)
	c := h.MakeJob(func() {
		mu.Lock()
		x *= 10
		mu.Unlock()
	}, jobgraph.Async)
	d := h.MakeJob(func() {
		ts.True(b.IsFinished())
		ts.True(c.IsFinished())
	}, jobgraph.Async)

	ts.Require().NoError(b.AddDependency(a))
	ts.Require().NoError(c.AddDependency(a))
	ts.Require().NoError(d.AddDependency(b))
	ts.Require().NoError(d.AddDependency(c))

	ts.Require().NoError(a.Enable())
	ts.Require().NoError(b.Enable())
	ts.Require().NoError(c.Enable())
	ts.Require().NoError(d.Enable())

	d.WaitUntilFinished()

	mu.Lock()
	final := x
	mu.Unlock()
	ts.Truef(final == 12 || final == 30, "unexpected final x=%d", final)
}

// TestAttachFinishRace exercises invariant 5: many goroutines race to
// attach a dependant to a job that is enabled and may finish at any
// moment. Every attacher must end up decremented exactly once, either via
// the parent's detachChildren or via its own compensating decrement, so
// every dependant eventually becomes ready and finishes.
func (ts *JobTestSuite) TestAttachFinishRace() {
	h, _ := newSingleWorkerHandler(ts.T(), true)
	defer h.Shutdown()

	const n = 200
	p := h.MakeJob(func() {}, jobgraph.Async)
	ds := make([]*jobgraph.Job, n)
	for i := range ds {
		ds[i] = h.MakeJob(func() {}, jobgraph.Async)
	}

	ts.Require().NoError(p.Enable())

	var wg sync.WaitGroup
	for _, d := range ds {
		wg.Add(1)
		go func(d *jobgraph.Job) {
			defer wg.Done()
			_ = d.AddDependency(p)
			_ = d.Enable()
		}(d)
	}
	wg.Wait()

	for _, d := range ds {
		d.WaitUntilFinished()
		ts.True(d.IsFinished())
	}
}

// TestFanOutOfThousand is scenario E2: a root and 1000 leaves each
// depending on it, each incrementing a shared counter; a sink depending on
// every leaf must observe the counter at exactly 1000.
func (ts *JobTestSuite) TestFanOutOfThousand() {
	h := newTestHandler(true)
	for i := 0; i < 4; i++ {
		w := h.MakeWorker()
		ts.Require().NoError(w.AddAssignment(jobgraph.Async))
		ts.Require().NoError(w.Enable())
	}
	defer h.Shutdown()

	const n = 1000
	var counter atomic.Int64

	root := h.MakeJob(func() {}, jobgraph.Async)
	leaves := make([]*jobgraph.Job, n)
	for i := range leaves {
		leaves[i] = h.MakeJob(func() { counter.Add(1) }, jobgraph.Async)
		ts.Require().NoError(leaves[i].AddDependency(root))
	}

	sink := h.MakeJob(func() {}, jobgraph.Async)
	for _, leaf := range leaves {
		ts.Require().NoError(sink.AddDependency(leaf))
	}

	ts.Require().NoError(root.Enable())
	for _, leaf := range leaves {
		ts.Require().NoError(leaf.Enable())
	}
	ts.Require().NoError(sink.Enable())

	sink.WaitUntilFinished()
	ts.EqualValues(n, counter.Load())
}

func (ts *JobTestSuite) TestEnableIsIdempotentAfterFirstCall() {
	h := newTestHandler(false)
	defer h.Shutdown()

	j := h.MakeJob(func() {}, jobgraph.Async)
	ts.Require().NoError(j.Enable())
	err := j.Enable()
	ts.ErrorIs(err, jobgraph.ErrAlreadyEnabled)
}

func (ts *JobTestSuite) TestAddDependencyAfterEnableFails() {
	h := newTestHandler(false)
	defer h.Shutdown()

	a := h.MakeJob(func() {}, jobgraph.Async)
	d := h.MakeJob(func() {}, jobgraph.Async)
	ts.Require().NoError(d.Enable())

	err := d.AddDependency(a)
	ts.ErrorIs(err, jobgraph.ErrDependencyAfterEnable)
}

// TestAddDependencyTwiceIsNotSetLike exercises the idempotence law that
// add_dependency on the same pair twice produces two decrements: the
// dependant must not become ready (and must not run twice) until both
// attaches have been resolved by the parent's completion.
func (ts *JobTestSuite) TestAddDependencyTwiceIsNotSetLike() {
	h, _ := newSingleWorkerHandler(ts.T(), true)
	defer h.Shutdown()

	a := h.MakeJob(func() {}, jobgraph.Async)
	var runs atomic.Int32
	d := h.MakeJob(func() { runs.Add(1) }, jobgraph.Async)

	ts.Require().NoError(d.AddDependency(a))
	ts.Require().NoError(d.AddDependency(a))
	ts.Require().NoError(d.Enable())
	ts.Require().NoError(a.Enable())

	d.WaitUntilFinished()
	ts.EqualValues(1, runs.Load())
}

func (ts *JobTestSuite) TestWorkUntilFinishedDrainsInline() {
	h := newTestHandler(true)
	defer h.Shutdown()
	// Deliberately no workers enabled: WorkUntilFinished must drain the
	// queue itself on the calling goroutine.

	a := h.MakeJob(func() {}, jobgraph.Async)
	b := h.MakeJob(func() {}, jobgraph.Async)
	ts.Require().NoError(b.AddDependency(a))
	ts.Require().NoError(a.Enable())
	ts.Require().NoError(b.Enable())

	b.WorkUntilFinished(jobgraph.Async)
	ts.True(b.IsFinished())
}

// TestPanicInWorkUnitStillReleasesChildren exercises spec.md §7: a panic
// inside a work unit must not prevent the job from being marked finished or
// its dependants from being released. jobImpl.run recovers just long enough
// to finish its own bookkeeping and then re-panics; Worker.consume recovers
// that re-panic on the worker goroutine itself, so the panic never
// propagates past the worker that happened to run it, and that worker's
// dispatch loop keeps running. Two workers are enabled, so d may run on
// either of them.
func (ts *JobTestSuite) TestPanicInWorkUnitStillReleasesChildren() {
	h := newTestHandler(true)
	for i := 0; i < 2; i++ {
		w := h.MakeWorker()
		ts.Require().NoError(w.AddAssignment(jobgraph.Async))
		ts.Require().NoError(w.Enable())
	}
	defer h.Shutdown()

	a := h.MakeJob(func() { panic("boom") }, jobgraph.Async)
	var ran atomic.Bool
	d := h.MakeJob(func() { ran.Store(true) }, jobgraph.Async)
	ts.Require().NoError(d.AddDependency(a))
	ts.Require().NoError(d.Enable())
	ts.Require().NoError(a.Enable())

	d.WaitUntilFinished()
	ts.True(ran.Load())
	ts.True(a.IsFinished())
}
