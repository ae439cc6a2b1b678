package jobgraph

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

func nowNano() int64 { return time.Now().UnixNano() }

// Worker is one dispatch-loop goroutine bound to a bounded set of queues
// (spec.md §3 "WorkerImpl", §4.4). Its state machine is
// Constructed -> Enabled -> Running -> Disabled, matching the source
// exactly; Go's goroutine-per-worker model replaces the source's
// std::thread handle.
type Worker struct {
	handler *JobHandler
	tok     int64

	mu          sync.Mutex
	assignments []JobQueue
	rrIndex     int

	active    atomic.Bool
	enabled   atomic.Bool
	lastJobAt atomic.Int64

	// idleTicks/busyTicks count loop iterations spent idling versus
	// consuming a job, feeding the worker-idle-ratio gauge reported from
	// idle().
	idleTicks atomic.Int64
	busyTicks atomic.Int64

	// currentJob is the thread-local "this_job" of spec.md §9's design
	// notes, realized as a plain field: only this Worker's own dispatch
	// goroutine ever reads or writes it, so no synchronization is needed,
	// and Go has no public thread-local storage to back a shared accessor
	// with anyway.
	currentJob *jobImpl

	// OnEnable and OnDisable are optional hooks run on state transitions
	// (spec.md §4.4 "on_enable"/"on_disable hooks").
	OnEnable  func() error
	OnDisable func() error
}

// AddAssignment subscribes w to kind's queue, incrementing its participant
// count (used by BatchJobImpl to choose a slice count) and recording it in
// w's bounded assignment list.
func (w *Worker) AddAssignment(kind QueueKind) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.assignments) >= w.handler.cfg.MaxWorkerAssignments {
		return raiseOrReturn(w.handler.cfg.StrictMode, ErrTooManyAssignments)
	}

	q, ok := w.handler.queue(kind)
	if !ok {
		return raiseOrReturn(w.handler.cfg.StrictMode, ErrUnknownQueueKind)
	}

	q.addParticipant()
	w.assignments = append(w.assignments, q)
	return nil
}

// Enable registers w with the handler's QSBR domain, runs OnEnable, and
// launches its dispatch loop on a new goroutine tracked by the handler's
// shutdown errgroup.
func (w *Worker) Enable() error {
	if !w.enabled.CompareAndSwap(false, true) {
		return raiseOrReturn(w.handler.cfg.StrictMode, ErrAlreadyEnabled)
	}

	if err := w.handler.qsbrDomain.RegisterThread(w.tok); err != nil {
		return err
	}

	if w.OnEnable != nil {
		if err := w.OnEnable(); err != nil {
			w.handler.cfg.logger().Warn("worker OnEnable failed", "worker", w.tok, "err", err)
		}
	}

	w.active.Store(true)
	w.handler.eg.Go(func() error {
		w.loop()
		return nil
	})
	return nil
}

// Disable exchanges active from true to false, so the dispatch loop exits
// once its current job (if any) finishes, then runs OnDisable and
// unregisters w from QSBR on the calling goroutine. It does not wait for
// the loop to exit: OnDisable and the unregistration may happen while a
// fetched job is still running. Jobs already fetched run to completion; no
// new job is fetched once active is false (spec.md §4.4 cancellation
// semantics).
func (w *Worker) Disable() error {
	if !w.active.CompareAndSwap(true, false) {
		return raiseOrReturn(w.handler.cfg.StrictMode, ErrWorkerDisabled)
	}

	if w.OnDisable != nil {
		if err := w.OnDisable(); err != nil {
			w.handler.cfg.logger().Warn("worker OnDisable failed", "worker", w.tok, "err", err)
		}
	}

	return w.handler.qsbrDomain.UnregisterThread(w.tok)
}

// loop is spec.md §4.4's main dispatch loop.
func (w *Worker) loop() {
	for w.active.Load() {
		if jb, ok := w.fetch(); ok {
			w.consume(jb)
			w.lastJobAt.Store(nowNano())
			w.busyTicks.Add(1)
		} else {
			w.idle()
		}
	}
}

// fetch round-robins over w's assigned queues, bounded to
// Config.FetchRetries full passes (at least one) (spec.md §4.4 "fetch_job
// round-robins over the worker's assigned queues").
func (w *Worker) fetch() (*jobImpl, bool) {
	w.mu.Lock()
	n := len(w.assignments)
	if n == 0 {
		w.mu.Unlock()
		return nil, false
	}
	start := w.rrIndex
	w.rrIndex = (w.rrIndex + 1) % n
	assignments := w.assignments
	w.mu.Unlock()

	passes := w.handler.cfg.FetchRetries
	if passes < 1 {
		passes = 1
	}
	for pass := 0; pass < passes; pass++ {
		for i := 0; i < n; i++ {
			if jb, ok := assignments[(start+i)%n].fetch(); ok {
				return jb, true
			}
		}
	}
	return nil, false
}

// consume swaps in jb as the current job, runs it, and restores the prior
// handle (spec.md §4.4: "the only state the core needs to expose 'the
// currently executing job' to user callbacks"). jb.run re-panics after its
// own bookkeeping (finished + detachChildren) completes; consume recovers
// that here so one job's panic surfaces to the logger without taking the
// rest of the worker bank down with it — the "wrap to prevent thread loss"
// hardening spec.md §7 explicitly allows as optional.
func (w *Worker) consume(jb *jobImpl) {
	prev := w.currentJob
	w.currentJob = jb
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.handler.cfg.logger().Error("job panicked", "worker", w.tok, "job", jb.name, "panic", r)
			}
		}()
		jb.run(w.tok)
	}()
	w.currentJob = prev
}

// idle dispatches to sleep or yield based on the sleep threshold (spec.md
// §4.4), piggybacks an opportunistic QSBR reclamation pass on the tick, and
// reports this worker's idle-ratio gauge.
func (w *Worker) idle() {
	w.handler.reclaimOnce(w.tok)
	w.idleTicks.Add(1)
	w.reportIdleRatio()

	elapsed := time.Duration(nowNano() - w.lastJobAt.Load())
	if elapsed > w.handler.cfg.SleepThreshold {
		time.Sleep(w.handler.cfg.IdleSleep)
	} else {
		runtime.Gosched()
	}
}

// reportIdleRatio feeds Config.Metrics' worker-idle-ratio gauge with the
// fraction of this worker's loop iterations spent idling since it was
// enabled.
func (w *Worker) reportIdleRatio() {
	if w.handler.cfg.Metrics == nil {
		return
	}
	idle := w.idleTicks.Load()
	busy := w.busyTicks.Load()
	total := idle + busy
	if total == 0 {
		return
	}
	w.handler.cfg.Metrics.SetWorkerIdleRatio(strconv.FormatInt(w.tok, 10), float64(idle)/float64(total))
}
