package jobgraph

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Dependency counter encoding (spec.md §3, §9 "Dependency counter
// encoding"): a single atomic.Uint32 folds "not yet enabled" and
// "waiting on N real dependencies" into one word. enableOffset is
// subtracted exactly once, by enable(), to collapse the two states.
const (
	enableOffset uint32 = math.MaxUint32/2 + 1
	maxRealDeps  uint32 = math.MaxUint32 / 2
)

// headCell is the boxed, never-recycled wrapper published onto a jobImpl's
// dependee-list head. Every push allocates a fresh headCell; CompareAndSwap
// compares *headCell identity, not *jobNode identity, so the classic
// ABA hazard of a recycled jobNode reappearing at the same address can
// never fool a stale CAS — a headCell pointer is retired from self.head at
// most once and is never handed back out by any pool. See DESIGN.md for
// the fuller argument.
type headCell struct {
	node *jobNode
}

// jobImpl is the heap-resident core job object described in spec.md §3.
type jobImpl struct {
	work    func()
	handler *JobHandler
	target  QueueKind
	name    string

	head         atomic.Pointer[headCell]
	dependencies atomic.Uint32
	finished     atomic.Bool
	enabled      atomic.Bool

	meta *jobMetadata

	reportMu sync.Mutex
	reportTo []*jobMetadata
}

// Job is the public handle over a jobImpl, mirroring spec.md's job/job_impl
// split (§6's externally-exposed Job operations).
type Job struct {
	impl *jobImpl
}

func newJobImpl(h *JobHandler, work func(), target QueueKind, name string) *jobImpl {
	j := &jobImpl{
		handler: h,
		work:    work,
		target:  target,
		name:    name,
	}
	j.dependencies.Store(enableOffset)
	return j
}

// tryAddDependency implements spec.md §4.1 step 1: increment the real
// dependency count, but only while the job has not yet been enabled.
// Returns false ("would-exceed-max"/"already enabled") without mutating
// anything on failure.
func (j *jobImpl) tryAddDependency() bool {
	for {
		d := j.dependencies.Load()
		if d < enableOffset {
			return false // already enabled (or running)
		}
		if d == math.MaxUint32 {
			return false // real-dependency count already at maxRealDeps
		}
		if j.dependencies.CompareAndSwap(d, d+1) {
			return true
		}
	}
}

// removeDependencies atomically subtracts n and returns the resulting
// counter value.
func (j *jobImpl) removeDependencies(n uint32) uint32 {
	return j.dependencies.Add(-n)
}

// enable performs the at-most-once enableOffset subtraction (spec.md §4.1
// "enable()"). The second return value reports whether the job's counter
// reached zero, i.e. whether the caller must submit it.
func (j *jobImpl) enable() (shouldEnqueue bool, err error) {
	if !j.enabled.CompareAndSwap(false, true) {
		return false, ErrAlreadyEnabled
	}
	newVal := j.dependencies.Add(-enableOffset)
	return newVal == 0, nil
}

// tryAttachChild implements spec.md §4.1 step 2: push a node naming child
// onto j's dependee list, retrying the CAS until it succeeds or j is
// observed finished (in which case the attach fails and the caller must
// compensate).
func (j *jobImpl) tryAttachChild(child *jobImpl) bool {
	node := j.handler.nodePool.Get()
	node.job = child

	for {
		if j.finished.Load() {
			node.reset()
			j.handler.nodePool.Put(node)
			return false
		}

		h := j.head.Load()
		if h != nil {
			node.next = h.node
		} else {
			node.next = nil
		}

		cell := &headCell{node: node}
		if j.head.CompareAndSwap(h, cell) {
			return true
		}
	}
}

// detachChildren implements spec.md §4.1's single-shot drain: swap the head
// to nil, walk the chain, decrement each dependant's counter, and submit
// any dependant that becomes ready. tok identifies the calling (registered)
// QSBR participant, used to defer jobNode reclamation until it is safe.
func (j *jobImpl) detachChildren(tok int64) {
	cell := j.head.Swap(nil)
	if cell == nil {
		return
	}

	var retired []*jobNode
	for node := cell.node; node != nil; {
		next := node.next
		child := node.job

		newVal := child.removeDependencies(1)
		if newVal == 0 && child.enabled.Load() {
			j.handler.enqueueReady(child)
		}

		retired = append(retired, node)
		node = next
	}

	j.handler.retireNodes(tok, retired)
}

// run executes the work unit exactly once (spec.md §4.1 "operator()"). A
// panic in the work unit is recovered so that finished-and-detach
// bookkeeping always completes (spec.md §7), then re-raised on the calling
// goroutine — Worker.consume recovers it again there so a panicking job
// doesn't take its whole worker bank down with it; a caller driving jobs
// inline via WorkUntilFinished sees the panic directly, same as any other
// call on its own goroutine.
func (j *jobImpl) run(tok int64) {
	start := time.Now()

	var workPanic any
	func() {
		defer func() { workPanic = recover() }()
		j.work()
	}()

	dur := time.Since(start)
	j.finished.Store(true)
	j.recordCompletion(dur)
	j.detachChildren(tok)

	if workPanic != nil {
		panic(workPanic)
	}
}

// AddDependency registers self (j) as waiting on other: self's dependency
// counter is incremented, then other is asked to attach a dependee node for
// self. If other has already finished, the attach fails and self's
// preemptive increment is undone (compensating it back towards ready).
func (j *Job) AddDependency(other *Job) error {
	self := j.impl

	if !self.tryAddDependency() {
		return raiseOrReturn(self.handler.cfg.StrictMode, ErrDependencyAfterEnable)
	}

	if self.handler.cfg.EnableGraphMetadata {
		self.registerParent(other.impl.meta)
	}

	if other.impl.tryAttachChild(self) {
		return nil
	}

	newVal := self.removeDependencies(1)
	if newVal == 0 && self.enabled.Load() {
		self.handler.enqueueReady(self)
	}
	return nil
}

// Enable releases j into its target queue once its dependency counter
// reaches zero. Calling Enable twice is a ProgrammingError.
func (j *Job) Enable() error {
	self := j.impl
	shouldEnqueue, err := self.enable()
	if err != nil {
		return raiseOrReturn(self.handler.cfg.StrictMode, err)
	}
	if shouldEnqueue {
		self.handler.enqueueReady(self)
	}
	return nil
}

// IsReady reports whether j's dependency counter has reached zero (and it
// has therefore been, or is about to be, submitted to its target queue).
func (j *Job) IsReady() bool {
	return j.impl.dependencies.Load() == 0
}

// IsFinished reports whether j's work unit has returned.
func (j *Job) IsFinished() bool {
	return j.impl.finished.Load()
}

// WaitUntilFinished blocks the calling goroutine until j has finished,
// without consuming jobs from any queue. Spins briefly via runtime.Gosched
// before falling back to a short sleep, avoiding a hard busy-loop.
func (j *Job) WaitUntilFinished() {
	self := j.impl
	spins := 0
	for !self.finished.Load() {
		if spins < 64 {
			runtime.Gosched()
			spins++
			continue
		}
		time.Sleep(time.Millisecond)
	}
}

// WorkUntilFinished implements spec.md §4.4's cooperative re-entry: the
// calling goroutine fetches and runs jobs from consumeFrom until j
// finishes, acting as the implicit "worker 0" described in §4.4. Callers
// should heed the stack-depth warning in spec.md when nesting this inside
// another job's work unit.
func (j *Job) WorkUntilFinished(consumeFrom QueueKind) {
	self := j.impl
	h := self.handler

	tok, release := h.acquireCallerToken()
	defer release()

	for !self.finished.Load() {
		if jb, ok := h.fetchFrom(consumeFrom); ok {
			jb.run(tok)
			continue
		}
		runtime.Gosched()
	}
}
