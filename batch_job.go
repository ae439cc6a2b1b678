package jobgraph

import "sync/atomic"

// BatchProcessor processes one slice of a batch job: it reads inSlice and
// writes into outSlice (which the caller may alias with the corresponding
// input slice for an in-place transform, or size identically to inSlice
// for a map, or leave partially written for a filter), returning how many
// elements of outSlice it actually wrote. This single shape covers all
// four process-delegate variants named in spec.md §4.2 (map, in-place,
// filter, explicit-count sink) — the distinction is entirely in what the
// caller's function body does and how finalize's compaction uses the
// returned count.
type BatchProcessor[In, Out any] func(inSlice []In, outSlice []Out) (written int)

// batchJobImpl is the non-generic scheduling record behind a BatchJob: the
// initialize/slice/finalize jobs and the output-size counter (spec.md §3
// "BatchJobImpl"). It carries no type parameters so it can be pool-managed
// like jobImpl and jobNode; the generic process closures live entirely
// inside the slice jobs' work units.
type batchJobImpl struct {
	handler    *JobHandler
	initialize *jobImpl
	slices     []*jobImpl
	finalize   *jobImpl
	outputSize atomic.Int64
}

// BatchJob is the public handle over a batchJobImpl (spec.md §6).
type BatchJob[In, Out any] struct {
	impl *batchJobImpl
}

// maxSlicesClamp is the implementation ceiling on slice count referenced by
// spec.md §4.2 ("clamped to [1, MAX_SLICES]") when a handler's
// Config.MaxBatchSlices is left at its zero value.
const maxSlicesClamp = 64

// toBatchSize picks the slice count K from the batch-size hint and the
// number of workers assigned to the target queue, clamped to
// [1, maxSlices] (spec.md §4.2). Adapted from the teacher's chunked
// strategy's chunk-count derivation.
func toBatchSize(inputLen, hint, participants, maxSlices int) int {
	if maxSlices <= 0 {
		maxSlices = maxSlicesClamp
	}
	if inputLen <= 0 {
		return 1
	}

	k := hint
	if k <= 0 {
		k = participants
	}
	if k <= 0 {
		k = 1
	}
	if k > inputLen {
		k = inputLen
	}
	if k > maxSlices {
		k = maxSlices
	}
	if k < 1 {
		k = 1
	}
	return k
}

// sliceBounds splits an n-length container into k near-equal slices,
// distributing the remainder across the first slices, and returns the
// [lo, hi) range for slice idx.
func sliceBounds(n, k, idx int) (int, int) {
	base := n / k
	rem := n % k
	lo := idx*base + min(idx, rem)
	hi := lo + base
	if idx < rem {
		hi++
	}
	return lo, hi
}

// MakeBatchJob constructs a fork/process/join composite over in, writing
// into out via process, fanned out across K slices chosen from hint and
// target's current participant count (spec.md §4.2). MakeBatchJob is a
// free function rather than a JobHandler method because Go methods cannot
// carry their own type parameters.
func MakeBatchJob[In, Out any](h *JobHandler, in []In, out []Out, process BatchProcessor[In, Out], hint int, target QueueKind) *BatchJob[In, Out] {
	q, ok := h.queue(target)
	participants := 0
	if ok {
		participants = int(q.participants())
	}

	k := toBatchSize(len(in), hint, participants, h.cfg.MaxBatchSlices)

	bji := h.batchPool.Get()
	bji.handler = h
	bji.slices = bji.slices[:0]
	bji.outputSize.Store(0)

	bji.initialize = h.MakeJob(func() {}, target).impl

	written := make([]int, k)
	tmp := make([][]Out, k)

	for i := 0; i < k; i++ {
		idx := i
		lo, hi := sliceBounds(len(in), k, idx)
		tmp[idx] = make([]Out, hi-lo)

		sliceJob := h.MakeJob(func() {
			written[idx] = process(in[lo:hi], tmp[idx])
		}, target)

		if err := sliceJob.AddDependency(&Job{impl: bji.initialize}); err != nil {
			h.cfg.logger().Error("batch slice dependency on initialize failed", "err", err)
		}
		if err := sliceJob.Enable(); err != nil {
			h.cfg.logger().Error("batch slice enable failed", "err", err)
		}

		bji.slices = append(bji.slices, sliceJob.impl)
	}

	bji.finalize = h.MakeJob(func() {
		offset := 0
		for i, slice := range tmp {
			n := written[i]
			if n > len(slice) {
				n = len(slice)
			}
			offset += copy(out[offset:], slice[:n])
		}
		bji.outputSize.Store(int64(offset))
	}, target).impl

	finalizeJob := &Job{impl: bji.finalize}
	for _, sliceImpl := range bji.slices {
		if err := finalizeJob.AddDependency(&Job{impl: sliceImpl}); err != nil {
			h.cfg.logger().Error("batch finalize dependency on slice failed", "err", err)
		}
	}
	if err := finalizeJob.Enable(); err != nil {
		h.cfg.logger().Error("batch finalize enable failed", "err", err)
	}

	return &BatchJob[In, Out]{impl: bji}
}

// AddDependency adds other as a dependency of the composite's initialize
// job (spec.md §4.2).
func (b *BatchJob[In, Out]) AddDependency(other *Job) error {
	return (&Job{impl: b.impl.initialize}).AddDependency(other)
}

// Enable releases the composite's initialize job into its target queue.
func (b *BatchJob[In, Out]) Enable() error {
	return (&Job{impl: b.impl.initialize}).Enable()
}

// EnableLocallyIfReady enables the composite and, if its initialize job's
// dependencies are already fully resolved, runs it inline on the calling
// goroutine instead of round-tripping through a queue (spec.md §4.2). The
// slice and finalize jobs still dispatch normally through their target
// queue. Returns whether the inline run happened.
func (b *BatchJob[In, Out]) EnableLocallyIfReady() bool {
	impl := b.impl.initialize
	shouldEnqueue, err := impl.enable()
	if err != nil {
		raiseOrReturn(impl.handler.cfg.StrictMode, err)
		return false
	}
	if !shouldEnqueue {
		return false
	}

	tok, release := impl.handler.acquireCallerToken()
	defer release()
	impl.run(tok)
	return true
}

// IsFinished reports whether the composite's finalize job has completed.
func (b *BatchJob[In, Out]) IsFinished() bool {
	return b.impl.finalize.finished.Load()
}

// WaitUntilFinished blocks until the composite's finalize job completes.
func (b *BatchJob[In, Out]) WaitUntilFinished() {
	(&Job{impl: b.impl.finalize}).WaitUntilFinished()
}

// GetOutputSize returns the number of elements finalize actually wrote
// into the output container (spec.md §4.2 compaction).
func (b *BatchJob[In, Out]) GetOutputSize() int {
	return int(b.impl.outputSize.Load())
}

// GetEndJob returns the composite's finalize job, letting callers chain
// further dependencies off the end of the batch (spec.md §4.2).
func (b *BatchJob[In, Out]) GetEndJob() *Job {
	return &Job{impl: b.impl.finalize}
}
