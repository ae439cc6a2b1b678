package jobgraph

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/go-foundations/jobgraph/internal/pool"
	"github.com/go-foundations/jobgraph/qsbr"
)

// mainCallerToken is the QSBR participant identity shared by every
// goroutine that isn't a registered Worker but still needs to run jobs
// inline (WorkUntilFinished, BatchJob's enable_locally_if_ready). It mirrors
// spec.md §4.4's "the implicit/main thread acts as worker 0". Because Go
// has no thread-local storage, a single shared token stands in for every
// such caller; JobHandler.mainTokMu is held for the whole inline call, so
// such callers run one at a time and the token's QSBR participant state is
// never used by two goroutines at once (see DESIGN.md).
const mainCallerToken int64 = 0

// retiredNode is a jobNode awaiting a QSBR grace period before it is safe
// to return to the node pool.
type retiredNode struct {
	item *qsbr.Item
	node *jobNode
}

// JobHandler owns the worker bank, the three allocator pools, the concrete
// queues, and the QSBR domain guarding jobNode reclamation (spec.md §2
// "JobHandlerImpl").
type JobHandler struct {
	cfg Config

	qsbrDomain *qsbr.Domain
	mainTokMu  sync.Mutex

	jobPool   *pool.Pool[jobImpl]
	nodePool  *pool.Pool[jobNode]
	batchPool *pool.Pool[batchJobImpl]

	queues map[QueueKind]JobQueue

	nextWorkerTok  atomic.Int64
	nextPhysicalID atomic.Uint64

	metaMu sync.Mutex
	meta   map[string]*jobMetadata

	retireMu sync.Mutex
	retired  []retiredNode

	workersMu sync.Mutex
	workers   []*Worker

	eg *errgroup.Group
}

// NewHandler constructs a JobHandler, pre-sizing its allocator pools and
// registering the implicit main caller token with its QSBR domain.
func NewHandler(cfg Config) *JobHandler {
	h := &JobHandler{
		cfg:        cfg,
		qsbrDomain: qsbr.NewDomain(),
		queues: map[QueueKind]JobQueue{
			Async: newAsyncQueue(),
			Sync:  newSyncQueue(),
		},
		meta: make(map[string]*jobMetadata),
		eg:   &errgroup.Group{},
	}

	h.jobPool = pool.New(cfg.JobPoolBlockSize, func() *jobImpl { return &jobImpl{} })
	h.nodePool = pool.New(cfg.NodePoolBlockSize, func() *jobNode { return &jobNode{} })
	h.batchPool = pool.New(cfg.BatchPoolBlockSize, func() *batchJobImpl { return &batchJobImpl{} })

	if err := h.qsbrDomain.RegisterThread(mainCallerToken); err != nil {
		// MaxThreads is 64 and this is the very first registration; this
		// path cannot fail in practice.
		panic(errors.Wrap(err, "registering implicit main caller token"))
	}

	return h
}

func (h *JobHandler) queue(kind QueueKind) (JobQueue, bool) {
	q, ok := h.queues[kind]
	return q, ok
}

// MakeJob allocates a job from the pool wrapping work, targeting target,
// with an auto-generated name.
func (h *JobHandler) MakeJob(work func(), target QueueKind) *Job {
	return h.MakeNamedJob("", work, target)
}

// MakeNamedJob is MakeJob with an explicit, stable name. Naming a job lets
// its graph-metadata aggregate (lastRuntime/propagation) persist across
// repeated construction under the same name, the way a recurring frame job
// would in the system this core is modeled on. An empty name gets a
// generated one (github.com/google/uuid), which still participates in
// metadata but never accumulates history across separate MakeNamedJob
// calls.
func (h *JobHandler) MakeNamedJob(name string, work func(), target QueueKind) *Job {
	if name == "" {
		name = uuid.NewString()
	}

	impl := h.jobPool.Get()
	impl.handler = h
	impl.work = work
	impl.target = target
	impl.name = name
	impl.dependencies.Store(enableOffset)
	impl.finished.Store(false)
	impl.enabled.Store(false)
	impl.head.Store(nil)
	impl.reportTo = impl.reportTo[:0]
	impl.meta = nil

	if h.cfg.EnableGraphMetadata {
		impl.meta = h.metadataFor(name)
	}

	return &Job{impl: impl}
}

func (h *JobHandler) metadataFor(name string) *jobMetadata {
	h.metaMu.Lock()
	defer h.metaMu.Unlock()

	if m, ok := h.meta[name]; ok {
		return m
	}
	m := &jobMetadata{
		physicalID: h.nextPhysicalID.Add(1),
		name:       name,
	}
	h.meta[name] = m
	return m
}

// MakeWorker allocates a new, disabled Worker bound to this handler.
func (h *JobHandler) MakeWorker() *Worker {
	tok := h.nextWorkerTok.Add(1)
	w := &Worker{
		handler: h,
		tok:     tok,
	}
	w.lastJobAt.Store(nowNano())

	h.workersMu.Lock()
	h.workers = append(h.workers, w)
	h.workersMu.Unlock()

	return w
}

// enqueueReady submits j to its target queue, using its metadata-derived
// priority when graph metadata is enabled (spec.md §4.1's propagation-time
// estimator feeds SyncQueue's ordering key; AsyncQueue ignores the value).
func (h *JobHandler) enqueueReady(j *jobImpl) {
	q, ok := h.queue(j.target)
	if !ok {
		h.cfg.logger().Error("enqueueReady: unknown queue kind", "kind", j.target.String())
		return
	}
	q.submit(j, j.priority())
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.SetQueueDepth(j.target.String(), q.depth())
	}
}

// fetchFrom pulls the next ready job from the named queue, used by
// WorkUntilFinished.
func (h *JobHandler) fetchFrom(kind QueueKind) (*jobImpl, bool) {
	q, ok := h.queue(kind)
	if !ok {
		return nil, false
	}
	return q.fetch()
}

// acquireCallerToken hands out the shared implicit main-caller QSBR token
// to a non-worker goroutine, serialized by mainTokMu (see mainCallerToken).
func (h *JobHandler) acquireCallerToken() (int64, func()) {
	h.mainTokMu.Lock()
	return mainCallerToken, h.mainTokMu.Unlock
}

// retireNodes publishes a QSBR item covering nodes and queues them for
// opportunistic reclamation (see reclaimOnce), rather than returning them
// to the node pool immediately. The item's mask covers only trackers that
// are inside a QSBR critical section at this moment; attachers
// (tryAttachChild) do not open one, so they are not waited on. Attachers
// compare and swap never-recycled *headCell values and never read a
// retired node's fields (see job.go's headCell doc comment).
func (h *JobHandler) retireNodes(tok int64, nodes []*jobNode) {
	if len(nodes) == 0 {
		return
	}
	item := &qsbr.Item{}
	if _, err := h.qsbrDomain.Initialize(tok, item); err != nil {
		h.cfg.logger().Warn("qsbr initialize failed, leaking nodes back via GC", "err", err)
		return
	}

	h.retireMu.Lock()
	for _, n := range nodes {
		h.retired = append(h.retired, retiredNode{item: item, node: n})
	}
	h.retireMu.Unlock()
}

// reclaimOnce advances every pending retirement's grace period by tok and
// returns any fully-cleared nodes to the node pool. Called from each
// Worker's idle() tick, piggybacking reclamation on the dispatch loop's
// existing idle cadence rather than a dedicated goroutine.
func (h *JobHandler) reclaimOnce(tok int64) {
	h.retireMu.Lock()
	pending := h.retired
	h.retired = nil
	h.retireMu.Unlock()

	if len(pending) == 0 {
		return
	}

	var stillPending []retiredNode
	for _, r := range pending {
		done, err := h.qsbrDomain.Update(tok, r.item)
		if err != nil || !done {
			stillPending = append(stillPending, r)
			continue
		}
		r.node.reset()
		h.nodePool.Put(r.node)
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.IncQSBRGraceAdvance()
		}
	}

	if len(stillPending) > 0 {
		h.retireMu.Lock()
		h.retired = append(h.retired, stillPending...)
		h.retireMu.Unlock()
	}
}

// Shutdown disables every worker created by this handler and waits for
// their dispatch loops to return. golang.org/x/sync is already part of this
// module's dependency surface (azcopy's go.mod carries it, for its
// semaphore package); errgroup is the same module's WaitGroup-plus-error
// fan-in, used here in place of a bare sync.WaitGroup so a future
// loop-level error (as opposed to the per-job panics Worker.consume already
// recovers and logs) has somewhere to surface from Wait.
func (h *JobHandler) Shutdown() error {
	h.workersMu.Lock()
	workers := h.workers
	h.workersMu.Unlock()

	for _, w := range workers {
		if w.active.Load() {
			if err := w.Disable(); err != nil {
				h.cfg.logger().Warn("worker disable failed during shutdown", "worker", w.tok, "err", err)
			}
		}
	}

	return h.eg.Wait()
}
