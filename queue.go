package jobgraph

import "github.com/go-foundations/jobgraph/queues"

// QueueKind names one of the two concrete queue policies a job or worker
// can target (spec.md §2/§4.3).
type QueueKind int

const (
	// Async targets the relaxed-FIFO AsyncQueue.
	Async QueueKind = iota
	// Sync targets the priority-ordered SyncQueue.
	Sync
)

func (k QueueKind) String() string {
	switch k {
	case Async:
		return "async"
	case Sync:
		return "sync"
	default:
		return "unknown"
	}
}

// JobQueue is the abstract submit/fetch contract shared by every concrete
// queue (spec.md §4.3). Its methods are unexported because their payload
// type, *jobImpl, never needs to leave this package, so only this package
// can implement it; asyncQueue and syncQueue below adapt the generic,
// exported queues.AsyncQueue/SyncQueue to it.
type JobQueue interface {
	submit(j *jobImpl, priority float64)
	fetch() (*jobImpl, bool)
	addParticipant() int32
	participants() int32
	depth() int
}

// asyncQueueSegments is the number of segments an AsyncQueue spreads
// submissions across.
const asyncQueueSegments = 8

type asyncQueue struct {
	q *queues.AsyncQueue[*jobImpl]
}

func newAsyncQueue() *asyncQueue {
	return &asyncQueue{q: queues.NewAsync[*jobImpl](asyncQueueSegments)}
}

func (a *asyncQueue) submit(j *jobImpl, _ float64) { a.q.Submit(j) }
func (a *asyncQueue) fetch() (*jobImpl, bool)      { return a.q.Fetch() }
func (a *asyncQueue) addParticipant() int32        { return a.q.AddParticipant() }
func (a *asyncQueue) participants() int32          { return a.q.Participants() }
func (a *asyncQueue) depth() int                   { return a.q.Depth() }

type syncQueue struct {
	q *queues.SyncQueue[*jobImpl]
}

func newSyncQueue() *syncQueue {
	return &syncQueue{q: queues.NewSync[*jobImpl]()}
}

func (s *syncQueue) submit(j *jobImpl, priority float64) { s.q.Submit(j, priority) }
func (s *syncQueue) fetch() (*jobImpl, bool)             { return s.q.Fetch() }
func (s *syncQueue) addParticipant() int32               { return s.q.AddParticipant() }
func (s *syncQueue) participants() int32                 { return s.q.Participants() }
func (s *syncQueue) depth() int                          { return s.q.Depth() }
