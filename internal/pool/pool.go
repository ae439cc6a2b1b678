// Package pool implements the fixed-size-class object pools described in
// §5 of the spec ("Allocators: three pools — one for JobImpl, one for
// JobNode, one for BatchJobImpl"). It is a direct port of the block-growth
// strategy in gdul's concurrent_object_pool.h: objects are handed out from
// a free list; when the free list runs dry, a new block of blockSize
// objects is allocated and fed in. The pool only ever grows during a
// handler's lifetime — Put never shrinks the backing storage, it only
// returns an object to the free list.
package pool

import "sync"

// Pool is a growable, concurrency-safe free list of *T, allocated in
// blocks of blockSize. The zero value is not usable; construct with New.
type Pool[T any] struct {
	blockSize int
	newObject func() *T

	mu        sync.Mutex
	free      []*T
	allocated int
}

// New constructs a Pool that grows blockSize objects at a time, created by
// newObject. blockSize is clamped to at least 1.
func New[T any](blockSize int, newObject func() *T) *Pool[T] {
	if blockSize < 1 {
		blockSize = 1
	}
	p := &Pool[T]{
		blockSize: blockSize,
		newObject: newObject,
	}
	p.growLocked()
	return p
}

// Get removes and returns an object from the free list, growing the pool
// by one block first if the list is empty.
func (p *Pool[T]) Get() *T {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		p.growLocked()
	}

	last := len(p.free) - 1
	obj := p.free[last]
	p.free[last] = nil
	p.free = p.free[:last]
	return obj
}

// Put returns obj to the free list for reuse. Callers are responsible for
// ensuring obj is not referenced by any other goroutine when Put is called
// (in the job graph core, this is guaranteed by a QSBR grace period having
// elapsed since the object was retired).
func (p *Pool[T]) Put(obj *T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, obj)
}

// Available reports how many objects currently sit in the free list.
func (p *Pool[T]) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Allocated reports the total number of objects ever constructed by this
// pool (in use or free).
func (p *Pool[T]) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

func (p *Pool[T]) growLocked() {
	for i := 0; i < p.blockSize; i++ {
		p.free = append(p.free, p.newObject())
	}
	p.allocated += p.blockSize
}
