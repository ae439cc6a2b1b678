// Package qsbr implements quiescent-state-based reclamation: a fixed
// participant, lock-free scheme that lets concurrent readers publish grace
// periods so a writer can tell when it is safe to reuse memory that those
// readers might still be looking at.
//
// Ported from the tracker/mask design in gdul's qsbr.h/qsbr.cpp: each
// registered thread owns one tracker slot with an iteration counter that is
// even while the thread is quiescent and odd while it is inside a critical
// section. An Item carries one bit per tracker; Update clears a bit once
// that tracker has completed a full even transition since the item was
// published, and the item is reclaimable once its mask is all zero.
package qsbr

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// MaxThreads bounds the number of concurrently registered participants.
// Matches the gdul source's fixed MaxThreads = 64.
const MaxThreads = 64

// ErrMaxThreadsExceeded is returned by RegisterThread when every tracker
// slot is already occupied.
var ErrMaxThreadsExceeded = errors.New("qsbr: max threads exceeded")

// ErrNestedCriticalSection is returned when a thread tries to open a second
// critical section while already inside one.
var ErrNestedCriticalSection = errors.New("qsbr: nested critical section")

// ErrUnregisteredThread is returned by operations that require a thread to
// have called RegisterThread first.
var ErrUnregisteredThread = errors.New("qsbr: thread not registered")

// ErrUnregisterWhileActive is returned by UnregisterThread when called from
// inside an open critical section.
var ErrUnregisterWhileActive = errors.New("qsbr: cannot unregister from within a critical section")

// tracker is padded to a cache line (per the gdul layout) so that two
// goroutines bumping adjacent trackers' iteration counters don't false-share.
type tracker struct {
	iteration uint64
	inUse     atomic.Bool
	_pad      [47]byte
}

type participant struct {
	index            int
	viewedIterations [MaxThreads]uint64
}

// Domain is one independent QSBR universe: a fixed tracker table plus the
// per-goroutine participant state needed to register, enter critical
// sections, and publish/retire Items. There is no package-level default:
// the job graph core's JobHandler constructs one Domain per handler, and
// callers embedding qsbr elsewhere construct their own.
type Domain struct {
	trackers        [MaxThreads]tracker
	lastTrackerIdx  atomic.Int32

	mu   sync.Mutex
	tls  map[int64]*participant
}

// NewDomain constructs an empty QSBR domain.
func NewDomain() *Domain {
	d := &Domain{}
	d.lastTrackerIdx.Store(-1)
	d.tls = make(map[int64]*participant)
	return d
}

// Item is a bitmask of trackers that must each observe a grace period
// before the item's payload is safe to reuse.
type Item struct {
	mask atomic.Uint64
}

// goroutineKey identifies the calling goroutine for participant lookup.
// Go has no public goroutine-local storage, so registration is keyed by a
// caller-supplied token (see RegisterThread) rather than an implicit
// thread-local, unlike the gdul source's true TLS.
type goroutineKey = int64

// RegisterThread registers the caller (identified by tok, a value unique to
// the calling goroutine such as a worker index) as a QSBR participant.
// Re-registering the same token is a no-op. Returns ErrMaxThreadsExceeded
// if every tracker slot is occupied.
func (d *Domain) RegisterThread(tok int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tls[tok]; ok {
		return nil
	}

	for i := 0; i < MaxThreads; i++ {
		if !d.trackers[i].inUse.Load() {
			if d.trackers[i].inUse.CompareAndSwap(false, true) {
				p := &participant{index: i}
				d.tls[tok] = p

				for {
					last := d.lastTrackerIdx.Load()
					if int(last) >= i {
						break
					}
					if d.lastTrackerIdx.CompareAndSwap(last, int32(i)) {
						break
					}
				}
				return nil
			}
		}
	}

	return ErrMaxThreadsExceeded
}

// UnregisterThread releases tok's tracker slot. It is an error to call this
// from within an open critical section.
func (d *Domain) UnregisterThread(tok int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.tls[tok]
	if !ok {
		return nil
	}

	if d.trackers[p.index].iteration%2 != 0 {
		return ErrUnregisterWhileActive
	}

	d.trackers[p.index].inUse.Store(false)
	delete(d.tls, tok)
	return nil
}

func (d *Domain) quiescentState(tok int64) (*participant, error) {
	d.mu.Lock()
	p, ok := d.tls[tok]
	d.mu.Unlock()

	if !ok {
		return nil, ErrUnregisteredThread
	}

	d.trackers[p.index].iteration++
	return p, nil
}

// CriticalSection marks tok as non-quiescent until the returned func is
// called. It is the Go stand-in for the source's scope-guarded
// critical_section object: callers defer the returned closure.
//
//	done, err := domain.CriticalSection(workerID)
//	if err != nil { ... }
//	defer done()
func (d *Domain) CriticalSection(tok int64) (func(), error) {
	d.mu.Lock()
	p, ok := d.tls[tok]
	d.mu.Unlock()

	if !ok {
		return nil, ErrUnregisteredThread
	}

	if d.trackers[p.index].iteration%2 != 0 {
		return nil, ErrNestedCriticalSection
	}

	d.trackers[p.index].iteration++

	return func() {
		d.trackers[p.index].iteration++
	}, nil
}

// Initialize publishes item, setting its mask to every other registered
// tracker that is currently inside a critical section (odd iteration) —
// those are the only trackers that could be holding a reference obtained
// before this retirement, per the gdul source's create_new_mask. A tracker
// that is already quiescent at publish time is not included: it cannot be
// holding a stale reference, so there is nothing to wait for on it. It
// returns true if the resulting mask is already empty (no participant
// needs to quiesce, i.e. the item is immediately reclaimable).
func (d *Domain) Initialize(tok int64, item *Item) (bool, error) {
	d.mu.Lock()
	p, ok := d.tls[tok]
	if !ok {
		d.mu.Unlock()
		return false, ErrUnregisteredThread
	}
	last := int(d.lastTrackerIdx.Load())
	d.mu.Unlock()

	if last < 0 {
		item.mask.Store(0)
		return true, nil
	}

	var mask uint64
	for i := 0; i <= last; i++ {
		if i == p.index {
			continue
		}
		current := d.trackers[i].iteration
		p.viewedIterations[i] = current
		if current%2 != 0 {
			mask |= 1 << uint(i)
		}
	}

	item.mask.Store(mask)
	return mask == 0, nil
}

// Update advances item's grace period: each still-set bit is cleared once
// that tracker has both completed at least one even transition since
// Initialize and is currently even (quiescent). Returns true once the mask
// is fully cleared, at which point item's payload is safe to reclaim.
func (d *Domain) Update(tok int64, item *Item) (bool, error) {
	existing := item.mask.Load()
	if existing == 0 {
		return true, nil
	}

	d.mu.Lock()
	p, ok := d.tls[tok]
	d.mu.Unlock()
	if !ok {
		return false, ErrUnregisteredThread
	}

	var clearedMask uint64
	m := existing
	for m != 0 {
		i := bits.TrailingZeros64(m)
		m &^= 1 << uint(i)

		previous := p.viewedIterations[i]
		current := d.trackers[i].iteration
		changed := previous != current
		even := current%2 == 0

		p.viewedIterations[i] = current

		if changed && even {
			clearedMask |= 1 << uint(i)
		}
	}

	newMask := existing &^ clearedMask
	item.mask.Store(newMask)
	return newMask == 0, nil
}

// Check reports whether item still has at least one unresolved tracker bit.
func (d *Domain) Check(item *Item) bool {
	return item.mask.Load() != 0
}
