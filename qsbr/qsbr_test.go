package qsbr

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type QSBRTestSuite struct {
	suite.Suite
}

func TestQSBRTestSuite(t *testing.T) {
	suite.Run(t, new(QSBRTestSuite))
}

func (ts *QSBRTestSuite) TestRegisterUnregister() {
	d := NewDomain()
	ts.NoError(d.RegisterThread(1))
	ts.NoError(d.RegisterThread(1)) // idempotent
	ts.NoError(d.UnregisterThread(1))
}

func (ts *QSBRTestSuite) TestMaxThreadsExceeded() {
	d := NewDomain()
	for i := int64(0); i < MaxThreads; i++ {
		ts.Require().NoError(d.RegisterThread(i))
	}
	ts.ErrorIs(d.RegisterThread(MaxThreads), ErrMaxThreadsExceeded)
}

func (ts *QSBRTestSuite) TestNestedCriticalSectionRejected() {
	d := NewDomain()
	ts.Require().NoError(d.RegisterThread(1))

	done, err := d.CriticalSection(1)
	ts.Require().NoError(err)

	_, err = d.CriticalSection(1)
	ts.ErrorIs(err, ErrNestedCriticalSection)

	done()
}

func (ts *QSBRTestSuite) TestUnregisterWhileActiveRejected() {
	d := NewDomain()
	ts.Require().NoError(d.RegisterThread(1))

	done, err := d.CriticalSection(1)
	ts.Require().NoError(err)

	ts.ErrorIs(d.UnregisterThread(1), ErrUnregisterWhileActive)

	done()
	ts.NoError(d.UnregisterThread(1))
}

// TestGraceAdvances implements E5: T2 is inside a critical section when T1
// publishes an item (so T2 is counted), T2 then exits, and T1's Update
// observes the transition and returns true.
func (ts *QSBRTestSuite) TestGraceAdvances() {
	d := NewDomain()
	ts.Require().NoError(d.RegisterThread(1)) // T1
	ts.Require().NoError(d.RegisterThread(2)) // T2

	done, err := d.CriticalSection(2)
	ts.Require().NoError(err)

	item := &Item{}
	immediatelyFree, err := d.Initialize(1, item)
	ts.Require().NoError(err)
	ts.False(immediatelyFree, "T2 is inside a critical section, so it is still counted")

	done()

	free, err := d.Update(1, item)
	ts.Require().NoError(err)
	ts.True(free)
	ts.False(d.Check(item))
}

// TestGraceBlockedWhileInsideCriticalSection is the converse of E5: with T2
// continuously inside a critical section, Update never reports free.
func (ts *QSBRTestSuite) TestGraceBlockedWhileInsideCriticalSection() {
	d := NewDomain()
	ts.Require().NoError(d.RegisterThread(1))
	ts.Require().NoError(d.RegisterThread(2))

	done, err := d.CriticalSection(2)
	ts.Require().NoError(err)
	defer done()

	item := &Item{}
	_, err = d.Initialize(1, item)
	ts.Require().NoError(err)

	free, err := d.Update(1, item)
	ts.Require().NoError(err)
	ts.False(free)
	ts.True(d.Check(item))
}

// TestConcurrentCriticalSections stresses many goroutines entering and
// leaving critical sections while a writer repeatedly publishes and retires
// items, asserting invariant 6: once Update returns true, no registered
// reader active at Initialize-time is still inside a section opened at or
// before that Initialize call. The proxy we can assert from outside the
// package is simpler: Update never reports true while a participant whose
// mask bit is still set is demonstrably inside a section (verified by the
// two preceding tests); here we just confirm no panics/races and that grace
// is eventually observed under load.
func (ts *QSBRTestSuite) TestConcurrentCriticalSections() {
	d := NewDomain()
	const participants = 8
	for i := int64(0); i < participants; i++ {
		ts.Require().NoError(d.RegisterThread(i))
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := int64(1); i < participants; i++ {
		wg.Add(1)
		go func(tok int64) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				done, err := d.CriticalSection(tok)
				if err != nil {
					continue
				}
				done()
			}
		}(i)
	}

	eventuallyFreed := false
	for attempt := 0; attempt < 200; attempt++ {
		item := &Item{}
		_, err := d.Initialize(0, item)
		ts.Require().NoError(err)

		for retry := 0; retry < 1000; retry++ {
			free, err := d.Update(0, item)
			ts.Require().NoError(err)
			if free {
				eventuallyFreed = true
				break
			}
			time.Sleep(time.Microsecond)
		}
		if eventuallyFreed {
			break
		}
	}

	close(stop)
	wg.Wait()

	require.True(ts.T(), eventuallyFreed, "grace period never advanced under concurrent load")
}
