package queues_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/go-foundations/jobgraph/queues"
)

type AsyncQueueTestSuite struct {
	suite.Suite
}

func TestAsyncQueueTestSuite(t *testing.T) {
	suite.Run(t, new(AsyncQueueTestSuite))
}

func (ts *AsyncQueueTestSuite) TestSingleSegmentIsFIFO() {
	q := queues.NewAsync[int](1)
	for i := 0; i < 10; i++ {
		q.Submit(i)
	}
	for i := 0; i < 10; i++ {
		got, ok := q.Fetch()
		ts.Require().True(ok)
		ts.Equal(i, got)
	}
	_, ok := q.Fetch()
	ts.False(ok)
}

func (ts *AsyncQueueTestSuite) TestEveryItemIsDeliveredExactlyOnce() {
	q := queues.NewAsync[int](8)
	const n = 5000

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Submit(i)
		}()
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	var mu sync.Mutex
	var consumers sync.WaitGroup
	for c := 0; c < 8; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				item, ok := q.Fetch()
				if !ok {
					return
				}
				mu.Lock()
				seen[item] = true
				mu.Unlock()
			}
		}()
	}
	consumers.Wait()
	ts.Len(seen, n)
}

func (ts *AsyncQueueTestSuite) TestSegmentCountClampedToAtLeastOne() {
	q := queues.NewAsync[int](0)
	q.Submit(1)
	got, ok := q.Fetch()
	ts.Require().True(ok)
	ts.Equal(1, got)
}

func (ts *AsyncQueueTestSuite) TestParticipants() {
	q := queues.NewAsync[int](4)
	ts.EqualValues(1, q.AddParticipant())
	ts.EqualValues(2, q.AddParticipant())
	ts.EqualValues(2, q.Participants())
}
