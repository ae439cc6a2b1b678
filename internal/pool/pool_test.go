package pool

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type PoolTestSuite struct {
	suite.Suite
}

func TestPoolTestSuite(t *testing.T) {
	suite.Run(t, new(PoolTestSuite))
}

type widget struct{ n int }

func (ts *PoolTestSuite) TestGrowsInBlocks() {
	p := New(4, func() *widget { return &widget{} })
	ts.Equal(4, p.Allocated())
	ts.Equal(4, p.Available())

	for i := 0; i < 4; i++ {
		ts.NotNil(p.Get())
	}
	ts.Equal(0, p.Available())

	// Exhausted: next Get grows another block.
	ts.NotNil(p.Get())
	ts.Equal(8, p.Allocated())
}

func (ts *PoolTestSuite) TestPutReusesWithoutGrowing() {
	p := New(2, func() *widget { return &widget{} })
	obj := p.Get()
	obj.n = 42

	p.Put(obj)
	ts.Equal(2, p.Allocated())

	got := p.Get()
	ts.Equal(42, got.n, "Put/Get recycles the same backing object")
}
