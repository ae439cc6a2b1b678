// Command diamond builds the classic four-job diamond graph (A feeds B and
// C, both feed D), prints whether D observes B and C finished, and prints
// the final value of x.
package main

import (
	"fmt"
	"sync"

	"github.com/go-foundations/jobgraph"
)

func main() {
	h := jobgraph.NewHandler(jobgraph.DefaultConfig())
	for i := 0; i < 4; i++ {
		w := h.MakeWorker()
		if err := w.AddAssignment(jobgraph.Async); err != nil {
			panic(err)
		}
		if err := w.Enable(); err != nil {
			panic(err)
		}
	}
	defer h.Shutdown()

	var mu sync.Mutex
	x := 0

	a := h.MakeNamedJob("a", func() {
		mu.Lock()
		x = 1
		mu.Unlock()
	}, jobgraph.Async)
	b := h.MakeNamedJob("b", func() {
		mu.Lock()
		x += 2
		mu.Unlock()
	}, jobgraph.Async)
	c := h.MakeNamedJob("c", func() {
		mu.Lock()
		x *= 10
		mu.Unlock()
	}, jobgraph.Async)
	d := h.MakeNamedJob("d", func() {
		fmt.Println("d observes b finished:", b.IsFinished())
		fmt.Println("d observes c finished:", c.IsFinished())
	}, jobgraph.Async)

	must(b.AddDependency(a))
	must(c.AddDependency(a))
	must(d.AddDependency(b))
	must(d.AddDependency(c))

	must(a.Enable())
	must(b.Enable())
	must(c.Enable())
	must(d.Enable())

	d.WaitUntilFinished()

	mu.Lock()
	fmt.Println("final x:", x)
	mu.Unlock()
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
