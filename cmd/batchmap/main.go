// Command batchmap fans a slice transform out across a batch job's slices
// and prints how many elements the finalize step wrote back out.
package main

import (
	"fmt"

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

	in := make([]int, 0, 1000)
	for i := 0; i < 1000; i++ {
		in = append(in, i)
	}
	out := make([]int, len(in))

	square := func(inSlice []int, outSlice []int) int {
		for i, v := range inSlice {
			outSlice[i] = v * v
		}
		return len(inSlice)
	}

	batch := jobgraph.MakeBatchJob(h, in, out, square, 8, jobgraph.Async)
	must(batch.Enable())
	batch.WaitUntilFinished()

	fmt.Println("wrote:", batch.GetOutputSize())
	fmt.Println("out[3]:", out[3])
	fmt.Println("out[999]:", out[999])
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
