// Package jobgraph implements a concurrent job-scheduling core: a
// directed acyclic graph of jobs with typed dependencies, two pluggable
// queue policies (Async, relaxed-FIFO; Sync, propagation-priority
// ordered), a worker pool with a cooperative idle/sleep dispatch loop, and
// batch (fork/process/join) jobs fanning out over a slice.
//
// A typical graph is built by creating jobs from a JobHandler, wiring
// dependencies with Job.AddDependency, and releasing the graph's roots
// with Job.Enable:
//
//	h := jobgraph.NewHandler(jobgraph.DefaultConfig())
//	w := h.MakeWorker()
//	w.AddAssignment(jobgraph.Async)
//	w.Enable()
//
//	a := h.MakeJob(func() { ... }, jobgraph.Async)
//	b := h.MakeJob(func() { ... }, jobgraph.Async)
//	b.AddDependency(a)
//	a.Enable()
//	b.Enable()
//	b.WaitUntilFinished()
//
// Reclamation of the lock-free dependee-list nodes underlying
// AddDependency is deferred through the qsbr package; see qsbr's package
// doc for the reclamation scheme itself.
package jobgraph
