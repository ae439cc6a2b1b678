package jobgraph

// jobNode is the intrusive element of a job's dependee list (spec.md §3
// "JobNode"): it names one dependant job and the next node pushed onto the
// same head. Nodes are allocated from JobHandler's node pool; once
// detachChildren has drained them they are retired through a QSBR item and
// put back by a later reclaimOnce. Attachers do not open a QSBR critical
// section, so that grace period does not wait on them.
type jobNode struct {
	job  *jobImpl
	next *jobNode
}

// reset clears a recycled node's fields before it is handed back out by the
// pool, so a reused node never leaks a reference to a finished job.
func (n *jobNode) reset() {
	n.job = nil
	n.next = nil
}
