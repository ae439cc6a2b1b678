package jobgraph

import "github.com/pkg/errors"

// Sentinel errors for the ProgrammingError class described in SPEC_FULL.md
// §7. Under Config.StrictMode (the default) the core panics with these
// instead of returning them, for parity with the source's debug-assert
// behavior; with StrictMode disabled they are returned to the caller.
var (
	// ErrAlreadyEnabled is returned (or panicked) when Enable is called a
	// second time on the same job.
	ErrAlreadyEnabled = errors.New("jobgraph: job already enabled")

	// ErrDependencyAfterEnable is returned (or panicked) when AddDependency
	// is called on a job whose dependency counter has already dropped below
	// the enable offset, i.e. a job that is enabled or running.
	ErrDependencyAfterEnable = errors.New("jobgraph: cannot add dependency after enable")

	// ErrNeverEnabled names the condition of a job that was constructed but
	// never enabled. No function in this package returns it:
	// WaitUntilFinished and WorkUntilFinished have no error result and do
	// not check whether the job was enabled, so on a never-enabled job they
	// keep waiting.
	ErrNeverEnabled = errors.New("jobgraph: job was never enabled")

	// ErrWorkerDisabled is returned when an operation is attempted on a
	// worker that has already been disabled.
	ErrWorkerDisabled = errors.New("jobgraph: worker already disabled")

	// ErrUnknownQueueKind is returned by Worker.AddAssignment when a
	// QueueKind with no registered JobQueue is used to assign a worker. A
	// ready job whose target is such a kind is not submitted anywhere; the
	// handler logs an error and drops it.
	ErrUnknownQueueKind = errors.New("jobgraph: unknown queue kind")

	// ErrTooManyAssignments is returned when a worker's bounded assignment
	// array is full.
	ErrTooManyAssignments = errors.New("jobgraph: worker assignment limit reached")
)

// raiseOrReturn implements the StrictMode fork from SPEC_FULL.md §7: a
// ProgrammingError either panics (StrictMode, the default) or is returned to
// the caller.
func raiseOrReturn(strict bool, err error) error {
	if strict {
		panic(err)
	}
	return err
}
