package schedule

import "errors"

var (
	// ErrRepositoryRequired is returned when a state repository is missing.
	ErrRepositoryRequired = errors.New("checkpoint, lease and run repositories are required")

	// ErrProcessorRequired is returned when no batch processor is provided.
	ErrProcessorRequired = errors.New("batch processor required")

	// ErrObjectStoreRequired is returned when no object store is provided.
	ErrObjectStoreRequired = errors.New("object store required")

	// ErrIndexRequired is returned when no index repository is provided.
	ErrIndexRequired = errors.New("index repository required")

	// ErrBlocked indicates the latest run failed terminally and needs an operator reset.
	ErrBlocked = errors.New("definition blocked by a terminal failure")

	// ErrRunAbandoned marks a run left running by a holder whose lease expired.
	ErrRunAbandoned = errors.New("run abandoned by an expired lease holder")

	// ErrNothingToReset indicates Reset found no terminal failure.
	ErrNothingToReset = errors.New("no terminal failure to reset")
)
