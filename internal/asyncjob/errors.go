package asyncjob

import "errors"

var (
	// ErrNotCompleted is returned by Result before the job completed.
	ErrNotCompleted = errors.New("asyncjob: job not completed")
	// ErrResultConsumed is returned when Result is called a second time.
	ErrResultConsumed = errors.New("asyncjob: result already consumed")
	// ErrAlreadyCompleted is returned by Start on a completed job.
	ErrAlreadyCompleted = errors.New("asyncjob: job already completed")
	// ErrNotSplittable is returned by Split for single-day intervals.
	ErrNotSplittable = errors.New("asyncjob: interval cannot be split below one day")
	// ErrJobTimeout is recorded when a started job exceeds its wall-clock limit.
	ErrJobTimeout = errors.New("asyncjob: job timed out")
)
