package metrics

import "time"

// JobOutcome enumerates what happened to a report job at the end of a manager round.
type JobOutcome string

const (
	JobCompleted JobOutcome = "completed"
	JobRetried   JobOutcome = "retried"
	JobSplit     JobOutcome = "split"
	JobTerminal  JobOutcome = "terminal"
)

// RunOutcome enumerates final sync run states.
type RunOutcome string

const (
	RunSucceeded RunOutcome = "succeeded"
	RunPartial   RunOutcome = "partial"
	RunFailed    RunOutcome = "failed"
	RunCanceled  RunOutcome = "canceled"
)

// Recorder defines observability hooks for jobs and runs.
type Recorder interface {
	IncJobSubmitted(stream string)
	IncJobOutcome(stream string, outcome JobOutcome)
	ObserveJobDuration(stream string, d time.Duration)
	SetJobsInFlight(n int)
	SetThrottleUtilization(pct float64)
	AddRecords(stream string, n int)
	IncRecordsDropped(stream string)
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(outcome RunOutcome)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncJobSubmitted(string)                   {}
func (NoopRecorder) IncJobOutcome(string, JobOutcome)         {}
func (NoopRecorder) ObserveJobDuration(string, time.Duration) {}
func (NoopRecorder) SetJobsInFlight(int)                      {}
func (NoopRecorder) SetThrottleUtilization(float64)           {}
func (NoopRecorder) AddRecords(string, int)                   {}
func (NoopRecorder) IncRecordsDropped(string)                 {}
func (NoopRecorder) ObserveRunDuration(time.Duration)         {}
func (NoopRecorder) IncRunOutcome(RunOutcome)                 {}
