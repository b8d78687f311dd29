package runner

import "time"

// ExecutionStatus classifies the terminal outcome of one task within a run.
type ExecutionStatus string

// Terminal execution statuses.
const (
	StatusSuccess          ExecutionStatus = "success"
	StatusFailure          ExecutionStatus = "failure"
	StatusTimeout          ExecutionStatus = "timeout"
	StatusTestFailed       ExecutionStatus = "test_failed"
	StatusDependencyFailed ExecutionStatus = "dependency_failed"
	StatusDependencyNotRun ExecutionStatus = "dependency_not_run"
)

// ExecutionResult captures the in-memory outcome of one task for the current
// run. Results never persist beyond the run; a success additionally produces a
// ledger mark through the batch runner.
type ExecutionResult struct {
	TaskPath        string
	Status          ExecutionStatus
	DurationSeconds float64
	Attempts        int
	Skipped         bool
	Detail          string
}

// Succeeded reports whether the result counts as a pass.
func (result ExecutionResult) Succeeded() bool {
	return result.Status == StatusSuccess
}

// Summary aggregates the outcome of one batch or directory run.
type Summary struct {
	Total     int
	Passed    int
	Failed    int
	Results   []ExecutionResult
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
