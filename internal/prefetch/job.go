package prefetch

import (
	"context"
	"sync/atomic"
)

// JobStatus is the terminal status reported by waiting on a prefetch job.
type JobStatus string

// Job wait outcomes.
const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// Job is the handle for one background prefetch run. Progress counters are
// updated by the worker goroutines and safe to read concurrently.
type Job struct {
	handle         string
	logPath        string
	packageList    []string
	completedCount atomic.Int64
	failedCount    atomic.Int64
	done           chan struct{}
	cancel         context.CancelFunc
}

func newJob(handle string, logPath string, packageList []string, cancel context.CancelFunc) *Job {
	return &Job{
		handle:      handle,
		logPath:     logPath,
		packageList: packageList,
		done:        make(chan struct{}),
		cancel:      cancel,
	}
}

// Handle returns the job's unique identifier.
func (job *Job) Handle() string {
	return job.handle
}

// LogPath returns the job-scoped progress log location.
func (job *Job) LogPath() string {
	return job.logPath
}

// IsRunning reports whether the job is still warming packages.
func (job *Job) IsRunning() bool {
	select {
	case <-job.done:
		return false
	default:
		return true
	}
}

// Progress returns the number of finished package attempts and the total.
// Failed attempts count as finished; the job is best effort.
func (job *Job) Progress() (int, int) {
	finished := int(job.completedCount.Load() + job.failedCount.Load())
	return finished, len(job.packageList)
}

// FailedCount returns the number of package attempts that failed.
func (job *Job) FailedCount() int {
	return int(job.failedCount.Load())
}
