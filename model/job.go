package model

// JobStatus is the state of a scheduler job, derived on demand from the
// scheduler. It is never persisted: the scheduler is the source of truth
// for liveness.
type JobStatus string

const (
	// StatusNotScheduled means the scheduler has no record of the job,
	// e.g. history was purged or the job was never submitted.
	StatusNotScheduled JobStatus = "not-scheduled"
	StatusQueued       JobStatus = "queued"
	StatusRunning      JobStatus = "running"
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"
	StatusCancelled    JobStatus = "cancelled"
	// StatusRequeued covers preempted or requeued jobs that the scheduler
	// will run again without a new submission.
	StatusRequeued JobStatus = "requeued"
)

// Terminal reports whether the job will make no further progress.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusNotScheduled:
		return true
	}
	return false
}

// Active reports whether the job currently holds or awaits scheduler
// resources and can be cancelled.
func (s JobStatus) Active() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusRequeued:
		return true
	}
	return false
}

// Short returns a three letter abbreviation for status tables.
func (s JobStatus) Short() string {
	if s == StatusNotScheduled {
		return "N/A"
	}
	if len(s) > 3 {
		return string(s[:3])
	}
	return string(s)
}
