// Package scheduler defines the job scheduler collaborator consumed by the
// reconciliation engine, plus a Slurm command line implementation and an in
// memory fake for tests.
package scheduler

import (
	"fmt"

	"github.com/shepgo/shepgo/model"
)

// Error reports a submission, cancellation or poll failure. Such failures
// are isolated to the affected intent and retried on the next monitor tick
// where applicable.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("scheduler: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Scheduler is the remote job scheduler. All calls are blocking and
// potentially slow. An unknown or expired job id is reported as
// StatusNotScheduled, never as an error, so status resolution can fall
// back to resubmission.
type Scheduler interface {
	// Submit schedules one command under the given name and returns the
	// job id.
	Submit(name string, command []string, cfg model.SlurmConfig) (string, error)
	// SubmitArray schedules a group of commands as a single scheduler
	// request sharing one config, returning one job id per command.
	SubmitArray(name string, commands [][]string, cfg model.SlurmConfig) ([]string, error)
	// Cancel cancels the given jobs.
	Cancel(jobIDs ...string) error
	// Status returns the current state of one job.
	Status(jobID string) (model.JobStatus, error)
	// StatusBulk returns the state of many jobs in one query. Used by the
	// monitor loop to poll once per tick instead of once per experiment.
	StatusBulk(jobIDs []string) (map[string]model.JobStatus, error)
	// FindByName returns the ids of all active jobs submitted under the
	// given name. Used to recover from submissions whose id was never
	// recorded.
	FindByName(name string) ([]string, error)
}
