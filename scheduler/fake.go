package scheduler

import (
	"fmt"
	"sync"

	"github.com/shepgo/shepgo/model"
)

// Fake is an in memory scheduler for tests and dry runs. Submitted jobs
// start queued; tests move them through states with SetStatus.
type Fake struct {
	mu     sync.Mutex
	nextID int
	jobs   map[string]*fakeJob

	// Submissions counts Submit and SubmitArray calls.
	Submissions int
	// Cancelled records every job id passed to Cancel, in order.
	Cancelled []string
	// FailSubmit makes the next submissions fail until reset.
	FailSubmit error
	// FailPoll makes status queries fail until reset.
	FailPoll error
}

type fakeJob struct {
	name    string
	command []string
	status  model.JobStatus
}

// NewFake returns an empty fake scheduler.
func NewFake() *Fake {
	return &Fake{jobs: make(map[string]*fakeJob)}
}

var _ Scheduler = (*Fake)(nil)

func (f *Fake) Submit(name string, command []string, cfg model.SlurmConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSubmit != nil {
		return "", &Error{Op: "submit", Err: f.FailSubmit}
	}
	f.Submissions++
	return f.add(name, command), nil
}

func (f *Fake) SubmitArray(name string, commands [][]string, cfg model.SlurmConfig) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSubmit != nil {
		return nil, &Error{Op: "submit array", Err: f.FailSubmit}
	}
	f.Submissions++
	ids := make([]string, len(commands))
	for i, command := range commands {
		ids[i] = f.add(name, command)
	}
	return ids, nil
}

func (f *Fake) add(name string, command []string) string {
	f.nextID++
	id := fmt.Sprintf("%d", f.nextID)
	f.jobs[id] = &fakeJob{name: name, command: command, status: model.StatusQueued}
	return id
}

func (f *Fake) Cancel(jobIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range jobIDs {
		f.Cancelled = append(f.Cancelled, id)
		if job, ok := f.jobs[id]; ok && job.status.Active() {
			job.status = model.StatusCancelled
		}
	}
	return nil
}

func (f *Fake) Status(jobID string) (model.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPoll != nil {
		return "", &Error{Op: "poll", Err: f.FailPoll}
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return model.StatusNotScheduled, nil
	}
	return job.status, nil
}

func (f *Fake) StatusBulk(jobIDs []string) (map[string]model.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPoll != nil {
		return nil, &Error{Op: "poll", Err: f.FailPoll}
	}
	out := make(map[string]model.JobStatus, len(jobIDs))
	for _, id := range jobIDs {
		if job, ok := f.jobs[id]; ok {
			out[id] = job.status
		} else {
			out[id] = model.StatusNotScheduled
		}
	}
	return out, nil
}

func (f *Fake) FindByName(name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, job := range f.jobs {
		if job.name == name && job.status.Active() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// SetStatus moves a job to the given state.
func (f *Fake) SetStatus(jobID string, status model.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok {
		job.status = status
	}
}

// SetAll moves every known job to the given state.
func (f *Fake) SetAll(status model.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		job.status = status
	}
}
