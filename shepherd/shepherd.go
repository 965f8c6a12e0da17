// Package shepherd applies submission rules to experiments and batches the
// resulting scheduler actions. Submissions and cancellations are queued
// lazily and executed together by Commit, mirroring one reconciliation
// pass.
package shepherd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/shepgo/shepgo/model"
	"github.com/shepgo/shepgo/registry"
	"github.com/shepgo/shepgo/scheduler"
)

// Sheep pairs an experiment with its latest scheduling attempt and the
// most recently polled job status.
type Sheep struct {
	XP  *registry.Experiment
	Job *model.SheepRecord
	// Status is the last polled state of Job, StatusNotScheduled when the
	// experiment was never submitted.
	Status model.JobStatus
}

// Done reports whether the sheep needs no further monitoring.
func (s *Sheep) Done() bool {
	return s.Job == nil || s.Status.Terminal()
}

// JobID returns the latest job id, empty if never submitted.
func (s *Sheep) JobID() string {
	if s.Job == nil {
		return ""
	}
	return s.Job.JobID
}

type jobArray struct {
	name   string
	array  string
	config model.SlurmConfig
	sheeps []*Sheep
}

// Shepherd takes care of the little jobs.
type Shepherd struct {
	logger  zerolog.Logger
	project string
	command []string
	reg     *registry.Registry
	sched   scheduler.Scheduler

	toCancel []string
	toSubmit []*jobArray
}

// New returns a shepherd submitting the given training command. It checks
// for orphan tokens left by an interrupted earlier pass and cancels any
// job those submissions produced, so no half recorded submission survives.
func New(logger zerolog.Logger, project string, command []string,
	reg *registry.Registry, sched scheduler.Scheduler) (*Shepherd, error) {
	s := &Shepherd{
		logger:  logger,
		project: project,
		command: command,
		reg:     reg,
		sched:   sched,
	}
	if err := os.MkdirAll(reg.OrphanDir(), 0o755); err != nil {
		return nil, &registry.Error{Op: "create", Path: reg.OrphanDir(), Err: err}
	}
	if err := s.checkOrphans(); err != nil {
		return nil, err
	}
	return s, nil
}

// SheepFor loads the sheep for an experiment from the registry.
func (s *Shepherd) SheepFor(xp *registry.Experiment) (*Sheep, error) {
	latest, err := s.reg.LatestSheep(xp)
	if err != nil {
		return nil, err
	}
	return &Sheep{XP: xp, Job: latest, Status: model.StatusNotScheduled}, nil
}

// MaybeSubmitLazy decides what to do for the sheep given its freshly
// polled status and queues the resulting scheduler actions. An empty
// arrayName queues a standalone job; consecutive sheeps sharing an
// arrayName are grouped into a single scheduler request and must carry an
// identical config.
func (s *Shepherd) MaybeSubmitLazy(sheep *Sheep, cfg model.SlurmConfig,
	rules model.SubmitRules, arrayName string) (Action, error) {
	action := Decide(sheep.Job, sheep.Status, rules)
	switch action {
	case ActionReuse, ActionSkip:
		return action, nil
	case ActionCancelAndReplace:
		s.logger.Debug().Str("sig", sheep.XP.Sig).Str("job_id", sheep.JobID()).
			Str("status", string(sheep.Status)).Msg("Replacing previous job")
		s.CancelLazy(sheep.JobID())
	case ActionSubmit:
		if sheep.Job != nil {
			s.logger.Debug().Str("sig", sheep.XP.Sig).Str("job_id", sheep.JobID()).
				Msg("Previous job gone or failed, resubmitting")
		}
	}
	sheep.Job = nil

	if arrayName != "" {
		if last := s.lastGroup(); last != nil && last.array == arrayName {
			if !reflect.DeepEqual(last.config, cfg) {
				return action, fmt.Errorf("job array %q mixes scheduler configs", arrayName)
			}
			last.sheeps = append(last.sheeps, sheep)
			return action, nil
		}
		s.toSubmit = append(s.toSubmit, &jobArray{
			name:   s.project + "_" + arrayName,
			array:  arrayName,
			config: cfg,
			sheeps: []*Sheep{sheep},
		})
		return action, nil
	}
	s.toSubmit = append(s.toSubmit, &jobArray{
		name:   s.project + "_" + sheep.XP.Sig,
		config: cfg,
		sheeps: []*Sheep{sheep},
	})
	return action, nil
}

// CancelLazy queues a cancellation, executed at Commit.
func (s *Shepherd) CancelLazy(jobID string) {
	if jobID != "" {
		s.toCancel = append(s.toCancel, jobID)
	}
}

// Discard drops all queued actions without executing them, for dry runs.
func (s *Shepherd) Discard() {
	s.toCancel = nil
	s.toSubmit = nil
}

// Commit executes all queued cancellations and submissions. Submission and
// registry update form one logical step: a token is written before each
// scheduler request and removed only once every job id is recorded, so an
// interrupt in between is recovered by the orphan check of the next pass.
func (s *Shepherd) Commit() error {
	if len(s.toCancel) > 0 {
		s.logger.Info().Strs("job_ids", s.toCancel).Msg("Cancelling jobs")
		if err := s.sched.Cancel(s.toCancel...); err != nil {
			return err
		}
		s.toCancel = nil
	}

	var errs []error
	for len(s.toSubmit) > 0 {
		group := s.toSubmit[0]
		s.toSubmit = s.toSubmit[1:]
		if err := s.submit(group); err != nil {
			// One failed submission does not abort the rest of the pass.
			s.logger.Error().Err(err).Str("name", group.name).Msg("Failed to schedule")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Shepherd) submit(group *jobArray) error {
	token := filepath.Join(s.reg.OrphanDir(), group.name)
	if err := os.WriteFile(token, nil, 0o644); err != nil {
		return &registry.Error{Op: "write", Path: token, Err: err}
	}

	var ids []string
	var err error
	if group.array != "" {
		commands := make([][]string, len(group.sheeps))
		for i, sheep := range group.sheeps {
			commands[i] = s.commandFor(sheep)
		}
		ids, err = s.sched.SubmitArray(group.name, commands, group.config)
	} else {
		var id string
		id, err = s.sched.Submit(group.name, s.commandFor(group.sheeps[0]), group.config)
		ids = []string{id}
	}
	if err != nil {
		// Nothing was scheduled, the token has nothing to cover.
		os.Remove(token)
		return err
	}

	now := time.Now().UTC()
	for i, sheep := range group.sheeps {
		rec := model.SheepRecord{
			JobID:       ids[i],
			SubmittedAt: now,
			Slurm:       group.config,
			Array:       group.array,
		}
		if err := s.reg.RecordSubmission(sheep.XP, rec); err != nil {
			// Keep the token: the next pass will cancel whatever part of
			// the submission was never recorded.
			return err
		}
		sheep.Job = &rec
		sheep.Status = model.StatusQueued
		s.logger.Info().Str("job_id", rec.JobID).Str("sig", sheep.XP.Sig).Msg("Scheduled job")
	}
	return os.Remove(token)
}

func (s *Shepherd) commandFor(sheep *Sheep) []string {
	return append(append([]string(nil), s.command...), sheep.XP.Args.Argv...)
}

func (s *Shepherd) lastGroup() *jobArray {
	if len(s.toSubmit) == 0 {
		return nil
	}
	return s.toSubmit[len(s.toSubmit)-1]
}

// checkOrphans looks for tokens of submissions whose job id was never
// recorded and cancels the matching jobs by name.
func (s *Shepherd) checkOrphans() error {
	entries, err := os.ReadDir(s.reg.OrphanDir())
	if err != nil {
		return &registry.Error{Op: "list", Path: s.reg.OrphanDir(), Err: err}
	}
	for _, entry := range entries {
		name := entry.Name()
		s.logger.Warn().Str("name", name).
			Msg("Found dirty submission token, a job may have been scheduled without its id being saved")
		ids, err := s.sched.FindByName(name)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			s.logger.Warn().Strs("job_ids", ids).Msg("Cancelling orphan jobs")
			if err := s.sched.Cancel(ids...); err != nil {
				return err
			}
		}
		token := filepath.Join(s.reg.OrphanDir(), name)
		if err := os.Remove(token); err != nil {
			return &registry.Error{Op: "delete", Path: token, Err: err}
		}
	}
	return nil
}
