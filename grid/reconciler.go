package grid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/shepgo/shepgo/canonical"
	"github.com/shepgo/shepgo/config"
	"github.com/shepgo/shepgo/model"
	"github.com/shepgo/shepgo/names"
	"github.com/shepgo/shepgo/registry"
	"github.com/shepgo/shepgo/scheduler"
	"github.com/shepgo/shepgo/shepherd"
)

// Options tune one reconciliation pass.
type Options struct {
	// Patterns filter experiments by display name; integer patterns
	// select by index.
	Patterns []string
	// Monitor keeps polling and re-rendering until every experiment is
	// terminal. False renders a single shot report.
	Monitor bool
	// Interval between monitor polls.
	Interval time.Duration
	// DryRun simulates the pass without touching the scheduler or the
	// grid manifest.
	DryRun bool
	// Cancel cancels all matching jobs instead of submitting.
	Cancel bool
	// Clear cancels jobs, deletes the experiment folders and resubmits
	// from scratch. Destructive, requires confirmation.
	Clear bool
	// Confirm is asked before destructive actions. A nil Confirm refuses
	// them.
	Confirm func(prompt string) bool
}

// Summary counts what one pass did, for the per pass report.
type Summary struct {
	Submitted int
	Reused    int
	Replaced  int
	Skipped   int
	Cancelled int
	Failed    int
}

// Reconciler diffs a declared grid against previously scheduled jobs and
// drives the scheduler to match.
type Reconciler struct {
	logger zerolog.Logger
	cfg    *config.Config
	canon  *canonical.Canonicalizer
	reg    *registry.Registry
	shep   *shepherd.Shepherd
	sched  scheduler.Scheduler
	out    io.Writer
}

// NewReconciler wires the reconciliation engine together.
func NewReconciler(logger zerolog.Logger, cfg *config.Config, canon *canonical.Canonicalizer,
	reg *registry.Registry, shep *shepherd.Shepherd, sched scheduler.Scheduler, out io.Writer) *Reconciler {
	return &Reconciler{logger: logger, cfg: cfg, canon: canon, reg: reg, shep: shep, sched: sched, out: out}
}

type entry struct {
	intent Intent
	form   canonical.Form
	sheep  *shepherd.Sheep
}

// Run performs one reconciliation pass for the named grid: evaluate the
// definition, diff against the grid manifest, apply submissions and
// cancellations, then monitor until all experiments are terminal or the
// context is cancelled. Returns the sheeps handled by the pass.
func (r *Reconciler) Run(ctx context.Context, name string, explore Explore,
	rules model.SubmitRules, opts Options) ([]*shepherd.Sheep, error) {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Clear && opts.DryRun {
		return nil, fmt.Errorf("dry run is incompatible with clear")
	}

	// Evaluate. A failing grid definition aborts the pass before any
	// scheduler action: the declared set itself is unreliable.
	s := &sink{grid: name}
	explore(newLauncher(s, r.cfg.Slurm))
	if s.err != nil {
		return nil, &canonical.ConfigError{Msg: "grid definition " + name + " failed", Err: s.err}
	}

	summary := Summary{}
	var herd []*entry
	bySig := make(map[string]*entry)
	for _, intent := range s.intents {
		form, err := r.canon.Canonicalize(intent.Args)
		if err != nil {
			r.logger.Error().Err(err).Strs("argv", intent.Args.Argv).Msg("Failed to canonicalize intent")
			summary.Failed++
			continue
		}
		sig := canonical.Sign(form)
		if prev, ok := bySig[sig]; ok {
			// Same experiment declared twice, the latest config wins.
			prev.intent.Slurm = intent.Slurm
			continue
		}
		xp, err := r.reg.GetOrCreate(intent.Args, form)
		if err != nil {
			return nil, err
		}
		sheep, err := r.shep.SheepFor(xp)
		if err != nil {
			return nil, err
		}
		e := &entry{intent: intent, form: form, sheep: sheep}
		bySig[sig] = e
		herd = append(herd, e)
	}

	if unused := r.canon.UnusedPatterns(); len(unused) > 0 {
		err := &canonical.ConfigError{Msg: fmt.Sprintf("exclusion patterns %v matched no argument", unused)}
		r.logger.Warn().Err(err).Msg("Advisory")
	}

	declared := make([]string, len(herd))
	for i, e := range herd {
		declared[i] = e.sheep.XP.Sig
	}

	selected := filter(herd, opts.Patterns)

	// Diff: signatures previously declared by this grid but absent from
	// the current evaluation are orphaned.
	manifest, err := r.reg.LoadManifest(name)
	if err != nil {
		return nil, err
	}
	var orphans []*shepherd.Sheep
	for _, sig := range manifest.Signatures {
		if _, ok := bySig[sig]; ok {
			continue
		}
		xp, err := r.reg.BySignature(sig)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				r.logger.Warn().Str("sig", sig).Msg("Orphaned signature has no experiment on disk")
				continue
			}
			return nil, err
		}
		sheep, err := r.shep.SheepFor(xp)
		if err != nil {
			return nil, err
		}
		orphans = append(orphans, sheep)
	}

	// One bulk poll refreshes every status the pass decides on.
	if err := r.poll(append(sheepsOf(selected), orphans...)); err != nil {
		return nil, err
	}

	if opts.Clear {
		if err := r.clear(name, selected, opts); err != nil {
			return nil, err
		}
	}

	if !opts.Cancel {
		for _, e := range selected {
			action, err := r.shep.MaybeSubmitLazy(e.sheep, e.intent.Slurm, rules, e.intent.Array)
			if err != nil {
				r.logger.Error().Err(err).Str("sig", e.sheep.XP.Sig).Msg("Failed to schedule intent")
				summary.Failed++
				continue
			}
			switch action {
			case shepherd.ActionSubmit:
				summary.Submitted++
			case shepherd.ActionReuse:
				summary.Reused++
			case shepherd.ActionCancelAndReplace:
				summary.Replaced++
			case shepherd.ActionSkip:
				summary.Skipped++
			}
		}
	} else {
		for _, e := range selected {
			if e.sheep.Status.Active() {
				r.logger.Info().Str("sig", e.sheep.XP.Sig).Str("job_id", e.sheep.JobID()).Msg("Cancelling job")
				r.shep.CancelLazy(e.sheep.JobID())
				summary.Cancelled++
			}
		}
	}

	for _, orphan := range orphans {
		if orphan.Status.Active() {
			r.logger.Info().Str("sig", orphan.XP.Sig).Str("job_id", orphan.JobID()).
				Msg("Cancelling job of experiment no longer in the grid")
			r.shep.CancelLazy(orphan.JobID())
			summary.Cancelled++
		}
	}

	if opts.DryRun {
		r.shep.Discard()
		r.logger.Info().Msg("Dry run, no scheduler action taken")
	} else {
		if err := r.reg.SaveManifest(name, declared); err != nil {
			return nil, err
		}
		if err := r.shep.Commit(); err != nil {
			// Failures were isolated per submission inside Commit; the
			// pass goes on monitoring whatever was scheduled.
			summary.Failed += errorCount(err)
			r.logger.Error().Err(err).Msg("Some scheduler actions failed")
		}
	}

	fmt.Fprintf(r.out, "Grid %s: %d submitted, %d reused, %d replaced, %d skipped, %d cancelled, %d failed to schedule\n",
		name, summary.Submitted, summary.Reused, summary.Replaced, summary.Skipped, summary.Cancelled, summary.Failed)

	if opts.Cancel || len(selected) == 0 {
		if len(selected) == 0 {
			fmt.Fprintln(r.out, "No experiment to handle.")
		}
		return sheepsOf(selected), nil
	}

	if err := r.monitor(ctx, name, selected, opts); err != nil {
		return sheepsOf(selected), err
	}
	return sheepsOf(selected), nil
}

// poll refreshes the status of every sheep that has a job, in one bulk
// scheduler query.
func (r *Reconciler) poll(sheeps []*shepherd.Sheep) error {
	var ids []string
	for _, sheep := range sheeps {
		if sheep.Job != nil {
			ids = append(ids, sheep.Job.JobID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	statuses, err := r.sched.StatusBulk(ids)
	if err != nil {
		return err
	}
	for _, sheep := range sheeps {
		if sheep.Job != nil {
			sheep.Status = statuses[sheep.Job.JobID]
		}
	}
	return nil
}

func (r *Reconciler) clear(name string, selected []*entry, opts Options) error {
	prompt := fmt.Sprintf("About to restart %d experiments of grid %s from scratch. This cannot be reverted.",
		len(selected), name)
	if opts.Confirm == nil || !opts.Confirm(prompt) {
		return fmt.Errorf("clear aborted")
	}
	for _, e := range selected {
		if e.sheep.Status.Active() {
			r.shep.CancelLazy(e.sheep.JobID())
		}
	}
	if err := r.shep.Commit(); err != nil {
		return err
	}
	for _, e := range selected {
		if err := r.reg.DeleteFolder(e.sheep.XP); err != nil {
			return err
		}
		// Recreate the folder so the resubmission has somewhere to record
		// its sheep.
		xp, err := r.reg.GetOrCreate(e.intent.Args, e.form)
		if err != nil {
			return err
		}
		e.sheep = &shepherd.Sheep{XP: xp, Status: model.StatusNotScheduled}
	}
	return nil
}

// monitor re-polls and re-renders on a fixed interval until every selected
// experiment is terminal, a single shot was requested, or the operator
// interrupts. A failing poll is logged and retried next tick, never
// crashing the loop.
func (r *Reconciler) monitor(ctx context.Context, name string, selected []*entry, opts Options) error {
	fmt.Fprintf(r.out, "Monitoring grid %s\n", name)
	for {
		r.render(selected)
		if allDone(selected) {
			return nil
		}
		if !opts.Monitor {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.Interval):
		}
		if err := r.poll(sheepsOf(selected)); err != nil {
			r.logger.Warn().Err(err).Msg("Status poll failed, will retry next tick")
		}
	}
}

func (r *Reconciler) render(selected []*entry) {
	forms := make([]canonical.Form, len(selected))
	for i, e := range selected {
		forms[i] = e.form
	}
	displayNames, base := names.ShortNames(forms)

	rows := make([]row, len(selected))
	for i, e := range selected {
		history, err := r.reg.History(e.sheep.XP)
		if err != nil {
			r.logger.Warn().Err(err).Str("sig", e.sheep.XP.Sig).Msg("Failed to read metric history")
		}
		rows[i] = row{
			index:   i,
			name:    displayNames[i],
			sig:     e.sheep.XP.Sig,
			jobID:   e.sheep.JobID(),
			status:  e.sheep.Status,
			metrics: summarizeHistory(history),
		}
	}
	renderTable(r.out, base, rows)
}

// errorCount unfolds a joined commit error so the summary reports one
// failure per failed submission, not one per commit.
func errorCount(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

func allDone(selected []*entry) bool {
	for _, e := range selected {
		if !e.sheep.Done() {
			return false
		}
	}
	return true
}

func sheepsOf(entries []*entry) []*shepherd.Sheep {
	out := make([]*shepherd.Sheep, len(entries))
	for i, e := range entries {
		out[i] = e.sheep
	}
	return out
}

// filter selects entries whose display name matches all patterns, with
// integer patterns selecting by position.
func filter(herd []*entry, patterns []string) []*entry {
	if len(patterns) == 0 {
		return herd
	}
	indexes, namePatterns := splitPatterns(patterns)

	forms := make([]canonical.Form, len(herd))
	for i, e := range herd {
		forms[i] = e.form
	}
	displayNames, _ := names.ShortNames(forms)

	var out []*entry
	for i, e := range herd {
		if matchName(displayNames[i], namePatterns) {
			out = append(out, e)
		}
	}
	if len(indexes) > 0 {
		var picked []*entry
		for _, idx := range indexes {
			if idx >= 0 && idx < len(out) {
				picked = append(picked, out[idx])
			}
		}
		out = picked
	}
	return out
}
