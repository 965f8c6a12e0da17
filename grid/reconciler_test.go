package grid

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shepgo/shepgo/backend"
	"github.com/shepgo/shepgo/canonical"
	"github.com/shepgo/shepgo/config"
	"github.com/shepgo/shepgo/model"
	"github.com/shepgo/shepgo/registry"
	"github.com/shepgo/shepgo/scheduler"
	"github.com/shepgo/shepgo/shepherd"
)

type harness struct {
	recon *Reconciler
	reg   *registry.Registry
	fake  *scheduler.Fake
	out   *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := scheduler.NewFake()
	return newHarnessWith(t, fake, fake)
}

func newHarnessWith(t *testing.T, sched scheduler.Scheduler, fake *scheduler.Fake) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		Project: "proj",
		Dir:     "outputs",
		Command: []string{"./train"},
		Slurm:   model.DefaultSlurmConfig(),
		Root:    root,
	}
	reg := registry.New(zerolog.Nop(), cfg.StateDir())
	shep, err := shepherd.New(zerolog.Nop(), cfg.Project, cfg.Command, reg, sched)
	require.NoError(t, err)
	canon := canonical.New(backend.NewFlags(nil), cfg.Exclude)
	out := &bytes.Buffer{}
	return &harness{
		recon: NewReconciler(zerolog.Nop(), cfg, canon, reg, shep, sched, out),
		reg:   reg,
		fake:  fake,
		out:   out,
	}
}

func (h *harness) run(t *testing.T, explore Explore, rules model.SubmitRules, opts Options) []*shepherd.Sheep {
	t.Helper()
	sheeps, err := h.recon.Run(context.Background(), "sweep", explore, rules, opts)
	require.NoError(t, err)
	return sheeps
}

func lrSweep(l Launcher) {
	l.Launch("--lr=0.1")
	l.Launch("--lr=0.01")
}

func TestRunSubmitsDeclaredExperiments(t *testing.T) {
	h := newHarness(t)
	sheeps := h.run(t, lrSweep, model.SubmitRules{}, Options{})

	require.Len(t, sheeps, 2)
	require.Equal(t, 2, h.fake.Submissions)
	for _, sheep := range sheeps {
		require.NotNil(t, sheep.Job)
	}

	manifest, err := h.reg.LoadManifest("sweep")
	require.NoError(t, err)
	require.Len(t, manifest.Signatures, 2)
	require.Contains(t, h.out.String(), "2 submitted")
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	first := h.run(t, lrSweep, model.SubmitRules{}, Options{})
	second := h.run(t, lrSweep, model.SubmitRules{}, Options{})

	require.Equal(t, 2, h.fake.Submissions, "already scheduled experiments are reused")
	require.Equal(t, first[0].XP.Sig, second[0].XP.Sig)
	require.Equal(t, first[0].Job.JobID, second[0].Job.JobID)
	require.Contains(t, h.out.String(), "2 reused")
}

func TestRunCancelsOrphans(t *testing.T) {
	h := newHarness(t)
	sheeps := h.run(t, lrSweep, model.SubmitRules{}, Options{})
	removed := sheeps[1]

	// The next pass no longer declares the second experiment.
	h.run(t, func(l Launcher) {
		l.Launch("--lr=0.1")
	}, model.SubmitRules{}, Options{})

	require.Equal(t, []string{removed.Job.JobID}, h.fake.Cancelled)
	require.Equal(t, 2, h.fake.Submissions, "the surviving experiment is not resubmitted")

	manifest, err := h.reg.LoadManifest("sweep")
	require.NoError(t, err)
	require.Equal(t, []string{sheeps[0].XP.Sig}, manifest.Signatures)
}

func TestRunRetriesFailedJobs(t *testing.T) {
	h := newHarness(t)
	h.run(t, lrSweep, model.SubmitRules{}, Options{})
	h.fake.SetAll(model.StatusFailed)

	h.run(t, lrSweep, model.SubmitRules{}, Options{})
	require.Equal(t, 2, h.fake.Submissions, "failed jobs are skipped without retry")

	h.run(t, lrSweep, model.SubmitRules{Retry: true}, Options{})
	require.Equal(t, 4, h.fake.Submissions)
}

func TestRunReplacesActiveJobs(t *testing.T) {
	h := newHarness(t)
	sheeps := h.run(t, lrSweep, model.SubmitRules{}, Options{})
	first := sheeps[0].Job.JobID

	h.run(t, lrSweep, model.SubmitRules{Replace: true}, Options{})
	require.Contains(t, h.fake.Cancelled, first)
	require.Equal(t, 4, h.fake.Submissions)
}

func TestRunJobArray(t *testing.T) {
	h := newHarness(t)
	sheeps := h.run(t, func(l Launcher) {
		l.JobArray(func(la Launcher) {
			la.Launch("--lr=0.1")
			la.Launch("--lr=0.01")
			la.Launch("--lr=0.001")
		})
	}, model.SubmitRules{}, Options{})

	require.Len(t, sheeps, 3)
	require.Equal(t, 1, h.fake.Submissions, "an array is one scheduler request")
	for _, sheep := range sheeps {
		require.NotNil(t, sheep.Job)
		require.Equal(t, "sweep_array1", sheep.Job.Array)
	}
}

func TestOrphanRecoverySparesOtherGrids(t *testing.T) {
	h := newHarness(t)
	sheeps := h.run(t, func(l Launcher) {
		l.JobArray(func(la Launcher) {
			la.Launch("--lr=0.1")
		})
	}, model.SubmitRules{}, Options{})
	require.Len(t, sheeps, 1)

	// Another grid of the same project crashed between submission and
	// recording, leaving its token behind. The next invocation must only
	// hunt jobs under that grid's name, never this grid's healthy array.
	token := filepath.Join(h.reg.OrphanDir(), "proj_other_array1")
	require.NoError(t, os.WriteFile(token, nil, 0o644))

	_, err := shepherd.New(zerolog.Nop(), "proj", []string{"./train"}, h.reg, h.fake)
	require.NoError(t, err)

	require.Empty(t, h.fake.Cancelled)
	require.NoFileExists(t, token, "the stale token is still consumed")
}

func TestRunDryRun(t *testing.T) {
	h := newHarness(t)
	h.run(t, lrSweep, model.SubmitRules{}, Options{DryRun: true})

	require.Equal(t, 0, h.fake.Submissions)
	manifest, err := h.reg.LoadManifest("sweep")
	require.NoError(t, err)
	require.Empty(t, manifest.Signatures, "dry run must not update the manifest")
	require.Contains(t, h.out.String(), "2 submitted")
}

func TestRunCancelMode(t *testing.T) {
	h := newHarness(t)
	sheeps := h.run(t, lrSweep, model.SubmitRules{}, Options{})

	h.run(t, lrSweep, model.SubmitRules{}, Options{Cancel: true})
	require.ElementsMatch(t,
		[]string{sheeps[0].Job.JobID, sheeps[1].Job.JobID}, h.fake.Cancelled)
	require.Equal(t, 2, h.fake.Submissions)
}

func TestRunAbortsOnBrokenDefinition(t *testing.T) {
	h := newHarness(t)
	_, err := h.recon.Run(context.Background(), "sweep", func(l Launcher) {
		l = l.Bind(struct{}{})
		l.Launch()
	}, model.SubmitRules{}, Options{})

	var cerr *canonical.ConfigError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 0, h.fake.Submissions)
}

func TestRunIsolatesBadIntents(t *testing.T) {
	h := newHarness(t)
	sheeps := h.run(t, func(l Launcher) {
		l.Launch("--lr=0.1")
		l.Launch("lr=0.1") // not a flag token, fails canonicalization
	}, model.SubmitRules{}, Options{})

	require.Len(t, sheeps, 1)
	require.Equal(t, 1, h.fake.Submissions)
	require.Contains(t, h.out.String(), "1 failed to schedule")
}

func TestRunDeduplicatesIntents(t *testing.T) {
	h := newHarness(t)
	sheeps := h.run(t, func(l Launcher) {
		l.Launch("--lr=0.1")
		l.Launch("--lr=0.1")
	}, model.SubmitRules{}, Options{})

	require.Len(t, sheeps, 1)
	require.Equal(t, 1, h.fake.Submissions)
}

func TestRunFiltersByPattern(t *testing.T) {
	h := newHarness(t)
	sheeps := h.run(t, lrSweep, model.SubmitRules{}, Options{
		Patterns: []string{"lr=0.01"},
	})

	require.Len(t, sheeps, 1)
	require.Equal(t, 1, h.fake.Submissions)

	// The full grid stays declared even when only part of it was selected.
	manifest, err := h.reg.LoadManifest("sweep")
	require.NoError(t, err)
	require.Len(t, manifest.Signatures, 2)
}

func TestRunClearRequiresConfirmation(t *testing.T) {
	h := newHarness(t)
	h.run(t, lrSweep, model.SubmitRules{}, Options{})

	_, err := h.recon.Run(context.Background(), "sweep", lrSweep,
		model.SubmitRules{}, Options{Clear: true})
	require.Error(t, err, "a nil Confirm refuses destructive actions")
	require.Empty(t, h.fake.Cancelled)
}

// flakyPollScheduler fails the first bulk status query and completes every
// job on the second, driving the monitor loop through a transient outage.
type flakyPollScheduler struct {
	*scheduler.Fake
	polls int
}

func (f *flakyPollScheduler) StatusBulk(jobIDs []string) (map[string]model.JobStatus, error) {
	f.polls++
	if f.polls == 1 {
		return nil, &scheduler.Error{Op: "poll", Err: errors.New("connection reset")}
	}
	f.SetAll(model.StatusCompleted)
	return f.Fake.StatusBulk(jobIDs)
}

func TestMonitorRetriesFailedPolls(t *testing.T) {
	fake := scheduler.NewFake()
	flaky := &flakyPollScheduler{Fake: fake}
	h := newHarnessWith(t, flaky, fake)

	sheeps := h.run(t, lrSweep, model.SubmitRules{}, Options{
		Monitor:  true,
		Interval: time.Millisecond,
	})

	// The first tick's poll failed, the loop kept going and the second
	// tick observed completion.
	require.Equal(t, 2, flaky.polls)
	for _, sheep := range sheeps {
		require.Equal(t, model.StatusCompleted, sheep.Status)
	}
}

func TestRunCountsEachFailedSubmission(t *testing.T) {
	h := newHarness(t)
	h.fake.FailSubmit = errors.New("queue limit reached")

	sheeps := h.run(t, lrSweep, model.SubmitRules{}, Options{})

	require.Len(t, sheeps, 2)
	require.Contains(t, h.out.String(), "2 failed to schedule")
}

func TestRunClearRestartsFromScratch(t *testing.T) {
	h := newHarness(t)
	sheeps := h.run(t, lrSweep, model.SubmitRules{}, Options{})
	oldIDs := []string{sheeps[0].Job.JobID, sheeps[1].Job.JobID}

	cleared := h.run(t, lrSweep, model.SubmitRules{}, Options{
		Clear:   true,
		Confirm: func(string) bool { return true },
	})

	require.ElementsMatch(t, oldIDs, h.fake.Cancelled)
	require.Equal(t, 4, h.fake.Submissions)
	for i, sheep := range cleared {
		require.NotNil(t, sheep.Job)
		require.NotContains(t, oldIDs, sheep.Job.JobID)
		require.Equal(t, sheeps[i].XP.Sig, sheep.XP.Sig, "clearing keeps the identity")
	}
}
