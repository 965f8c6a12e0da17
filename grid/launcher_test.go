package grid

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shepgo/shepgo/model"
)

func evaluate(t *testing.T, explore Explore) *sink {
	t.Helper()
	s := &sink{grid: "sweep"}
	explore(newLauncher(s, model.DefaultSlurmConfig()))
	return s
}

func TestLaunchCollectsIntents(t *testing.T) {
	s := evaluate(t, func(l Launcher) {
		l = l.Bind("--batch_size=128")
		l.Launch("--lr=0.1")
		l.Launch("--lr=0.01")
	})
	require.NoError(t, s.err)
	require.Len(t, s.intents, 2)
	require.Equal(t, []string{"--batch_size=128", "--lr=0.1"}, s.intents[0].Args.Argv)
	require.Equal(t, []string{"--batch_size=128", "--lr=0.01"}, s.intents[1].Args.Argv)
	require.Equal(t, 0, s.intents[0].Index)
	require.Equal(t, 1, s.intents[1].Index)
}

func TestBindDoesNotLeakIntoParent(t *testing.T) {
	s := evaluate(t, func(l Launcher) {
		sub := l.Bind("--dropout=0.1").Slurm(func(cfg *model.SlurmConfig) {
			cfg.GPUs = 8
		})
		sub.Launch()
		l.Launch()
	})
	require.NoError(t, s.err)
	require.Len(t, s.intents, 2)
	require.Equal(t, []string{"--dropout=0.1"}, s.intents[0].Args.Argv)
	require.Equal(t, 8, s.intents[0].Slurm.GPUs)
	require.Empty(t, s.intents[1].Args.Argv)
	require.Equal(t, model.DefaultSlurmConfig().GPUs, s.intents[1].Slurm.GPUs)
}

func TestSlurmCopiesSetup(t *testing.T) {
	s := evaluate(t, func(l Launcher) {
		l = l.Slurm(func(cfg *model.SlurmConfig) {
			cfg.Setup = []string{"module load cuda"}
		})
		sub := l.Slurm(func(cfg *model.SlurmConfig) {
			cfg.Setup = append(cfg.Setup, "source venv/bin/activate")
		})
		sub.Launch()
		l.Launch()
	})
	require.NoError(t, s.err)
	require.Len(t, s.intents, 2)
	require.Equal(t, []string{"module load cuda", "source venv/bin/activate"}, s.intents[0].Slurm.Setup)
	require.Equal(t, []string{"module load cuda"}, s.intents[1].Slurm.Setup)
}

func TestBindMapSortsKeys(t *testing.T) {
	s := evaluate(t, func(l Launcher) {
		l.Launch(map[string]any{
			"lr":         0.1,
			"batch_size": 64,
			"cuda":       true,
		})
	})
	require.NoError(t, s.err)
	require.Len(t, s.intents, 1)
	require.Equal(t, []string{"--batch_size=64", "--cuda", "--lr=0.1"}, s.intents[0].Args.Argv)
}

func TestJobArrayTagsIntents(t *testing.T) {
	s := evaluate(t, func(l Launcher) {
		l.Launch("--lr=1")
		l.JobArray(func(la Launcher) {
			la.Launch("--lr=0.1")
			la.Launch("--lr=0.01")
		})
		l.Launch("--lr=2")
	})
	require.NoError(t, s.err)
	require.Len(t, s.intents, 4)
	require.Empty(t, s.intents[0].Array)
	require.Equal(t, "sweep_array1", s.intents[1].Array)
	require.Equal(t, "sweep_array1", s.intents[2].Array)
	require.Empty(t, s.intents[3].Array)
}

func TestJobArrayNamesScopedToGrid(t *testing.T) {
	withArray := func(l Launcher) {
		l.JobArray(func(la Launcher) {
			la.Launch("--lr=0.1")
		})
	}

	a := &sink{grid: "sweep_a"}
	withArray(newLauncher(a, model.DefaultSlurmConfig()))
	b := &sink{grid: "sweep_b"}
	withArray(newLauncher(b, model.DefaultSlurmConfig()))

	require.NoError(t, a.err)
	require.NoError(t, b.err)
	// Two grids of one project must never derive the same scheduler job
	// name: crash recovery cancels by name.
	require.NotEqual(t, a.intents[0].Array, b.intents[0].Array)
}

func TestJobArraysDoNotNest(t *testing.T) {
	s := evaluate(t, func(l Launcher) {
		l.JobArray(func(la Launcher) {
			la.JobArray(func(Launcher) {})
		})
	})
	require.Error(t, s.err)
}

func TestBindRejectsUnknownType(t *testing.T) {
	s := evaluate(t, func(l Launcher) {
		l = l.Bind(42)
		l.Launch()
	})
	require.Error(t, s.err)
	require.Empty(t, s.intents)
}

func TestTokenFormatting(t *testing.T) {
	tests := []struct {
		key   string
		value any
		want  string
	}{
		{"lr", 0.1, "--lr=0.1"},
		{"epochs", 40, "--epochs=40"},
		{"cuda", true, "--cuda"},
		{"cuda", false, "--cuda=false"},
		{"optim", "adam", "--optim=adam"},
		{"milestones", []int{10, 20}, "--milestones=[10,20]"},
		{"init", nil, "--init=null"},
	}
	for _, test := range tests {
		require.Equal(t, test.want, token(test.key, test.value))
	}
}
