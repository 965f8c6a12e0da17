package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/shepgo/shepgo/model"
)

func TestOverlayKeepsDefaults(t *testing.T) {
	cfg := &Config{
		Project: "repo",
		Dir:     "outputs",
		Command: []string{"./train"},
		Slurm:   model.DefaultSlurmConfig(),
	}
	data := []byte(`
project: mnist
exclude: ["num_workers", "log_*"]
slurm:
  gpus: 8
  partition: devlab
`)
	require.NoError(t, yaml.Unmarshal(data, cfg))

	require.Equal(t, "mnist", cfg.Project)
	require.Equal(t, []string{"num_workers", "log_*"}, cfg.Exclude)
	require.Equal(t, 8, cfg.Slurm.GPUs)
	require.Equal(t, "devlab", cfg.Slurm.Partition)
	// Keys absent from the file keep their defaults.
	require.Equal(t, "outputs", cfg.Dir)
	require.Equal(t, []string{"./train"}, cfg.Command)
	require.Equal(t, model.DefaultSlurmConfig().MemPerGPU, cfg.Slurm.MemPerGPU)
}

func TestStateDir(t *testing.T) {
	cfg := &Config{Root: "/repo", Dir: "outputs"}
	require.Equal(t, filepath.Join("/repo", "outputs"), cfg.StateDir())

	cfg.Dir = "/scratch/outputs"
	require.Equal(t, "/scratch/outputs", cfg.StateDir())
}
