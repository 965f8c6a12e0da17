// Package config loads the per project shepgo configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shepgo/shepgo/model"
)

// FileName is the project configuration file looked up at the repository
// root.
const FileName = ".shepgo.yaml"

// Config is the project level configuration.
type Config struct {
	// Project name, used as job name prefix. Defaults to the repository
	// directory name.
	Project string `yaml:"project"`
	// Directory where experiment folders, grid manifests and logs are
	// stored. Relative paths are resolved against the repository root.
	Dir string `yaml:"dir"`
	// Glob patterns of argument names excluded from signatures, e.g.
	// "num_workers" or "log_*".
	Exclude []string `yaml:"exclude"`
	// Training entry point the scheduler runs, with the experiment argv
	// appended. Defaults to "./train".
	Command []string `yaml:"command"`
	// Default scheduler configuration for submissions.
	Slurm model.SlurmConfig `yaml:"slurm"`
	// Root the config was loaded from. Not read from the file.
	Root string `yaml:"-"`
}

// Load reads the project config from the git repository root, falling back
// to defaults when no config file exists.
func Load() (*Config, error) {
	root, err := repoRoot()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Project: filepath.Base(root),
		Dir:     "outputs",
		Command: []string{"./train"},
		Slurm:   model.DefaultSlurmConfig(),
		Root:    root,
	}
	data, err := os.ReadFile(filepath.Join(root, FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	return cfg, nil
}

// StateDir returns the absolute directory holding all persisted state.
func (c *Config) StateDir() string {
	if filepath.IsAbs(c.Dir) {
		return c.Dir
	}
	return filepath.Join(c.Root, c.Dir)
}

func repoRoot() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not in a git repository: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}
