package scheduler

import (
	"fmt"
	"os/exec"
	"os/user"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"

	"github.com/shepgo/shepgo/model"
)

// Slurm drives a Slurm cluster through its command line tools (sbatch,
// scancel, squeue, sacct).
type Slurm struct {
	logger zerolog.Logger
}

// NewSlurm returns a Slurm backed scheduler.
func NewSlurm(logger zerolog.Logger) *Slurm {
	return &Slurm{logger: logger}
}

var _ Scheduler = (*Slurm)(nil)

func (s *Slurm) Submit(name string, command []string, cfg model.SlurmConfig) (string, error) {
	args, err := sbatchArgs(name, cfg)
	if err != nil {
		return "", err
	}
	wrap := wrapCommand(cfg.Setup, command)
	args = append(args, "--wrap", wrap)

	s.logger.Debug().Str("name", name).Str("wrap", wrap).Msg("Running sbatch")
	out, err := s.run("sbatch", args...)
	if err != nil {
		return "", &Error{Op: "submit", Err: err}
	}
	id, err := parseSbatchOutput(out)
	if err != nil {
		return "", &Error{Op: "submit", Err: err}
	}
	return id, nil
}

func (s *Slurm) SubmitArray(name string, commands [][]string, cfg model.SlurmConfig) ([]string, error) {
	if len(commands) == 0 {
		return nil, nil
	}
	args, err := sbatchArgs(name, cfg)
	if err != nil {
		return nil, err
	}
	args = append(args, "--array", fmt.Sprintf("0-%d", len(commands)-1))

	// One submission, one command per array task, dispatched on the task id.
	var b strings.Builder
	b.WriteString("case \"$SLURM_ARRAY_TASK_ID\" in\n")
	for i, command := range commands {
		fmt.Fprintf(&b, "%d) %s ;;\n", i, wrapCommand(cfg.Setup, command))
	}
	b.WriteString("esac")
	args = append(args, "--wrap", b.String())

	s.logger.Debug().Str("name", name).Int("tasks", len(commands)).Msg("Running sbatch array")
	out, err := s.run("sbatch", args...)
	if err != nil {
		return nil, &Error{Op: "submit array", Err: err}
	}
	arrayID, err := parseSbatchOutput(out)
	if err != nil {
		return nil, &Error{Op: "submit array", Err: err}
	}
	ids := make([]string, len(commands))
	for i := range commands {
		ids[i] = fmt.Sprintf("%s_%d", arrayID, i)
	}
	return ids, nil
}

func (s *Slurm) Cancel(jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	s.logger.Debug().Strs("job_ids", jobIDs).Msg("Running scancel")
	if _, err := s.run("scancel", jobIDs...); err != nil {
		return &Error{Op: "cancel", Err: err}
	}
	return nil
}

func (s *Slurm) Status(jobID string) (model.JobStatus, error) {
	statuses, err := s.StatusBulk([]string{jobID})
	if err != nil {
		return "", err
	}
	return statuses[jobID], nil
}

func (s *Slurm) StatusBulk(jobIDs []string) (map[string]model.JobStatus, error) {
	out := make(map[string]model.JobStatus, len(jobIDs))
	if len(jobIDs) == 0 {
		return out, nil
	}
	for _, id := range jobIDs {
		out[id] = model.StatusNotScheduled
	}
	list := strings.Join(jobIDs, ",")

	// squeue knows about pending and running jobs, sacct about finished
	// ones. Query both in bulk and let squeue win for live jobs.
	acct, acctErr := s.run("sacct", "-n", "-X", "-P", "-j", list, "-o", "JobID,State")
	if acctErr == nil {
		for _, line := range strings.Split(strings.TrimSpace(acct), "\n") {
			id, state, found := strings.Cut(strings.TrimSpace(line), "|")
			if found {
				if _, tracked := out[id]; tracked {
					out[id] = mapState(state)
				}
			}
		}
	}
	queue, err := s.run("squeue", "-h", "-j", list, "-o", "%i %T")
	if err != nil {
		// squeue fails on wholly unknown job ids; that is fine as long as
		// sacct answered, both failing means the cluster is unreachable.
		if acctErr != nil {
			return nil, &Error{Op: "poll", Err: err}
		}
	} else {
		for _, line := range strings.Split(strings.TrimSpace(queue), "\n") {
			id, state, found := strings.Cut(strings.TrimSpace(line), " ")
			if found {
				if _, tracked := out[id]; tracked {
					out[id] = mapState(state)
				}
			}
		}
	}
	return out, nil
}

func (s *Slurm) FindByName(name string) ([]string, error) {
	u, err := user.Current()
	if err != nil {
		return nil, &Error{Op: "find", Err: err}
	}
	out, err := s.run("squeue", "-h", "-u", u.Username, "-n", name, "-o", "%i")
	if err != nil {
		return nil, &Error{Op: "find", Err: err}
	}
	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

func (s *Slurm) run(bin string, args ...string) (string, error) {
	cmd := exec.Command(bin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", bin, err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// sbatchArgs maps the scheduler config onto sbatch parameters. Node and
// task counts are inferred from the GPU count, assuming 8 GPU nodes.
func sbatchArgs(name string, cfg model.SlurmConfig) ([]string, error) {
	gpus := cfg.GPUs
	nodes := 1
	gpusPerNode := gpus
	if gpus > 8 {
		if gpus%8 != 0 {
			return nil, &Error{Op: "submit", Err: fmt.Errorf("can only take <= 8 gpus, or a multiple of 8 gpus, got %d", gpus)}
		}
		nodes = gpus / 8
		gpusPerNode = 8
	}
	args := []string{
		"--job-name", name,
		"--nodes", fmt.Sprintf("%d", nodes),
		"--time", fmt.Sprintf("%d", cfg.Time),
		"--mem", fmt.Sprintf("%.0fG", cfg.MemPerGPU*float64(gpusPerNode)),
	}
	if cfg.OneTaskPerNode {
		args = append(args,
			"--ntasks-per-node", "1",
			"--gpus-per-task", fmt.Sprintf("%d", gpusPerNode),
			"--cpus-per-task", fmt.Sprintf("%d", gpusPerNode*cfg.CPUsPerGPU))
	} else {
		args = append(args,
			"--ntasks-per-node", fmt.Sprintf("%d", gpusPerNode),
			"--gpus-per-task", "1",
			"--cpus-per-task", fmt.Sprintf("%d", cfg.CPUsPerGPU))
	}
	if cfg.Partition != "" {
		args = append(args, "--partition", cfg.Partition)
	}
	if cfg.Comment != "" {
		args = append(args, "--comment", cfg.Comment)
	}
	if cfg.Constraint != "" {
		args = append(args, "--constraint", cfg.Constraint)
	}
	return args, nil
}

// wrapCommand renders the setup commands plus the training command as a
// single shell line with proper escaping.
func wrapCommand(setup []string, command []string) string {
	parts := append([]string(nil), setup...)
	parts = append(parts, shellescape.QuoteCommand(command))
	return strings.Join(parts, " && ")
}

func parseSbatchOutput(out string) (string, error) {
	// "Submitted batch job 123456"
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty sbatch output")
	}
	id := fields[len(fields)-1]
	if id == "" {
		return "", fmt.Errorf("could not parse job id from %q", out)
	}
	return id, nil
}

func mapState(state string) model.JobStatus {
	state = strings.ToUpper(strings.TrimSpace(state))
	switch {
	case strings.HasPrefix(state, "CANCELLED"):
		return model.StatusCancelled
	case state == "PENDING" || state == "CONFIGURING":
		return model.StatusQueued
	case state == "RUNNING" || state == "COMPLETING":
		return model.StatusRunning
	case state == "COMPLETED":
		return model.StatusCompleted
	case state == "REQUEUED" || state == "PREEMPTED" || state == "SUSPENDED" || state == "RESIZING":
		return model.StatusRequeued
	case state == "FAILED" || state == "OUT_OF_MEMORY" || state == "TIMEOUT" ||
		state == "NODE_FAIL" || state == "BOOT_FAIL" || state == "DEADLINE":
		return model.StatusFailed
	}
	return model.StatusNotScheduled
}
