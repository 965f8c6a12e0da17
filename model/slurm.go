package model

// SlurmConfig is the scheduler side of an experiment intent. It differs
// slightly from raw sbatch parameters: node and task counts are inferred
// from the number of GPUs at submission time.
type SlurmConfig struct {
	// Number of total GPUs to schedule. Nodes and tasks per node are
	// inferred from this.
	GPUs int `json:"gpus" yaml:"gpus"`
	// Amount of memory in GB to schedule per GPU.
	MemPerGPU float64 `json:"mem_per_gpu" yaml:"mem_per_gpu"`
	// Maximum duration of the job in minutes.
	Time int `json:"time" yaml:"time"`
	// Number of CPUs per GPU.
	CPUsPerGPU int `json:"cpus_per_gpu" yaml:"cpus_per_gpu"`
	// Partition name.
	Partition string `json:"partition" yaml:"partition"`
	// Comment attached to the job.
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`
	// Constraint expression passed through to the scheduler.
	Constraint string `json:"constraint,omitempty" yaml:"constraint,omitempty"`
	// Shell commands to execute before the actual command, e.g. module loads.
	Setup []string `json:"setup,omitempty" yaml:"setup,omitempty"`
	// Schedule a single task per node instead of one per GPU.
	OneTaskPerNode bool `json:"one_task_per_node,omitempty" yaml:"one_task_per_node,omitempty"`
}

// DefaultSlurmConfig returns the scheduler defaults used when the project
// config does not override them.
func DefaultSlurmConfig() SlurmConfig {
	return SlurmConfig{
		GPUs:       1,
		MemPerGPU:  40,
		Time:       1200,
		CPUsPerGPU: 10,
		Partition:  "learn",
	}
}

// SubmitRules describe in which cases the shepherd schedules new jobs for
// experiments that already have one.
type SubmitRules struct {
	// Resubmit failed or cancelled jobs.
	Retry bool `json:"retry"`
	// Cancel and resubmit running or queued jobs.
	Replace bool `json:"replace"`
	// Resubmit completed jobs.
	ReplaceDone bool `json:"replace_done"`
}
