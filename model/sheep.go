package model

import "time"

// SheepRecord is one scheduling attempt for an experiment. An experiment
// accumulates records over time (retries, replacements); the most recent
// one is authoritative for status queries. Records are append only.
type SheepRecord struct {
	// Scheduler job id returned at submission.
	JobID string `json:"job_id"`
	// Timestamp of the submission.
	SubmittedAt time.Time `json:"submitted_at"`
	// Snapshot of the scheduler config the job was submitted with.
	Slurm SlurmConfig `json:"slurm"`
	// Name of the job array this submission was part of, empty for
	// standalone jobs.
	Array string `json:"array,omitempty"`
}

// GridManifest records the set of signatures last declared by a grid, used
// to detect orphaned experiments across reconciliation passes.
type GridManifest struct {
	// Grid name the manifest belongs to.
	Grid string `json:"grid"`
	// Signatures declared by the last evaluation, in display order.
	Signatures []string `json:"signatures"`
	// Timestamp of the last reconciliation pass that wrote the manifest.
	UpdatedAt time.Time `json:"updated_at"`
}

// Has reports whether sig was part of the last declared set.
func (m *GridManifest) Has(sig string) bool {
	for _, s := range m.Signatures {
		if s == sig {
			return true
		}
	}
	return false
}
