// Package registry is the persistent mapping from signature to experiment:
// per experiment folders keyed by signature, the lineage of scheduling
// attempts for each, a job id index, and per grid manifests. The directory
// layout is derived deterministically from signatures, so everything is
// reconstructible without a database.
//
// The registry provides no cross process locking beyond atomic directory
// creation and write-then-rename file updates: reconciling the same grid
// from two processes concurrently is unsupported.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/shepgo/shepgo/canonical"
	"github.com/shepgo/shepgo/model"
)

const (
	xpsDir     = "xps"
	byIDDir    = "by_id"
	gridsDir   = "grids"
	orphansDir = "orphans"

	argsFile    = "args.json"
	sheepsFile  = "sheeps.json"
	historyFile = "history.json"
)

// ErrNotFound is returned when no experiment matches a lookup.
var ErrNotFound = errors.New("not found")

// Error wraps filesystem or manifest failures. These are fatal for the
// current pass: they threaten the identity consistency invariant and are
// never silently swallowed.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("registry: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Experiment is one uniquely signed configuration and its folder. Created
// on first encounter of a new signature, never mutated afterwards except
// for appended sheep records.
type Experiment struct {
	// Signature identifying the canonical form.
	Sig string `json:"sig"`
	// Raw arguments the experiment was declared with.
	Args model.ArgumentSet `json:"args"`
	// Canonical form the signature was computed from.
	Delta canonical.Form `json:"delta"`
	// Creation time of the experiment folder.
	CreatedAt time.Time `json:"created_at"`

	folder string
}

// Folder returns the experiment's storage folder.
func (x *Experiment) Folder() string { return x.folder }

// Registry provides lookup and mutation over the on disk state.
type Registry struct {
	root   string
	logger zerolog.Logger
}

// New returns a registry rooted at dir. Directories are created lazily.
func New(logger zerolog.Logger, dir string) *Registry {
	return &Registry{root: dir, logger: logger}
}

// Root returns the state directory the registry operates on.
func (r *Registry) Root() string { return r.root }

// OrphanDir returns the directory holding submission tokens for crash
// recovery.
func (r *Registry) OrphanDir() string { return filepath.Join(r.root, orphansDir) }

func (r *Registry) xpFolder(sig string) string {
	return filepath.Join(r.root, xpsDir, sig)
}

// GetOrCreate returns the experiment for the given canonical form,
// creating its folder and argument record on first encounter. Directory
// creation is idempotent, so repeated calls are safe.
func (r *Registry) GetOrCreate(args model.ArgumentSet, delta canonical.Form) (*Experiment, error) {
	sig := canonical.Sign(delta)
	folder := r.xpFolder(sig)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, &Error{Op: "create", Path: folder, Err: err}
	}
	argsPath := filepath.Join(folder, argsFile)
	if _, err := os.Stat(argsPath); errors.Is(err, os.ErrNotExist) {
		xp := &Experiment{Sig: sig, Args: args.Clone(), Delta: delta, CreatedAt: time.Now().UTC(), folder: folder}
		if err := writeJSON(argsPath, xp); err != nil {
			return nil, err
		}
		r.logger.Debug().Str("sig", sig).Str("folder", folder).Msg("Created experiment")
		return xp, nil
	}
	return r.BySignature(sig)
}

// BySignature loads a previously created experiment, or ErrNotFound.
func (r *Registry) BySignature(sig string) (*Experiment, error) {
	argsPath := filepath.Join(r.xpFolder(sig), argsFile)
	data, err := os.ReadFile(argsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("experiment %s: %w", sig, ErrNotFound)
		}
		return nil, &Error{Op: "read", Path: argsPath, Err: err}
	}
	var xp Experiment
	if err := json.Unmarshal(data, &xp); err != nil {
		return nil, &Error{Op: "parse", Path: argsPath, Err: err}
	}
	xp.folder = r.xpFolder(sig)
	return &xp, nil
}

// ByJobID resolves the experiment owning the latest sheep submitted with
// the given job id, or ErrNotFound.
func (r *Registry) ByJobID(jobID string) (*Experiment, error) {
	path := filepath.Join(r.root, byIDDir, jobID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, &Error{Op: "read", Path: path, Err: err}
	}
	return r.BySignature(string(data))
}

// RecordSubmission appends a new sheep record for the experiment and
// updates the job id index. The new record becomes the latest.
func (r *Registry) RecordSubmission(xp *Experiment, rec model.SheepRecord) error {
	sheeps, err := r.Sheeps(xp)
	if err != nil {
		return err
	}
	sheeps = append(sheeps, rec)
	if err := writeJSON(filepath.Join(xp.folder, sheepsFile), sheeps); err != nil {
		return err
	}
	idDir := filepath.Join(r.root, byIDDir)
	if err := os.MkdirAll(idDir, 0o755); err != nil {
		return &Error{Op: "create", Path: idDir, Err: err}
	}
	idPath := filepath.Join(idDir, rec.JobID)
	if err := os.WriteFile(idPath, []byte(xp.Sig), 0o644); err != nil {
		return &Error{Op: "write", Path: idPath, Err: err}
	}
	r.logger.Debug().Str("sig", xp.Sig).Str("job_id", rec.JobID).Msg("Recorded submission")
	return nil
}

// Sheeps returns all sheep records for the experiment, oldest first.
func (r *Registry) Sheeps(xp *Experiment) ([]model.SheepRecord, error) {
	path := filepath.Join(xp.folder, sheepsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Op: "read", Path: path, Err: err}
	}
	var sheeps []model.SheepRecord
	if err := json.Unmarshal(data, &sheeps); err != nil {
		return nil, &Error{Op: "parse", Path: path, Err: err}
	}
	return sheeps, nil
}

// LatestSheep returns the most recent sheep record, or nil if the
// experiment was never submitted.
func (r *Registry) LatestSheep(xp *Experiment) (*model.SheepRecord, error) {
	sheeps, err := r.Sheeps(xp)
	if err != nil || len(sheeps) == 0 {
		return nil, err
	}
	return &sheeps[len(sheeps)-1], nil
}

// History reads the metric history the training code appended to the
// experiment folder. Missing history is an empty slice, not an error.
func (r *Registry) History(xp *Experiment) ([]map[string]any, error) {
	path := filepath.Join(xp.folder, historyFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Op: "read", Path: path, Err: err}
	}
	var history []map[string]any
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, &Error{Op: "parse", Path: path, Err: err}
	}
	return history, nil
}

// ListSignatures returns every known experiment signature, sorted.
func (r *Registry) ListSignatures() ([]string, error) {
	dir := filepath.Join(r.root, xpsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Op: "list", Path: dir, Err: err}
	}
	var sigs []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) == canonical.SigLen {
			sigs = append(sigs, e.Name())
		}
	}
	sort.Strings(sigs)
	return sigs, nil
}

// DeleteFolder removes the experiment folder and everything in it. This is
// a destructive operator action, the caller is responsible for having
// confirmed it.
func (r *Registry) DeleteFolder(xp *Experiment) error {
	if err := os.RemoveAll(xp.folder); err != nil {
		return &Error{Op: "delete", Path: xp.folder, Err: err}
	}
	r.logger.Info().Str("sig", xp.Sig).Msg("Deleted experiment folder")
	return nil
}

// writeJSON writes to a temporary file and renames it into place, so a
// concurrent reader never observes a partial write.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &Error{Op: "marshal", Path: path, Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &Error{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &Error{Op: "rename", Path: path, Err: err}
	}
	return nil
}
