package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/shepgo/shepgo/model"
)

// LoadManifest returns the last declared signature set for the grid. A
// missing manifest is a fresh grid with an empty set.
func (r *Registry) LoadManifest(grid string) (*model.GridManifest, error) {
	path := r.manifestPath(grid)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &model.GridManifest{Grid: grid}, nil
		}
		return nil, &Error{Op: "read", Path: path, Err: err}
	}
	var m model.GridManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &Error{Op: "parse", Path: path, Err: err}
	}
	return &m, nil
}

// SaveManifest atomically replaces the grid's manifest with the given
// declared set. This is the only cross process shared state, so partial
// reads by a concurrent status viewer must be impossible.
func (r *Registry) SaveManifest(grid string, sigs []string) error {
	dir := filepath.Join(r.root, gridsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Op: "create", Path: dir, Err: err}
	}
	m := model.GridManifest{Grid: grid, Signatures: sigs, UpdatedAt: time.Now().UTC()}
	return writeJSON(r.manifestPath(grid), m)
}

func (r *Registry) manifestPath(grid string) string {
	return filepath.Join(r.root, gridsDir, grid+".json")
}
