package canonical

import (
	"path"
	"sort"
	"sync"

	"github.com/shepgo/shepgo/backend"
	"github.com/shepgo/shepgo/model"
)

// Canonicalizer flattens argument sets through a config backend and drops
// excluded keys before signing. Exclusion is a hashing only concern: the
// dropped keys still take effect at runtime.
//
// The canonicalizer remembers which exclusion patterns matched at least one
// observed key, so a pass can report dead patterns once at the end.
type Canonicalizer struct {
	backend backend.Backend
	exclude []string

	mu      sync.Mutex
	matched map[string]bool
}

// New returns a canonicalizer using the given backend and glob style
// exclusion patterns, e.g. "log_*" or "dataset.*".
func New(b backend.Backend, exclude []string) *Canonicalizer {
	matched := make(map[string]bool, len(exclude))
	for _, p := range exclude {
		matched[p] = false
	}
	return &Canonicalizer{backend: b, exclude: exclude, matched: matched}
}

// Canonicalize merges the positional tokens and named overrides of args
// into a single sorted canonical form. Named overrides of a key already
// set positionally win. Pure apart from exclusion pattern bookkeeping.
func (c *Canonicalizer) Canonicalize(args model.ArgumentSet) (Form, error) {
	entries, err := c.backend.Flatten(args.Argv)
	if err != nil {
		return nil, configErrorf(err, "cannot flatten argv %v", args.Argv)
	}

	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.Key] = i
	}
	keys := make([]string, 0, len(args.Overrides))
	for k := range args.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if i, ok := index[k]; ok {
			entries[i].Value = args.Overrides[k]
			continue
		}
		index[k] = len(entries)
		entries = append(entries, backend.Entry{Key: k, Value: args.Overrides[k]})
	}

	form := make(Form, 0, len(entries))
	for _, e := range entries {
		excluded, err := c.isExcluded(e.Key)
		if err != nil {
			return nil, err
		}
		if excluded {
			continue
		}
		value, err := normalize(e.Value)
		if err != nil {
			return nil, configErrorf(err, "key %q", e.Key)
		}
		form = append(form, Pair{Key: e.Key, Value: value})
	}
	return form.sorted(), nil
}

func (c *Canonicalizer) isExcluded(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pattern := range c.exclude {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return false, configErrorf(err, "bad exclusion pattern %q", pattern)
		}
		if ok {
			c.matched[pattern] = true
			return true, nil
		}
	}
	return false, nil
}

// UnusedPatterns returns the exclusion patterns that matched no key across
// every canonicalization so far. The reconciler reports them once per pass
// as an advisory ConfigError.
func (c *Canonicalizer) UnusedPatterns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.exclude {
		if !c.matched[p] {
			out = append(out, p)
		}
	}
	return out
}
