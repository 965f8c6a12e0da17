// Package canonical turns raw argument sets into an order independent,
// flattened key value form and derives the short stable signature that
// identifies an experiment.
package canonical

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Pair is one canonical key value entry. It serializes as a two element
// array so the byte form matches across languages and runs.
type Pair struct {
	Key   string
	Value any
}

func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Key, p.Value})
}

func (p *Pair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &p.Key); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &p.Value)
}

// Form is the canonical form of an argument set: flattened dotted keys
// mapped to primitive values, sorted by key, exclusions already dropped.
type Form []Pair

// Get returns the value for key and whether it is present.
func (f Form) Get(key string) (any, bool) {
	for _, p := range f {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in form order.
func (f Form) Keys() []string {
	out := make([]string, len(f))
	for i, p := range f {
		out[i] = p.Key
	}
	return out
}

func (f Form) sorted() Form {
	sort.SliceStable(f, func(i, j int) bool { return f[i].Key < f[j].Key })
	return f
}

// normalize maps a value onto the JSON primitive domain: numbers become
// float64, sequences []any, so equivalent inputs compare and serialize
// identically regardless of their Go type.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value %v is not serializable: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
