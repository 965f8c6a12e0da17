package backend

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Flags is a flag style backend: every override is a "--key=value" token,
// a bare "--key" meaning true. Keys may be dotted paths. Declared defaults
// are used to drop overrides that do not change anything and to build the
// resolved view.
type Flags struct {
	defaults map[string]any
}

// NewFlags returns a backend with the given declared defaults. A nil map
// declares nothing: every override is then part of the delta.
func NewFlags(defaults map[string]any) *Flags {
	return &Flags{defaults: defaults}
}

func (f *Flags) Flatten(argv []string) ([]Entry, error) {
	var entries []Entry
	index := make(map[string]int)
	for _, tok := range argv {
		key, value, err := parseToken(tok)
		if err != nil {
			return nil, err
		}
		if def, ok := f.defaults[key]; ok && equalValue(def, value) {
			continue
		}
		if i, ok := index[key]; ok {
			entries[i].Value = value
			continue
		}
		index[key] = len(entries)
		entries = append(entries, Entry{Key: key, Value: value})
	}
	return entries, nil
}

func (f *Flags) Resolve(argv []string) (map[string]any, error) {
	out := make(map[string]any, len(f.defaults))
	for k, v := range f.defaults {
		out[k] = v
	}
	for _, tok := range argv {
		key, value, err := parseToken(tok)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

func parseToken(tok string) (string, any, error) {
	if !strings.HasPrefix(tok, "--") {
		return "", nil, fmt.Errorf("malformed argument %q: expected --key or --key=value", tok)
	}
	body := tok[2:]
	if body == "" {
		return "", nil, fmt.Errorf("malformed argument %q: empty key", tok)
	}
	key, raw, found := strings.Cut(body, "=")
	if key == "" {
		return "", nil, fmt.Errorf("malformed argument %q: empty key", tok)
	}
	if !found {
		return key, true, nil
	}
	return key, coerce(raw), nil
}

// coerce maps a raw string to the value the backend would parse it as, so
// "--lr=0.01" and an override {"lr": 0.01} agree.
func coerce(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if strings.HasPrefix(raw, "[") {
		var v []any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
	}
	return raw
}

// equalValue compares a default with a parsed value through their JSON
// form, so int defaults match int64 parses.
func equalValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	aj, erra := json.Marshal(a)
	bj, errb := json.Marshal(b)
	return erra == nil && errb == nil && string(aj) == string(bj)
}
