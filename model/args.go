package model

// ArgumentSet is the raw description of one experiment: an ordered sequence
// of command line tokens plus named overrides keyed by dotted path. It is
// immutable once captured for an experiment.
type ArgumentSet struct {
	// Raw command line tokens, e.g. "--lr=0.01".
	Argv []string `json:"argv"`
	// Named overrides merged on top of Argv, last write wins.
	Overrides map[string]any `json:"overrides,omitempty"`
}

// Clone returns a deep copy so a captured set cannot be mutated through
// aliased slices or maps.
func (a ArgumentSet) Clone() ArgumentSet {
	out := ArgumentSet{Argv: append([]string(nil), a.Argv...)}
	if a.Overrides != nil {
		out.Overrides = make(map[string]any, len(a.Overrides))
		for k, v := range a.Overrides {
			out.Overrides[k] = v
		}
	}
	return out
}
