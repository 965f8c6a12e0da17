// Package backend defines the config backend collaborator: the component
// that understands how raw command line tokens map to effective
// configuration values. The canonicalizer consumes the flattened view it
// produces; the training code consumes the resolved view. Both views must
// agree on the effective value of every key.
package backend

// Entry is one flattened key value pair. Keys may be dotted paths for
// nested configuration.
type Entry struct {
	Key   string
	Value any
}

// Backend turns raw argv tokens into flattened configuration views.
type Backend interface {
	// Flatten parses argv into the ordered sequence of overridden keys.
	// Keys appear in first-occurrence order; a later occurrence of the
	// same key overrides the value in place (last write wins), matching
	// how the backend itself resolves duplicate flags. Values equal to a
	// declared default are omitted, so the result is the delta that
	// identifies the experiment.
	Flatten(argv []string) ([]Entry, error)

	// Resolve returns the full effective configuration the training code
	// will see: declared defaults overlaid with the argv overrides.
	Resolve(argv []string) (map[string]any, error)
}
