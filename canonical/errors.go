package canonical

import "fmt"

// ConfigError reports malformed or ambiguous argument and exclusion input.
// Raised during grid evaluation it aborts the pass; raised for a single
// intent it only fails that intent.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(err error, format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...), Err: err}
}
