package config

import "fmt"

// ConfigError reports a missing or malformed configuration key. A partially
// specified configuration is a hard failure: a silent fallback could run a
// solver against the wrong binary or write into shared storage.
type ConfigError struct {
	Key    string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration key %q: %s", e.Key, e.Reason)
}

// PathError reports a configured path that does not exist or lacks the
// permission its role requires.
type PathError struct {
	Key    string
	Path   string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration key %q: path %s: %s: %v", e.Key, e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration key %q: path %s: %s", e.Key, e.Path, e.Reason)
}

// Unwrap exposes the underlying filesystem error, if any.
func (e *PathError) Unwrap() error {
	return e.Err
}
