package topology

import (
	"fmt"
)

// ConfigError reports an invalid action configuration. It is detected by
// Parse before any I/O, so it always means actor startup must be refused.
type ConfigError struct {
	Action string // action that failed validation
	Field  string // offending field
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("topology: invalid %s config: field %q: %s", e.Action, e.Field, e.Reason)
}

// DeclareError reports an action failing against a live channel. The connect
// attempt that triggered the run fails and the channel is discarded.
type DeclareError struct {
	Action string
	Err    error
}

func (e *DeclareError) Error() string {
	return fmt.Sprintf("topology: %s declaration failed: %v", e.Action, e.Err)
}

func (e *DeclareError) Unwrap() error {
	return e.Err
}
