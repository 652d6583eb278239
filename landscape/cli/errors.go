package cli

import (
	"errors"

	"github.com/landscaperun/landscape/landscape"
)

// Process exit codes, spec §6: 0 success, 1 configuration error, 2
// runtime failure, 3 incompatible checkpoint.
const (
	ExitSuccess                = 0
	ExitConfigurationError     = 1
	ExitRuntimeFailure         = 2
	ExitIncompatibleCheckpoint = 3
)

// ConfigError marks an error as a configuration problem (bad flags, a
// validate failure, a Runner that refuses to build a graph) rather than
// a failure that happened while a run was actually executing.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by a command's RunE to the process
// exit code spec §6 assigns it.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigurationError
	}
	if errors.Is(err, landscape.ErrIncompatibleCheckpoint) {
		return ExitIncompatibleCheckpoint
	}
	return ExitRuntimeFailure
}
