package cli

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
	// ExitIntegrity reports a broken audit chain or failed erasure
	// verification; alerting keys on it.
	ExitIntegrity = 3
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Message
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IntegrityError marks a failure that must exit with ExitIntegrity.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string {
	return e.Err.Error()
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	var (
		cfgErr       *ConfigError
		integrityErr *IntegrityError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &integrityErr):
		return ExitIntegrity
	case errors.As(err, &cfgErr):
		return ExitConfig
	default:
		return ExitFailure
	}
}
