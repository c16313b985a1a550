// Package guard enforces the safety contracts every tool invocation passes
// through: the workspace path jail, SSRF-safe URL validation, the shell
// command filter, prompt-injection framing of untrusted content, keyed rate
// limiting, gateway bearer-token handling, and confirmation tokens for
// dangerous settings.
package guard

import "errors"

// SecurityError marks a guard rejection. The tool registry converts these
// into error results for the LLM and audit-logs them with blocked=true;
// they never unwind past a session-loop turn.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string { return e.Reason }

// NewSecurityError builds a SecurityError with the given reason.
func NewSecurityError(reason string) error {
	return &SecurityError{Reason: reason}
}

// IsSecurityError reports whether err is (or wraps) a guard rejection.
func IsSecurityError(err error) bool {
	var se *SecurityError
	return errors.As(err, &se)
}

// ValidationError marks malformed caller input (bad URL, cron expression,
// email address, argument shape). Returned to the caller as a tool error
// without the blocked audit flag.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NewValidationError builds a ValidationError with the given reason.
func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidationError reports whether err is (or wraps) a validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
