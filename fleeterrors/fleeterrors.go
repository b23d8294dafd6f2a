// Package fleeterrors implements the error taxonomy described in spec
// §7: a small set of sentinel codes every exported operation's error can
// be tested against with CodeOf(), so the control-plane API (the handlers
// package's writeOperationError) can map a code to a status without
// string-matching error messages.
package fleeterrors

import (
	"errors"
	"fmt"
)

// Code is one of the taxonomy's error classes.
type Code string

const (
	// CodeValidation covers a bad template name, invalid agent_id format,
	// unknown host, or exhausted port range. No state change occurs.
	CodeValidation Code = "validation_error"

	// CodePermission covers a custom (non-pre-approved) template
	// submitted without a WA signature.
	CodePermission Code = "permission_error"

	// CodeHostUnreachable covers a Docker connect timeout, TLS failure,
	// or an open circuit breaker. The operation fails for that host only.
	CodeHostUnreachable Code = "host_unreachable"

	// CodeContainerOp covers a start/stop/inspect failure from Docker.
	CodeContainerOp Code = "container_op_failure"

	// CodeAgentProtocol covers an agent refusing an update, timing out,
	// or returning an unexpected response shape.
	CodeAgentProtocol Code = "agent_protocol_failure"

	// CodeRegistryCorruption covers a JSON parse failure reading the
	// registry file.
	CodeRegistryCorruption Code = "registry_corruption"
)

// codedError pairs a Code with a wrapped cause, preserving errors.Is/As
// compatibility through errors.Unwrap.
type codedError struct {
	code  Code
	cause error
}

func (e *codedError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.cause)
}

func (e *codedError) Unwrap() error {
	return e.cause
}

// New wraps cause with code. Callers construct these at the point an
// error first crosses a package boundary that the control-plane API
// eventually surfaces to an operator.
func New(code Code, cause error) error {
	return &codedError{code: code, cause: cause}
}

// Newf is New with a formatted cause message.
func Newf(code Code, format string, args ...any) error {
	return &codedError{code: code, cause: fmt.Errorf(format, args...)}
}

// CodeOf extracts the taxonomy code from err, walking its Unwrap chain. It
// returns ("", false) for an error that never passed through New/Newf —
// callers should treat that as an unclassified internal error.
func CodeOf(err error) (Code, bool) {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code, true
	}
	return "", false
}
