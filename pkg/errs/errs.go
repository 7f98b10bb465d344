// Package errs defines the typed error taxonomy shared by the graph,
// routing, metrics, and design packages.
//
// Structural, reachability, and precondition errors abort routing synthesis.
// Configuration and numeric errors surface where the offending parameter is
// consumed. None of them are transient, so callers never retry.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// StructuralError reports a malformed graph or topology: a link referencing a
// node or port that does not exist, a port claimed twice, or a broken route.
type StructuralError struct {
	Op     string
	Detail string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: structural: %s", e.Op, e.Detail)
}

// PreconditionError reports a topology shape an algorithm cannot handle.
type PreconditionError struct {
	Op     string
	Detail string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition: %s", e.Op, e.Detail)
}

// ReachabilityError reports a node that has no path to a destination.
// From and To are canonical node identifiers such as "chiplet:3".
type ReachabilityError struct {
	Op   string
	From string
	To   string
}

func (e *ReachabilityError) Error() string {
	return fmt.Sprintf("%s: no path from %s to %s", e.Op, e.From, e.To)
}

// ConfigurationError reports an invalid parameter, an unknown algorithm name,
// or a missing field.
type ConfigurationError struct {
	Field  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Detail
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Detail)
}

// NumericError reports a degenerate computation, e.g. a zero denominator.
type NumericError struct {
	Op     string
	Detail string
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("%s: numeric: %s", e.Op, e.Detail)
}

// Structural builds a *StructuralError with a formatted detail message.
func Structural(op, format string, args ...interface{}) error {
	return errors.WithStack(&StructuralError{Op: op, Detail: fmt.Sprintf(format, args...)})
}

// Precondition builds a *PreconditionError with a formatted detail message.
func Precondition(op, format string, args ...interface{}) error {
	return errors.WithStack(&PreconditionError{Op: op, Detail: fmt.Sprintf(format, args...)})
}

// Unreachable builds a *ReachabilityError for the given node pair.
func Unreachable(op string, from, to fmt.Stringer) error {
	return errors.WithStack(&ReachabilityError{Op: op, From: from.String(), To: to.String()})
}

// Config builds a *ConfigurationError with a formatted detail message.
func Config(field, format string, args ...interface{}) error {
	return errors.WithStack(&ConfigurationError{Field: field, Detail: fmt.Sprintf(format, args...)})
}

// Numeric builds a *NumericError with a formatted detail message.
func Numeric(op, format string, args ...interface{}) error {
	return errors.WithStack(&NumericError{Op: op, Detail: fmt.Sprintf(format, args...)})
}

// IsStructural reports whether err wraps a *StructuralError.
func IsStructural(err error) bool {
	var target *StructuralError
	return errors.As(err, &target)
}

// IsPrecondition reports whether err wraps a *PreconditionError.
func IsPrecondition(err error) bool {
	var target *PreconditionError
	return errors.As(err, &target)
}

// IsUnreachable reports whether err wraps a *ReachabilityError.
func IsUnreachable(err error) bool {
	var target *ReachabilityError
	return errors.As(err, &target)
}

// IsConfig reports whether err wraps a *ConfigurationError.
func IsConfig(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsNumeric reports whether err wraps a *NumericError.
func IsNumeric(err error) bool {
	var target *NumericError
	return errors.As(err, &target)
}
