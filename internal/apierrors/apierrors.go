// Package apierrors implements the error taxonomy of §7: a small closed
// set of kinds, each carrying a scope (a flow://...#/pointer URL
// identifying the offending location within a draft) so the publication
// engine and controllers can classify and propagate failures uniformly.
package apierrors

import "fmt"

// Kind is one of the error kinds of §7's taxonomy table.
type Kind string

const (
	KindInvalidArgument   Kind = "InvalidArgument"
	KindNotFound          Kind = "NotFound"
	KindPermissionDenied  Kind = "PermissionDenied"
	KindConflict          Kind = "Conflict"
	KindTransient         Kind = "Transient"
	KindFatal             Kind = "Fatal"
	KindConnectorReturned Kind = "ConnectorReturned"
)

// Error is the concrete error type for every kind in the taxonomy.
type Error struct {
	Kind    Kind
	Scope   string
	Message string
	// Cause is the wrapped underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Scope, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, apierrors.KindX)-style classification by
// comparing Kind against a sentinel *Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Scope == "" && t.Message == ""
}

func newf(kind Kind, scope string, format string, args ...any) *Error {
	return &Error{Kind: kind, Scope: scope, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a malformed draft field (§7).
func InvalidArgument(scope string, format string, args ...any) *Error {
	return newf(KindInvalidArgument, scope, format, args...)
}

// NotFound reports a reference to a missing catalog entity (§7).
func NotFound(scope string, format string, args ...any) *Error {
	return newf(KindNotFound, scope, format, args...)
}

// PermissionDenied reports a missing authorization grant (§7). Callers
// should also surface names.UnauthorizedScope alongside this error.
func PermissionDenied(scope string, format string, args ...any) *Error {
	return newf(KindPermissionDenied, scope, format, args...)
}

// Conflict reports an expect_pub_id mismatch (§7).
func Conflict(scope string, format string, args ...any) *Error {
	return newf(KindConflict, scope, format, args...)
}

// Transient reports a retryable failure: database serialization conflict
// or connector timeout (§7).
func Transient(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Fatal reports a post-commit invariant violation requiring manual
// intervention (§7).
func Fatal(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindFatal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ConnectorReturned wraps a connector's verbatim validation-constraint
// failure message (§7, §4.4 step 4).
func ConnectorReturned(scope string, message string) *Error {
	return &Error{Kind: KindConnectorReturned, Scope: scope, Message: message}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
