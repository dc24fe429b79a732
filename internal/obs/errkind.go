// Package obs provides the ambient observability stack shared by every
// component: error-kind classification, Prometheus metrics, and OpenTelemetry
// tracing helpers.
package obs

// Kind classifies a failure the way the façade needs to report it to
// clients without parsing error message text.
type Kind string

const (
	KindConfigInvalid      Kind = "ConfigInvalid"
	KindToolNotFound       Kind = "ToolNotFound"
	KindArgumentInvalid    Kind = "ArgumentInvalid"
	KindQueueFull          Kind = "QueueFull"
	KindQueueTimeout       Kind = "QueueTimeout"
	KindTimeout            Kind = "Timeout"
	KindCancelled          Kind = "Cancelled"
	KindBrowserUnavailable Kind = "BrowserUnavailable"
	KindStepFailed         Kind = "StepFailed"
	KindLMTransport        Kind = "LMTransport"
	KindLMRejection        Kind = "LMRejection"
	KindLMUnparseable      Kind = "LMUnparseable"
	KindPersistenceFailed  Kind = "PersistenceFailed"
	KindInternal           Kind = "Internal"
)

// Retryable reports whether a task-level retry may succeed for this kind.
// Grounded on internal/agent/errors.go's ToolErrorType.IsRetryable in the
// teacher repo, generalized to the task-executor's retry policy (spec.md
// §7: C6 retries {LMTransport, BrowserUnavailable}).
func (k Kind) Retryable() bool {
	switch k {
	case KindLMTransport, KindBrowserUnavailable:
		return true
	default:
		return false
	}
}

// Error is a structured error carrying a Kind alongside the usual message
// and cause chain, grounded on the teacher's agent.ToolError shape.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error with the given kind wrapping cause.
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return &Error{Kind: kind}
	}
	return &Error{Kind: kind, Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, falling
// back to KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// as is a tiny errors.As wrapper kept local to avoid importing errors in
// every call site that just wants KindOf.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
