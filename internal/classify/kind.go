// Package classify implements the §7 error taxonomy: every failure in the
// core is classified into exactly one of seven kinds, each with its own
// propagation policy. The typed-error shape follows the teacher's
// internal/jobs/worker.go idiom (missingHandlerError, panicError) rather
// than a generic errors/codes library.
package classify

// Kind is one of the seven closed failure categories named in spec §7.
type Kind string

const (
	KindProtocol        Kind = "protocol"
	KindSchemaMismatch  Kind = "schema_mismatch"
	KindSubprocessError Kind = "subprocess_error"
	KindSinkError       Kind = "sink_error"
	KindTransportError  Kind = "transport_error"
	KindStoreError      Kind = "store_error"
	KindApprovalExpired Kind = "approval_expired"
)

// Error wraps an underlying cause with its taxonomy Kind and whether this
// particular occurrence should be retried.
type Error struct {
	Kind      Kind
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classify.Error of the given kind.
func New(kind Kind, retryable bool, cause error) *Error {
	return &Error{Kind: kind, Retryable: retryable, Cause: cause}
}

// Terminal kinds are never retryable regardless of the retry policy table:
// schema mismatches are a permanent parser/job mismatch, and an expired
// approval is a user-visible condition that requires a fresh approval, not
// an automatic retry.
func Terminal(kind Kind) bool {
	return kind == KindSchemaMismatch || kind == KindApprovalExpired
}

// Fatal reports whether this error kind's propagation policy (§7) requires
// terminating the owning process rather than recovering in the handler.
// store_error is the only kind the Sentinel cannot recover from locally
// (everything else is recorded on the Job row and surfaced via CONCLUDE or
// an API response); Claim-transaction optimistic conflicts are the single
// documented exception and are retried by the caller instead of reaching
// this classification.
func Fatal(kind Kind) bool {
	return kind == KindStoreError
}
