package classify

// Reason is a short, stable label for why a subprocess_error occurred.
// The policy table below decides, per spec §9's Open Question, whether a
// given reason is retryable. original_source uses a short allowlist
// (timeout, known-transient I/O errors); this implementation keeps that as
// the default and lets an operator extend it without code changes.
type Reason string

const (
	ReasonTimeout         Reason = "timeout"
	ReasonTransientIO     Reason = "transient_io"
	ReasonOOM             Reason = "oom"
	ReasonNonZeroExit     Reason = "nonzero_exit"
	ReasonProtocolViolate Reason = "protocol_violation"
	ReasonKilled          Reason = "killed"
)

// RetryPolicy classifies subprocess_error reasons as retryable-once or
// fatal. This is the "policy table an implementer must configure" named in
// spec §9.
type RetryPolicy struct {
	retryable map[Reason]bool
}

// DefaultRetryPolicy matches the short allowlist spec §9 attributes to the
// original Rust implementation: timeouts and transient I/O are retried
// once; everything else (including OOM, since an OOM with "room to retry"
// is an operator/sizing judgment this default policy doesn't assume) is
// fatal on first occurrence unless the operator opts in via WithRetryable.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{retryable: map[Reason]bool{
		ReasonTimeout:     true,
		ReasonTransientIO: true,
	}}
}

// WithRetryable returns a copy of the policy with reason marked retryable
// (or not).
func (p RetryPolicy) WithRetryable(reason Reason, retryable bool) RetryPolicy {
	next := RetryPolicy{retryable: make(map[Reason]bool, len(p.retryable)+1)}
	for k, v := range p.retryable {
		next.retryable[k] = v
	}
	next.retryable[reason] = retryable
	return next
}

// IsRetryable reports whether reason should be retried once before becoming
// fatal, per this policy.
func (p RetryPolicy) IsRetryable(reason Reason) bool {
	return p.retryable[reason]
}
