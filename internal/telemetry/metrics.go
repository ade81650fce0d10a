package telemetry

import "sync/atomic"

// JobsConcluded is the one process-wide metrics counter spec §9 allows
// alongside the State Store handle and the worker table: a single running
// total of CONCLUDE receipts processed, incremented regardless of outcome.
// Grounded on original_source's casparian_worker/src/metrics.rs Metrics
// struct, narrowed from its many AtomicU64 fields down to the one counter
// the spec's "global mutable state restricted" design note permits.
var JobsConcluded atomic.Int64

// RecordJobConcluded increments the process-wide counter. Called from
// internal/sentinel's CONCLUDE handler once per receipt.
func RecordJobConcluded() {
	JobsConcluded.Add(1)
}

// JobsConcludedCount reads the current counter value, for the Control
// API's diagnostic surface or operator inspection.
func JobsConcludedCount() int64 {
	return JobsConcluded.Load()
}
