// Package approval implements the Approval Gate of spec §4.4: a
// non-blocking two-phase lifecycle (Pending -> Approved|Rejected|Expired)
// guarding mutating operations, backed by internal/store instead of the
// original implementation's one-JSON-file-per-approval directory.
package approval

// OperationKind tags the variant of Operation, mirroring the Rust
// ApprovalOperation enum in original_source's approvals module.
type OperationKind string

const (
	OperationRun           OperationKind = "Run"
	OperationSchemaPromote OperationKind = "SchemaPromote"
)

// Operation is the tagged union of spec §3.4. Exactly one of the
// kind-specific field groups is populated, selected by Kind.
type Operation struct {
	Kind OperationKind `json:"kind"`

	// Run fields.
	PluginRef string `json:"plugin_ref,omitempty"`
	InputDir  string `json:"input_dir,omitempty"`
	Output    string `json:"output,omitempty"`

	// SchemaPromote fields.
	EphemeralID string `json:"ephemeral_id,omitempty"`
	OutputPath  string `json:"output_path,omitempty"`
}

// Summary is the human-display payload of spec §3.4.
type Summary struct {
	Description    string `json:"description"`
	FileCount      int    `json:"file_count"`
	EstimatedRows  *int64 `json:"estimated_rows,omitempty"`
	TargetPath     string `json:"target_path"`
}

// StatusPayload captures the per-status extra data of spec §3.4's status
// union: {Approved(at), Rejected(at, reason?), Expired}.
type StatusPayload struct {
	At     *int64  `json:"at,omitempty"` // milliseconds since epoch
	Reason *string `json:"reason,omitempty"`
}
