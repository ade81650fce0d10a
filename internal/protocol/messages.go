package protocol

// RuntimeKind selects the Worker Runtime dialect used to materialize a
// plugin subprocess (spec §3.2, §4.3).
type RuntimeKind string

const (
	RuntimeNativeSubprocess RuntimeKind = "native_subprocess"
	RuntimeShimSubprocess   RuntimeKind = "shim_subprocess"
)

// SinkConfig names where a parser's output stream should be routed. The
// sink implementations themselves (Arrow/Parquet/DuckDB writers) are
// external collaborators per spec §1; this type is the boundary contract.
type SinkConfig struct {
	OutputName string `json:"output_name"`
	URI        string `json:"uri"`
}

// IdentifyPayload is the IDENTIFY (opcode 1, W->S) body.
type IdentifyPayload struct {
	Capabilities []string `json:"capabilities"`
	WorkerID     string   `json:"worker_id,omitempty"`
}

// DispatchCommand is the DISPATCH (opcode 2, S->W) body.
type DispatchCommand struct {
	PluginName    string            `json:"plugin_name"`
	ParserVersion string            `json:"parser_version,omitempty"`
	FileID        string            `json:"file_id"`
	FilePath      string            `json:"file_path"`
	RuntimeKind   RuntimeKind       `json:"runtime_kind"`
	Entrypoint    string            `json:"entrypoint"`
	EnvHash       string            `json:"env_hash,omitempty"`
	SourceCode    string            `json:"source_code,omitempty"`
	ArtifactHash  string            `json:"artifact_hash"`
	SchemaHashes  map[string]string `json:"schema_hashes"`
	Sinks         []SinkConfig      `json:"sinks"`
	TraceID       string            `json:"trace_id,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
}

// ReceiptStatus is the outcome reported by a JobReceipt.
type ReceiptStatus string

const (
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailure ReceiptStatus = "failure"
	ReceiptAborted ReceiptStatus = "aborted"
)

// JobReceipt is the CONCLUDE (opcode 5, W->S) body.
type JobReceipt struct {
	Status        ReceiptStatus    `json:"status"`
	Metrics       map[string]int64 `json:"metrics,omitempty"`
	Artifacts     []string         `json:"artifacts,omitempty"`
	Error         string           `json:"error,omitempty"`
	ErrorKind     string           `json:"error_kind,omitempty"`
	SourceHash    string           `json:"source_hash,omitempty"`
	QuarantineRows int64           `json:"quarantine_rows,omitempty"`
}

// ErrPayload is the ERR (opcode 6, either direction) body.
type ErrPayload struct {
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// PrepareEnvPayload is the PREPARE_ENV (opcode 8, S->W) body.
type PrepareEnvPayload struct {
	PluginName string `json:"plugin_name"`
	Version    string `json:"version"`
	Lockfile   string `json:"lockfile"`
}

// EnvReadyPayload is the ENV_READY (opcode 9, W->S) body.
type EnvReadyPayload struct {
	EnvHash string `json:"env_hash"`
}

// DeployPayload is the DEPLOY (opcode 10, C->S) body.
type DeployPayload struct {
	PluginName   string `json:"plugin_name"`
	Version      string `json:"version"`
	SourceCode   string `json:"source_code"`
	Lockfile     string `json:"lockfile"`
	EnvHash      string `json:"env_hash"`
	ArtifactHash string `json:"artifact_hash"`
}

// AckPayload is the ACK (opcode 11, S->C) body.
type AckPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
