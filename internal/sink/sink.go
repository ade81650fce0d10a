// Package sink defines the boundary contract between the Worker Runtime
// and the Arrow/Parquet/DuckDB writers named in spec §1 as external
// collaborators. The core ships one reference implementation
// (local-file) for testability; production sinks live outside this
// module's scope.
package sink

import "io"

// Sink receives the raw columnar bytes for one output stream, bounded by
// the output_begin/output_end frames on the parser's stderr control
// channel (spec §4.3). Write is called zero or more times between Open and
// Close; SchemaHash is validated by the caller against DispatchCommand's
// schema_hashes before Open is invoked.
type Sink interface {
	// Open prepares the sink to receive bytes for outputName, having
	// already matched schemaHash against the expected value.
	Open(outputName, schemaHash string) (io.WriteCloser, error)
}

// Config mirrors protocol.SinkConfig's wire shape without importing the
// protocol package, keeping sink implementations independent of the wire
// codec.
type Config struct {
	OutputName string
	URI        string
}
