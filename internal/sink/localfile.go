package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalFileSink writes each output stream to a file under Dir, named by
// output name and a content-addressed suffix. It exists to give the Worker
// Runtime's demultiplexing logic something real to exercise; production
// deployments wire Arrow/Parquet/DuckDB writers behind the same Sink
// interface instead (spec §1's sink writers are an external collaborator).
type LocalFileSink struct {
	Dir string
}

// NewLocalFileSink builds a LocalFileSink rooted at dir, creating it if
// necessary.
func NewLocalFileSink(dir string) (*LocalFileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create local file sink dir: %w", err)
	}
	return &LocalFileSink{Dir: dir}, nil
}

// Open creates (or truncates) a file named "<outputName>-<schemaHash>.bin"
// under Dir and returns it for the caller to write raw stdout bytes into.
func (s *LocalFileSink) Open(outputName, schemaHash string) (io.WriteCloser, error) {
	name := fmt.Sprintf("%s-%s.bin", sanitize(outputName), sanitize(schemaHash))
	return os.Create(filepath.Join(s.Dir, name))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
