package worker

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/casparianflow/sentinel/internal/hashutil"
	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/protocol"
	"github.com/casparianflow/sentinel/internal/sink"
)

type memSink struct {
	buf *bytes.Buffer
}

func (m *memSink) Open(outputName, schemaHash string) (io.WriteCloser, error) {
	return nopWriteCloser{m.buf}, nil
}

type nopWriteCloser struct {
	w *bytes.Buffer
}

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func openerFor(bufs map[string]*bytes.Buffer) SinkOpener {
	return func(cfg protocol.SinkConfig) (sink.Sink, error) {
		buf, ok := bufs[cfg.OutputName]
		if !ok {
			buf = &bytes.Buffer{}
			bufs[cfg.OutputName] = buf
		}
		return &memSink{buf: buf}, nil
	}
}

func TestDemuxHappyPathSingleOutput(t *testing.T) {
	schemaHash := hashutil.Sum([]byte("schema-v1"))
	stderr := strings.Join([]string{
		`{"type":"hello","protocol":"1","parser_id":"csv","parser_version":"2","capabilities":{}}`,
		`{"type":"output_begin","output":"rows","schema_hash":"` + schemaHash + `","stream_index":0}`,
		`{"type":"progress","output":"rows","message":"halfway","percent":50}`,
		`{"type":"output_end","output":"rows","rows_emitted":3,"stream_index":0}`,
	}, "\n") + "\n"
	stdout := "col-a,col-b\n1,2\n3,4\n"

	bufs := map[string]*bytes.Buffer{}
	d := newDemux(testLog(t), map[string]string{"rows": schemaHash}, openerFor(bufs), []protocol.SinkConfig{{OutputName: "rows", URI: "mem://rows"}})
	d.run(strings.NewReader(stdout), strings.NewReader(stderr))

	receipt := d.buildReceipt(nil)
	if receipt.Status != protocol.ReceiptSuccess {
		t.Fatalf("expected success, got %+v", receipt)
	}
	if receipt.Metrics["rows_rows"] != 3 || receipt.Metrics["rows"] != 3 {
		t.Fatalf("unexpected metrics: %+v", receipt.Metrics)
	}
	if bufs["rows"].String() != stdout {
		t.Fatalf("expected sink to receive raw stdout bytes, got %q", bufs["rows"].String())
	}
}

func TestDemuxSchemaMismatchIsFatal(t *testing.T) {
	stderr := strings.Join([]string{
		`{"type":"hello","protocol":"1","parser_id":"csv","parser_version":"2","capabilities":{}}`,
		`{"type":"output_begin","output":"rows","schema_hash":"wrong","stream_index":0}`,
	}, "\n") + "\n"

	bufs := map[string]*bytes.Buffer{}
	d := newDemux(testLog(t), map[string]string{"rows": "expected-hash"}, openerFor(bufs), []protocol.SinkConfig{{OutputName: "rows", URI: "mem://rows"}})
	d.run(strings.NewReader(""), strings.NewReader(stderr))

	receipt := d.buildReceipt(nil)
	if receipt.Status != protocol.ReceiptFailure {
		t.Fatalf("expected failure, got %+v", receipt)
	}
	if receipt.ErrorKind == "" {
		t.Fatal("expected a non-empty error_kind")
	}
}

func TestDemuxMissingHelloIsFatal(t *testing.T) {
	stderr := `{"type":"output_begin","output":"rows","schema_hash":"h","stream_index":0}` + "\n"
	bufs := map[string]*bytes.Buffer{}
	d := newDemux(testLog(t), nil, openerFor(bufs), nil)
	d.run(strings.NewReader(""), strings.NewReader(stderr))

	receipt := d.buildReceipt(nil)
	if receipt.Status != protocol.ReceiptFailure {
		t.Fatalf("expected failure for missing hello, got %+v", receipt)
	}
}

func TestDemuxUnclosedOutputIsFatal(t *testing.T) {
	stderr := strings.Join([]string{
		`{"type":"hello","protocol":"1","parser_id":"csv","parser_version":"2","capabilities":{}}`,
		`{"type":"output_begin","output":"rows","schema_hash":"h","stream_index":0}`,
	}, "\n") + "\n"
	bufs := map[string]*bytes.Buffer{}
	d := newDemux(testLog(t), map[string]string{"rows": "h"}, openerFor(bufs), []protocol.SinkConfig{{OutputName: "rows", URI: "mem://rows"}})
	d.run(strings.NewReader("some bytes"), strings.NewReader(stderr))

	receipt := d.buildReceipt(nil)
	if receipt.Status != protocol.ReceiptFailure {
		t.Fatalf("expected failure for an output never closed, got %+v", receipt)
	}
}

func TestDemuxQuarantineCountAccumulates(t *testing.T) {
	stderr := strings.Join([]string{
		`{"type":"hello","protocol":"1","parser_id":"csv","parser_version":"2","capabilities":{}}`,
		`{"type":"output_begin","output":"rows","schema_hash":"h","stream_index":0}`,
		`{"type":"quarantine","output":"rows","count":2,"reason":"bad row"}`,
		`{"type":"quarantine","output":"rows","count":1}`,
		`{"type":"output_end","output":"rows","rows_emitted":5,"stream_index":0}`,
	}, "\n") + "\n"
	bufs := map[string]*bytes.Buffer{}
	d := newDemux(testLog(t), map[string]string{"rows": "h"}, openerFor(bufs), []protocol.SinkConfig{{OutputName: "rows", URI: "mem://rows"}})
	d.run(strings.NewReader("abc"), strings.NewReader(stderr))

	receipt := d.buildReceipt(nil)
	if receipt.QuarantineRows != 3 {
		t.Fatalf("expected 3 quarantined rows, got %d", receipt.QuarantineRows)
	}
}
