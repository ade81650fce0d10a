package protocol

import (
	"bytes"
	"testing"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCodec(0)
	want := DispatchCommand{
		PluginName:   "csv_v2",
		FileID:       "file-123",
		FilePath:     "/data/input.csv",
		RuntimeKind:  RuntimeNativeSubprocess,
		Entrypoint:   "/opt/parsers/csv_v2",
		ArtifactHash: "deadbeef",
		SchemaHashes: map[string]string{"rows": "abc123"},
		Sinks:        []SinkConfig{{OutputName: "rows", URI: "parquet://./out/rows.parquet"}},
	}

	var buf bytes.Buffer
	if err := c.WriteFrame(&buf, OpDispatch, 77, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := c.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Header.Opcode != OpDispatch || f.Header.JobID != 77 {
		t.Fatalf("unexpected header: %+v", f.Header)
	}

	got, err := DecodePayload[DispatchCommand](f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PluginName != want.PluginName || got.SchemaHashes["rows"] != "abc123" {
		t.Fatalf("round trip mismatch: want %+v, got %+v", want, got)
	}
}

func TestFrameEmptyPayloadAccepted(t *testing.T) {
	c := NewCodec(0)
	var buf bytes.Buffer
	if err := c.WriteFrame(&buf, OpHeartbeat, 1, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := c.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Header.PayloadLen != 0 {
		t.Fatalf("expected empty payload, got %d bytes", f.Header.PayloadLen)
	}
}

func TestFrameRejectsOversizePayload(t *testing.T) {
	c := NewCodec(16) // 16-byte ceiling
	big := ErrPayload{Message: "this message is definitely longer than sixteen bytes"}
	if _, err := c.Encode(OpErr, 0, big); err == nil {
		t.Fatal("expected encode to reject oversized payload")
	}
}

func TestFrameRejectsOversizeDeclaredLength(t *testing.T) {
	c := NewCodec(16)
	// Hand-craft a header declaring a payload larger than the ceiling.
	h := Header{Version: CurrentVersion, Opcode: OpErr, JobID: 0, PayloadLen: 1000}
	packed := h.Pack()
	buf := bytes.NewBuffer(packed[:])
	if _, err := c.ReadFrame(buf); err == nil {
		t.Fatal("expected ReadFrame to reject oversized declared payload_len")
	}
}

func TestFrameRejectsLowVersion(t *testing.T) {
	c := NewCodec(0)
	h := Header{Version: 0x01, Opcode: OpHeartbeat, JobID: 0, PayloadLen: 0}
	packed := h.Pack()
	buf := bytes.NewBuffer(packed[:])
	if _, err := c.ReadFrame(buf); err == nil {
		t.Fatal("expected ReadFrame to reject a version below CurrentVersion")
	}
}

func TestParseParserFrameRoundTrip(t *testing.T) {
	line := []byte(`{"type":"output_begin","output":"rows","schema_hash":"abc","stream_index":0}`)
	typ, frame, err := ParseParserFrame(line)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if typ != ParserFrameOutputBegin {
		t.Fatalf("unexpected type: %s", typ)
	}
	begin, ok := frame.(ParserOutputBegin)
	if !ok {
		t.Fatalf("unexpected frame concrete type: %T", frame)
	}
	if begin.SchemaHash != "abc" {
		t.Fatalf("unexpected schema hash: %s", begin.SchemaHash)
	}
}

func TestParseParserFrameRejectsUnknownType(t *testing.T) {
	if _, _, err := ParseParserFrame([]byte(`{"type":"bogus"}`)); err == nil {
		t.Fatal("expected error for unrecognized frame type")
	}
}

func TestParseParserFrameRejectsMalformedJSON(t *testing.T) {
	if _, _, err := ParseParserFrame([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
}
