package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestDispatchCommandJSONRoundTrip(t *testing.T) {
	want := DispatchCommand{
		PluginName:    "csv_v2",
		ParserVersion: "2.3.1",
		FileID:        "file-1",
		FilePath:      "/data/a.csv",
		RuntimeKind:   RuntimeShimSubprocess,
		Entrypoint:    "/opt/parsers/csv_v2/run.sh",
		EnvHash:       "envhash",
		ArtifactHash:  "arthash",
		SchemaHashes:  map[string]string{"rows": "h1", "errors": "h2"},
		Sinks: []SinkConfig{
			{OutputName: "rows", URI: "parquet://./rows.parquet"},
			{OutputName: "errors", URI: "parquet://./errors.parquet"},
		},
		TraceID:   "trace-1",
		RequestID: "req-1",
	}
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got DispatchCommand
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.PluginName != want.PluginName || len(got.SchemaHashes) != 2 || len(got.Sinks) != 2 {
		t.Fatalf("round trip mismatch: want %+v, got %+v", want, got)
	}
}

func TestJobReceiptJSONRoundTrip(t *testing.T) {
	want := JobReceipt{
		Status:         ReceiptFailure,
		Metrics:        map[string]int64{"rows_written": 100},
		Artifacts:      []string{"rows.parquet"},
		Error:          "boom",
		ErrorKind:      "subprocess_error",
		SourceHash:     "srchash",
		QuarantineRows: 3,
	}
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got JobReceipt
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch: want %+v, got %+v", want, got)
	}
}

func TestJobReceiptOmitsEmptyOptionalFields(t *testing.T) {
	b, err := json.Marshal(JobReceipt{Status: ReceiptSuccess})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"metrics", "artifacts", "error", "error_kind", "source_hash", "quarantine_rows"} {
		if _, present := m[field]; present {
			t.Fatalf("expected field %q to be omitted on zero value", field)
		}
	}
}

func TestIdentifyAndAckPayloadRoundTrip(t *testing.T) {
	id := IdentifyPayload{Capabilities: []string{"csv_v2", "json_v1"}, WorkerID: "w-1"}
	b, _ := json.Marshal(id)
	var gotID IdentifyPayload
	if err := json.Unmarshal(b, &gotID); err != nil {
		t.Fatalf("unmarshal identify: %v", err)
	}
	if len(gotID.Capabilities) != 2 || gotID.WorkerID != "w-1" {
		t.Fatalf("unexpected identify: %+v", gotID)
	}

	ack := AckPayload{Success: true}
	b, _ = json.Marshal(ack)
	var gotAck AckPayload
	if err := json.Unmarshal(b, &gotAck); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if !gotAck.Success || gotAck.Message != "" {
		t.Fatalf("unexpected ack: %+v", gotAck)
	}
}
