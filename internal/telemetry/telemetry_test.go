package telemetry

import (
	"context"
	"testing"
)

func TestNewTracerProviderStartsAndShutsDown(t *testing.T) {
	tp, err := NewTracerProvider("casparian-test")
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}
	_, span := StartDispatchSpan(context.Background(), 42, "csv_v2")
	span.End()
	if err := Shutdown(context.Background(), tp); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestRecordJobConcludedIncrementsCounter(t *testing.T) {
	before := JobsConcludedCount()
	RecordJobConcluded()
	RecordJobConcluded()
	if got := JobsConcludedCount(); got != before+2 {
		t.Fatalf("expected counter to increase by 2, got %d (before %d)", got, before)
	}
}
