package store

import (
	"context"
	"testing"
)

func TestUpsertSessionCreateThenAdvance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, "sess-1", "scanned", []byte(`{"file_count":5}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != "scanned" {
		t.Fatalf("expected state scanned, got %s", got.State)
	}

	if err := s.UpsertSession(ctx, "sess-1", "tagged", []byte(`{"rule_id":"r1"}`)); err != nil {
		t.Fatalf("upsert advance: %v", err)
	}
	got, err = s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != "tagged" {
		t.Fatalf("expected state tagged after advance, got %s", got.State)
	}
}
