package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "state.sqlite")
	s, err := store.Open("sqlite:"+path, log)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return New(s)
}

func TestAdvanceWithoutRequiredApprovalIDFails(t *testing.T) {
	m := newTestManager(t)
	err := m.Advance(context.Background(), "sess-1", "awaiting_run", AdvanceOptions{
		RequiresApprovalID: true,
	})
	if !errors.Is(err, ErrMissingApprovalID) {
		t.Fatalf("expected ErrMissingApprovalID, got %v", err)
	}
}

func TestAdvanceWithoutRequiredJobIDFails(t *testing.T) {
	m := newTestManager(t)
	err := m.Advance(context.Background(), "sess-1", "running", AdvanceOptions{
		RequiresJobID: true,
	})
	if !errors.Is(err, ErrMissingJobID) {
		t.Fatalf("expected ErrMissingJobID, got %v", err)
	}
}

func TestAdvanceWithBoundIDsPersistsAndReads(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	err := m.Advance(ctx, "sess-1", "awaiting_run", AdvanceOptions{
		RequiresApprovalID: true,
		ApprovalID:         "approval-abc",
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	state, payload, err := m.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state != "awaiting_run" {
		t.Fatalf("expected state awaiting_run, got %s", state)
	}
	if payload.ApprovalID == nil || *payload.ApprovalID != "approval-abc" {
		t.Fatalf("expected bound approval id, got %+v", payload)
	}

	err = m.Advance(ctx, "sess-1", "running", AdvanceOptions{
		RequiresJobID: true,
		JobID:         42,
	})
	if err != nil {
		t.Fatalf("Advance to running: %v", err)
	}
	state, payload, err = m.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get after second advance: %v", err)
	}
	if state != "running" {
		t.Fatalf("expected state running, got %s", state)
	}
	if payload.JobID == nil || *payload.JobID != 42 {
		t.Fatalf("expected bound job id 42, got %+v", payload)
	}
}

func TestAdvanceWithNoRequirementsSucceeds(t *testing.T) {
	m := newTestManager(t)
	if err := m.Advance(context.Background(), "sess-2", "scanned", AdvanceOptions{}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
}
