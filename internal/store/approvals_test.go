package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newApproval(t *testing.T, s *Store, ttl time.Duration) *Approval {
	t.Helper()
	a := &Approval{
		ApprovalID:    uuid.NewString(),
		OperationJSON: []byte(`{"type":"Run","plugin_ref":"csv_v2"}`),
		SummaryJSON:   []byte(`{"description":"run csv_v2 over /data","file_count":3}`),
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(ttl),
		Status:        ApprovalPending,
	}
	if err := s.CreateApproval(context.Background(), a); err != nil {
		t.Fatalf("create approval: %v", err)
	}
	return a
}

func TestTransitionApprovalApproveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newApproval(t, s, time.Hour)

	ok, err := s.TransitionApproval(ctx, a.ApprovalID, ApprovalApproved, []byte(`{"at":"now"}`))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !ok {
		t.Fatal("expected first approve to succeed")
	}

	ok, err = s.TransitionApproval(ctx, a.ApprovalID, ApprovalApproved, []byte(`{"at":"later"}`))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if ok {
		t.Fatal("expected second approve on a terminal approval to be a no-op")
	}

	got, err := s.GetApproval(ctx, a.ApprovalID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != ApprovalApproved {
		t.Fatalf("expected status to remain Approved, got %s", got.Status)
	}
}

func TestTransitionApprovalRejectThenApproveIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newApproval(t, s, time.Hour)

	if ok, err := s.TransitionApproval(ctx, a.ApprovalID, ApprovalRejected, nil); err != nil || !ok {
		t.Fatalf("expected reject to succeed, ok=%v err=%v", ok, err)
	}
	if ok, err := s.TransitionApproval(ctx, a.ApprovalID, ApprovalApproved, nil); err != nil || ok {
		t.Fatalf("expected approve after reject to be a no-op, ok=%v err=%v", ok, err)
	}
}

func TestExpireOverdueMovesPendingPastTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newApproval(t, s, -time.Minute) // already expired

	n, err := s.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 approval expired, got %d", n)
	}
	got, _ := s.GetApproval(ctx, a.ApprovalID)
	if got.Status != ApprovalExpired {
		t.Fatalf("expected Expired, got %s", got.Status)
	}
}

func TestBindJobIDAfterApprove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newApproval(t, s, time.Hour)
	if _, err := s.TransitionApproval(ctx, a.ApprovalID, ApprovalApproved, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	job := enqueue(t, s, "csv_v2", 0)
	if err := s.BindJobID(ctx, a.ApprovalID, job.ID); err != nil {
		t.Fatalf("bind: %v", err)
	}
	got, err := s.GetApproval(ctx, a.ApprovalID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.JobID == nil || *got.JobID != job.ID {
		t.Fatalf("expected bound job id %d, got %+v", job.ID, got.JobID)
	}
}

func TestCleanupOldDeletesOnlyTerminalPastAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pending := newApproval(t, s, time.Hour)
	rejected := newApproval(t, s, time.Hour)
	if _, err := s.TransitionApproval(ctx, rejected.ApprovalID, ApprovalRejected, nil); err != nil {
		t.Fatalf("reject: %v", err)
	}

	n, err := s.CleanupOld(ctx, -time.Hour) // cutoff in the future relative to created_at, so everything created_at < cutoff
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the terminal (rejected) approval deleted, got %d", n)
	}
	if _, err := s.GetApproval(ctx, pending.ApprovalID); err != nil {
		t.Fatalf("expected pending approval to survive cleanup: %v", err)
	}
}
