package approval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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
	return New(s, nil, log)
}

type fakeWaker struct{ woken int }

func (f *fakeWaker) Wake() { f.woken++ }

func TestCreateApprovalDefaultsToPendingWithTTL(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	req, err := m.Create(ctx, Operation{Kind: OperationRun, PluginRef: "csv_v2", InputDir: "/data"}, Summary{
		Description: "run csv_v2 over /data", FileCount: 3, TargetPath: "/out",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Status != "Pending" {
		t.Fatalf("expected Pending, got %s", req.Status)
	}
	if req.ExpiresAt.Sub(req.CreatedAt) != DefaultTTL {
		t.Fatalf("expected default TTL of %s, got %s", DefaultTTL, req.ExpiresAt.Sub(req.CreatedAt))
	}
}

func TestApproveThenRejectIsNoOp(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	req, err := m.Create(ctx, Operation{Kind: OperationRun}, Summary{Description: "d", TargetPath: "/out"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := m.Approve(ctx, req.ApprovalID)
	if err != nil || !ok {
		t.Fatalf("expected approve to succeed, ok=%v err=%v", ok, err)
	}

	reason := "changed my mind"
	ok, err = m.Reject(ctx, req.ApprovalID, &reason)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if ok {
		t.Fatal("expected reject on an already-approved request to be a no-op")
	}

	got, err := m.Get(ctx, req.ApprovalID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "Approved" {
		t.Fatalf("expected status to remain Approved, got %s", got.Status)
	}
}

func TestApproveCreatesAndBindsJob(t *testing.T) {
	m := newTestManager(t)
	waker := &fakeWaker{}
	m.waker = waker
	ctx := context.Background()
	req, err := m.Create(ctx, Operation{Kind: OperationRun, PluginRef: "csv_v2", InputDir: "/data", Output: "/out"}, Summary{
		Description: "run csv_v2 over /data", TargetPath: "/out",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Approve(ctx, req.ApprovalID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	got, err := m.Get(ctx, req.ApprovalID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.JobID == nil {
		t.Fatal("expected approve to bind a job id")
	}

	job, err := m.store.GetJob(ctx, *got.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.ApprovalID == nil || *job.ApprovalID != req.ApprovalID {
		t.Fatalf("expected job.approval_id == %s, got %+v", req.ApprovalID, job.ApprovalID)
	}
	if job.PluginName != "csv_v2" {
		t.Fatalf("expected plugin_name csv_v2, got %s", job.PluginName)
	}
	if waker.woken == 0 {
		t.Fatal("expected approve to wake the dispatcher")
	}

	// A second approve call is idempotent: no second job is created.
	if _, err := m.Approve(ctx, req.ApprovalID); err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	got2, err := m.Get(ctx, req.ApprovalID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got2.JobID != *got.JobID {
		t.Fatalf("expected job id to remain %d, got %d", *got.JobID, *got2.JobID)
	}
}

func TestCheckExpiredSweepsPastTTL(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	req, err := m.Create(ctx, Operation{Kind: OperationRun}, Summary{Description: "d", TargetPath: "/out"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n, err := m.CheckExpired(ctx); err != nil || n != 0 {
		t.Fatalf("expire before TTL: n=%d err=%v", n, err)
	}
	got, err := m.Get(ctx, req.ApprovalID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "Pending" {
		t.Fatalf("expected still Pending before TTL elapses, got %s", got.Status)
	}

	// Force it into the past via direct store access.
	past := time.Now().Add(-time.Minute)
	if err := m.store.DB().Model(&store.Approval{}).Where("approval_id = ?", req.ApprovalID).Update("expires_at", past).Error; err != nil {
		t.Fatalf("backdate expires_at: %v", err)
	}
	if n, err := m.CheckExpired(ctx); err != nil || n != 1 {
		t.Fatalf("expire after TTL: n=%d err=%v", n, err)
	}
	got, err = m.Get(ctx, req.ApprovalID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "Expired" {
		t.Fatalf("expected Expired after TTL elapses, got %s", got.Status)
	}
}

func TestRejectNonexistentApprovalReturnsError(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Reject(context.Background(), "does-not-exist", nil); err == nil {
		t.Fatal("expected error for unknown approval id")
	}
}

func TestListPendingOnlyReturnsPending(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	a, err := m.Create(ctx, Operation{Kind: OperationRun}, Summary{Description: "a", TargetPath: "/out"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := m.Create(ctx, Operation{Kind: OperationSchemaPromote}, Summary{Description: "b", TargetPath: "/out"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Approve(ctx, b.ApprovalID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	pending, err := m.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ApprovalID != a.ApprovalID {
		t.Fatalf("expected only %s pending, got %+v", a.ApprovalID, pending)
	}
}

func TestCleanupOldKeepsRecentTerminal(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	req, err := m.Create(ctx, Operation{Kind: OperationRun}, Summary{Description: "d", TargetPath: "/out"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Reject(ctx, req.ApprovalID, nil); err != nil {
		t.Fatalf("reject: %v", err)
	}
	n, err := m.CleanupOld(ctx, time.Hour) // 1h cutoff, approval created seconds ago
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected recent terminal approval to survive, deleted %d", n)
	}
}
