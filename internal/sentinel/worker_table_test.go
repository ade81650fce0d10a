package sentinel

import (
	"testing"
	"time"
)

func TestWorkerTableFindIdleForExactAndWildcard(t *testing.T) {
	tbl := NewWorkerTable()
	tbl.Register(&WorkerHandle{WorkerID: "w1", Capabilities: []string{"csv_v2"}, Status: statusIdle, LastHeartbeat: time.Now()})
	tbl.Register(&WorkerHandle{WorkerID: "w2", Capabilities: []string{"*"}, Status: statusIdle, LastHeartbeat: time.Now()})

	id, ok := tbl.FindIdleFor("csv_v2")
	if !ok {
		t.Fatal("expected to find an idle worker for csv_v2")
	}
	if id != "w1" && id != "w2" {
		t.Fatalf("unexpected worker id: %s", id)
	}

	if _, ok := tbl.FindIdleFor("json_v1"); !ok {
		t.Fatal("expected wildcard worker to satisfy json_v1")
	}
}

func TestWorkerTableFindIdleExcludesBusy(t *testing.T) {
	tbl := NewWorkerTable()
	tbl.Register(&WorkerHandle{WorkerID: "w1", Capabilities: []string{"csv_v2"}, Status: statusIdle, LastHeartbeat: time.Now()})
	tbl.MarkBusy("w1", 42)

	if _, ok := tbl.FindIdleFor("csv_v2"); ok {
		t.Fatal("expected busy worker to not be returned as idle")
	}
}

func TestWorkerTableMarkIdleClearsCurrentJob(t *testing.T) {
	tbl := NewWorkerTable()
	tbl.Register(&WorkerHandle{WorkerID: "w1", Capabilities: []string{"csv_v2"}, Status: statusIdle, LastHeartbeat: time.Now()})
	tbl.MarkBusy("w1", 7)
	tbl.MarkIdle("w1")

	h, ok := tbl.Get("w1")
	if !ok {
		t.Fatal("expected worker to still be registered")
	}
	if h.Status != statusIdle || h.CurrentJobID != nil {
		t.Fatalf("expected idle with no current job, got %+v", h)
	}
}

func TestWorkerTableStaleDetectsPastDeadline(t *testing.T) {
	tbl := NewWorkerTable()
	tbl.Register(&WorkerHandle{WorkerID: "w1", LastHeartbeat: time.Now().Add(-time.Hour)})

	stale := tbl.Stale(time.Minute)
	if len(stale) != 1 || stale[0].WorkerID != "w1" {
		t.Fatalf("expected w1 to be stale, got %+v", stale)
	}

	tbl.Touch("w1")
	if stale := tbl.Stale(time.Minute); len(stale) != 0 {
		t.Fatalf("expected fresh heartbeat to clear staleness, got %+v", stale)
	}
}

func TestWorkerTableUnregisterRemoves(t *testing.T) {
	tbl := NewWorkerTable()
	tbl.Register(&WorkerHandle{WorkerID: "w1"})
	tbl.Unregister("w1")
	if _, ok := tbl.Get("w1"); ok {
		t.Fatal("expected worker to be gone after unregister")
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table, got len %d", tbl.Len())
	}
}
