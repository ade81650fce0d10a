package sentinel

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/casparianflow/sentinel/internal/config"
	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/protocol"
	"github.com/casparianflow/sentinel/internal/store"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
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
	cfg := config.SentinelConfig{
		MaxRetries:        3,
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatDeadline: 200 * time.Millisecond,
		MaxFrameBytes:     config.DefaultMaxFrame,
	}
	return New(s, cfg, log), s
}

// TestEndToEndDispatchAndConclude drives a full worker session over a real
// TCP loopback connection: IDENTIFY, claim+DISPATCH, HEARTBEAT (CLAIMED ->
// RUNNING), CONCLUDE (RUNNING -> COMPLETED). This exercises spec §4.2's
// dispatch/conclude rules through the actual wire codec.
func TestEndToEndDispatchAndConclude(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	srv := NewServer(d)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(ctx, conn)
		}
	}()
	go d.RunClaimLoop(ctx)

	job, err := s.EnqueueJob(ctx, store.EnqueueJobInput{
		FileID:      "file-1",
		FilePath:    "/data/a.csv",
		PluginName:  "csv_v2",
		Entrypoint:  "/bin/true",
		RuntimeKind: protocol.RuntimeNativeSubprocess,
		SourceHash:  "hash",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	codec := protocol.NewCodec(0)
	if err := codec.WriteFrame(conn, protocol.OpIdentify, 0, protocol.IdentifyPayload{
		Capabilities: []string{"csv_v2"}, WorkerID: "worker-1",
	}); err != nil {
		t.Fatalf("write identify: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frame, err := codec.ReadFrame(conn)
	if err != nil {
		t.Fatalf("expected DISPATCH frame: %v", err)
	}
	if frame.Header.Opcode != protocol.OpDispatch {
		t.Fatalf("expected DISPATCH, got %s", frame.Header.Opcode.Name())
	}
	cmd, err := protocol.DecodePayload[protocol.DispatchCommand](frame)
	if err != nil {
		t.Fatalf("decode dispatch: %v", err)
	}
	if cmd.FileID != "file-1" || cmd.PluginName != "csv_v2" {
		t.Fatalf("unexpected dispatch command: %+v", cmd)
	}

	if err := codec.WriteFrame(conn, protocol.OpHeartbeat, job.ID, nil); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	waitForJobStatus(t, ctx, s, job.ID, store.JobRunning)

	if err := codec.WriteFrame(conn, protocol.OpConclude, job.ID, protocol.JobReceipt{
		Status:  protocol.ReceiptSuccess,
		Metrics: map[string]int64{"rows": 10},
	}); err != nil {
		t.Fatalf("write conclude: %v", err)
	}
	waitForJobStatus(t, ctx, s, job.ID, store.JobCompleted)
}

func waitForJobStatus(t *testing.T, ctx context.Context, s *store.Store, jobID uint64, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.GetJob(ctx, jobID)
		if err == nil && got.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %d did not reach status %s in time", jobID, want)
}

// TestCancelRunningJobWithExplicitWorkerIDSendsAbort covers spec §3.3's
// worker-chosen id: the IDENTIFY payload's WorkerID ("worker-1") differs
// from the TCP connection's transport identity, and Cancel must still
// locate the right connection to deliver ABORT (the worker_host column is
// stamped with transport identity, not worker_id).
func TestCancelRunningJobWithExplicitWorkerIDSendsAbort(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	srv := NewServer(d)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(ctx, conn)
		}
	}()
	go d.RunClaimLoop(ctx)

	job, err := s.EnqueueJob(ctx, store.EnqueueJobInput{
		FileID: "file-1", FilePath: "/data/a.csv", PluginName: "csv_v2",
		Entrypoint: "/bin/true", RuntimeKind: protocol.RuntimeNativeSubprocess, SourceHash: "hash",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	codec := protocol.NewCodec(0)
	if err := codec.WriteFrame(conn, protocol.OpIdentify, 0, protocol.IdentifyPayload{
		Capabilities: []string{"csv_v2"}, WorkerID: "worker-1",
	}); err != nil {
		t.Fatalf("write identify: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := codec.ReadFrame(conn); err != nil {
		t.Fatalf("expected DISPATCH frame: %v", err)
	}

	if err := codec.WriteFrame(conn, protocol.OpHeartbeat, job.ID, nil); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	waitForJobStatus(t, ctx, s, job.ID, store.JobRunning)

	if err := d.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	frame, err := codec.ReadFrame(conn)
	if err != nil {
		t.Fatalf("expected ABORT frame: %v", err)
	}
	if frame.Header.Opcode != protocol.OpAbort {
		t.Fatalf("expected ABORT, got %s", frame.Header.Opcode.Name())
	}
}

func TestCancelQueuedJobNeedsNoWorker(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()
	job, err := s.EnqueueJob(ctx, store.EnqueueJobInput{
		FileID: "f", FilePath: "/p", PluginName: "csv_v2", Entrypoint: "/bin/true",
		RuntimeKind: protocol.RuntimeNativeSubprocess, SourceHash: "h",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := d.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.JobAborted {
		t.Fatalf("expected ABORTED, got %s", got.Status)
	}
}
