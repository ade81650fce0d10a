package worker

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/casparianflow/sentinel/internal/config"
	"github.com/casparianflow/sentinel/internal/hashutil"
	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/protocol"
)

// outboundFrame is a queued write for the Runtime's dedicated writer
// goroutine, keeping the one socket to the Sentinel single-threaded per
// connection (same split as internal/sentinel's transport).
type outboundFrame struct {
	opcode  protocol.Opcode
	jobID   uint64
	payload any
}

// Runtime is the Worker side of the Wire Protocol connection: it performs
// the IDENTIFY handshake, runs a heartbeat ticker, and dispatches
// DISPATCH/ABORT/RELOAD/PREPARE_ENV frames from the Sentinel. The Sentinel
// dispatches at most one job at a time per spec §4.3; a DISPATCH that
// arrives while a job is running is still run (see handleDispatch).
type Runtime struct {
	cfg    config.WorkerConfig
	log    *logger.Logger
	runner *Runner
	codec  *protocol.Codec

	mu          sync.Mutex
	currentJob  uint64
	cancelJob   context.CancelFunc
}

// NewRuntime builds a Runtime ready to connect to cfg.SentinelAddr.
func NewRuntime(cfg config.WorkerConfig, appLog *logger.Logger, runner *Runner) *Runtime {
	return &Runtime{
		cfg:    cfg,
		log:    appLog.With("component", "Runtime", "worker_id", cfg.WorkerID),
		runner: runner,
		codec:  protocol.NewCodec(cfg.MaxFrameBytes),
	}
}

// Run connects to the Sentinel and serves frames until ctx is cancelled,
// reconnecting on disconnect with a backoff that starts at 1s and doubles up
// to 30s. It returns only when ctx is done.
func (rt *Runtime) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := rt.serveOnce(ctx); err != nil {
			rt.log.Warn("sentinel connection ended, reconnecting", "error", err, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (rt *Runtime) serveOnce(ctx context.Context) error {
	_, addr := splitDialAddr(rt.cfg.SentinelAddr)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := make(chan outboundFrame, 16)
	go rt.writePump(connCtx, conn, send)

	if err := rt.codec.WriteFrame(conn, protocol.OpIdentify, 0, protocol.IdentifyPayload{
		Capabilities: rt.cfg.Capabilities,
		WorkerID:     rt.cfg.WorkerID,
	}); err != nil {
		return err
	}
	rt.log.Info("identified to sentinel", "capabilities", rt.cfg.Capabilities)

	go rt.heartbeatLoop(connCtx, send)

	for {
		frame, err := rt.codec.ReadFrame(conn)
		if err != nil {
			return err
		}
		switch frame.Header.Opcode {
		case protocol.OpDispatch:
			go rt.handleDispatch(connCtx, frame, send)
		case protocol.OpAbort:
			rt.handleAbort(frame)
		case protocol.OpPrepareEnv:
			rt.handlePrepareEnv(frame, send)
		case protocol.OpReload:
			rt.log.Info("received RELOAD, exiting connection for supervisor restart")
			return errors.New("reload requested")
		default:
			rt.log.Warn("unexpected opcode from sentinel", "opcode", frame.Header.Opcode.Name())
		}
	}
}

func (rt *Runtime) heartbeatLoop(ctx context.Context, send chan<- outboundFrame) {
	period := rt.cfg.HeartbeatPeriod
	if period <= 0 {
		period = config.DefaultHeartbeat
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.mu.Lock()
			jobID := rt.currentJob
			rt.mu.Unlock()
			select {
			case send <- outboundFrame{opcode: protocol.OpHeartbeat, jobID: jobID}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleDispatch runs one job to completion and reports a CONCLUDE frame.
// Per spec §4.3 the Sentinel will not dispatch a second job while this
// worker is BUSY, so only one of these should be in flight at a time; a
// concurrent DISPATCH is logged and the new job is run anyway rather than
// silently dropped, since refusing it would strand the Sentinel's claim.
func (rt *Runtime) handleDispatch(ctx context.Context, frame protocol.Frame, send chan<- outboundFrame) {
	cmd, err := protocol.DecodePayload[protocol.DispatchCommand](frame)
	if err != nil {
		rt.log.Error("malformed DISPATCH payload", "error", err)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	if rt.currentJob != 0 {
		rt.log.Warn("received DISPATCH while already running a job", "running_job_id", rt.currentJob, "new_job_id", frame.Header.JobID)
	}
	rt.currentJob = frame.Header.JobID
	rt.cancelJob = cancel
	rt.mu.Unlock()

	defer func() {
		rt.mu.Lock()
		rt.currentJob = 0
		rt.cancelJob = nil
		rt.mu.Unlock()
		cancel()
	}()

	timeout := rt.cfg.JobTimeout
	if timeout <= 0 {
		timeout = config.DefaultJobTimeout
	}
	receipt := rt.runner.RunJob(jobCtx, cmd, []byte(cmd.SourceCode), timeout)

	select {
	case send <- outboundFrame{opcode: protocol.OpConclude, jobID: frame.Header.JobID, payload: receipt}:
	case <-ctx.Done():
	}
}

func (rt *Runtime) handleAbort(frame protocol.Frame) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.currentJob != frame.Header.JobID || rt.cancelJob == nil {
		return
	}
	rt.log.Info("received ABORT for running job", "job_id", frame.Header.JobID)
	rt.cancelJob()
}

func (rt *Runtime) handlePrepareEnv(frame protocol.Frame, send chan<- outboundFrame) {
	req, err := protocol.DecodePayload[protocol.PrepareEnvPayload](frame)
	if err != nil {
		rt.log.Error("malformed PREPARE_ENV payload", "error", err)
		return
	}
	envHash := hashutil.SumParts([]byte(req.PluginName), []byte(req.Version), []byte(req.Lockfile))
	rt.log.Info("environment prepared", "plugin_name", req.PluginName, "version", req.Version, "env_hash", envHash)
	select {
	case send <- outboundFrame{opcode: protocol.OpEnvReady, jobID: 0, payload: protocol.EnvReadyPayload{EnvHash: envHash}}:
	default:
	}
}

func (rt *Runtime) writePump(ctx context.Context, conn net.Conn, send <-chan outboundFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-send:
			if !ok {
				return
			}
			if err := rt.codec.WriteFrame(conn, f.opcode, f.jobID, f.payload); err != nil {
				rt.log.Warn("write frame failed", "opcode", f.opcode.Name(), "error", err)
				return
			}
		}
	}
}

func splitDialAddr(addr string) (network, laddr string) {
	if i := strings.Index(addr, "://"); i >= 0 {
		return "tcp", addr[i+3:]
	}
	return "tcp", addr
}
