// Package worker implements the Worker Runtime of spec §4.3: subprocess
// materialization of a dispatched plugin, enforcement of the Parser I/O
// Protocol (stderr NDJSON control frames, stdout columnar bytes), schema
// and source-hash verification, timeout enforcement, and JobReceipt
// construction. Grounded on the other_examples Dispatcher's spawnPlugin
// (subprocess spawn + SIGTERM/grace/SIGKILL timeout handling), generalized
// from a single stdin/stdout JSON-RPC exchange to the Parser I/O Protocol's
// streamed stdout/stderr contract.
package worker

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/casparianflow/sentinel/internal/classify"
	"github.com/casparianflow/sentinel/internal/hashutil"
	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/protocol"
	"github.com/casparianflow/sentinel/internal/sink"
)

// SinkOpener resolves a dispatched job's declared sink URIs into concrete
// sink.Sink instances. A real deployment wires this to the Arrow/Parquet/
// DuckDB writers named as external collaborators in spec §1; tests supply
// an in-memory opener.
type SinkOpener func(cfg protocol.SinkConfig) (sink.Sink, error)

// Runner executes one dispatched job end to end: source-hash verification,
// subprocess spawn, Parser I/O Protocol enforcement, and JobReceipt
// construction.
type Runner struct {
	log              *logger.Logger
	openSink         SinkOpener
	terminationGrace time.Duration
}

// NewRunner builds a Runner. terminationGrace is the SIGTERM-to-SIGKILL
// wait, mirroring the other_examples dispatcher's terminationGracePeriod.
func NewRunner(appLog *logger.Logger, openSink SinkOpener, terminationGrace time.Duration) *Runner {
	if terminationGrace <= 0 {
		terminationGrace = 5 * time.Second
	}
	return &Runner{
		log:              appLog.With("component", "Runner"),
		openSink:         openSink,
		terminationGrace: terminationGrace,
	}
}

// RunJob materializes and runs the subprocess described by dispatch,
// enforcing timeout and the Parser I/O Protocol, and returns the resulting
// JobReceipt. RunJob has no error return: job-level failures, including a
// process the OS refuses to start, are encoded in the Receipt per spec §4.3.
func (r *Runner) RunJob(ctx context.Context, dispatch protocol.DispatchCommand, sourceCode []byte, timeout time.Duration) protocol.JobReceipt {
	jobLog := r.log.With("plugin_name", dispatch.PluginName, "file_id", dispatch.FileID)

	if dispatch.ArtifactHash != "" {
		got := hashutil.Sum(sourceCode)
		if got != dispatch.ArtifactHash {
			jobLog.Error("source hash mismatch, refusing to spawn", "expected", dispatch.ArtifactHash, "got", got)
			return protocol.JobReceipt{
				Status:    protocol.ReceiptFailure,
				Error:     fmt.Sprintf("source hash mismatch: expected %s, got %s", dispatch.ArtifactHash, got),
				ErrorKind: string(classify.ReasonProtocolViolate),
			}
		}
	}

	cmd, stdin, stdout, stderr, err := buildCommand(dispatch)
	if err != nil {
		jobLog.Error("failed to prepare subprocess pipes", "error", err)
		return protocol.JobReceipt{Status: protocol.ReceiptFailure, Error: err.Error()}
	}

	if err := cmd.Start(); err != nil {
		jobLog.Error("failed to start subprocess", "error", err)
		return protocol.JobReceipt{Status: protocol.ReceiptFailure, Error: err.Error()}
	}
	jobLog.Info("subprocess started", "pid", cmd.Process.Pid, "runtime_kind", dispatch.RuntimeKind)

	if dispatch.RuntimeKind == protocol.RuntimeShimSubprocess {
		go func() {
			defer stdin.Close()
			_, _ = stdin.Write(sourceCode)
		}()
	} else {
		stdin.Close()
	}

	dmx := newDemux(jobLog, dispatch.SchemaHashes, r.openSink, dispatch.Sinks)
	demuxDone := make(chan struct{})
	go func() {
		defer close(demuxDone)
		dmx.run(stdout, stderr)
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		jobLog.Warn("job timed out, sending SIGTERM", "timeout", timeout)
		terminate(cmd, r.terminationGrace, waitErr, jobLog)
		<-demuxDone
		return protocol.JobReceipt{
			Status:    protocol.ReceiptFailure,
			Error:     fmt.Sprintf("subprocess exceeded timeout of %s", timeout),
			ErrorKind: string(classify.ReasonTimeout),
		}
	case exitErr := <-waitErr:
		<-demuxDone
		return dmx.buildReceipt(exitErr)
	case <-ctx.Done():
		terminate(cmd, r.terminationGrace, waitErr, jobLog)
		<-demuxDone
		return protocol.JobReceipt{Status: protocol.ReceiptAborted}
	}
}

// buildCommand materializes the subprocess per dispatch.RuntimeKind:
// both kinds exec Entrypoint with FilePath as its argument; shim_subprocess
// additionally has source code piped over stdin (spec §4.3).
func buildCommand(dispatch protocol.DispatchCommand) (cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.ReadCloser, err error) {
	// Both runtime kinds exec Entrypoint with FilePath as its argument; the
	// distinction is what gets written to stdin afterward (shim_subprocess
	// pipes source code, native_subprocess closes stdin immediately), which
	// RunJob decides once the process is started.
	cmd = exec.Command(dispatch.Entrypoint, dispatch.FilePath)

	stdin, err = cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("worker: create stdin pipe: %w", err)
	}
	stdout, err = cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("worker: create stdout pipe: %w", err)
	}
	stderr, err = cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("worker: create stderr pipe: %w", err)
	}
	return cmd, stdin, stdout, stderr, nil
}

// terminate sends SIGTERM then, after grace, SIGKILL, matching the
// other_examples dispatcher's timeout-enforcement branch.
func terminate(cmd *exec.Cmd, grace time.Duration, waitErr <-chan error, jobLog *logger.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			jobLog.Error("failed to send SIGTERM", "error", err)
		}
	}
	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()
	select {
	case <-waitErr:
	case <-graceTimer.C:
		jobLog.Warn("subprocess did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				jobLog.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}
