// Command worker runs a Casparian Flow worker: it connects to a Sentinel,
// identifies its capabilities, and executes dispatched parser subprocesses
// one at a time per spec §4.3.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/casparianflow/sentinel/internal/config"
	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/protocol"
	"github.com/casparianflow/sentinel/internal/sink"
	"github.com/casparianflow/sentinel/internal/worker"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	log, err := logger.New(os.Getenv("CASPARIAN_LOG_MODE"))
	if err != nil {
		return err
	}
	defer log.Sync()

	if _, err := config.EnsureHome(); err != nil {
		log.Error("failed to create CASPARIAN_HOME", "error", err)
		return err
	}

	cfg := config.LoadWorkerConfig(log)
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.NewString()
	}

	runner := worker.NewRunner(log, openSinkForURI, cfg.TerminationGrace)
	runtime := worker.NewRuntime(cfg, log, runner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "worker_id", cfg.WorkerID, "sentinel_addr", cfg.SentinelAddr)

	err = runtime.Run(ctx)
	if err != nil && ctx.Err() == nil {
		log.Error("worker exited with error", "error", err)
		return err
	}
	log.Info("worker shut down cleanly")
	return nil
}

// openSinkForURI resolves a dispatched job's SinkConfig.URI into a concrete
// sink.Sink. Only the "file://" scheme (and bare paths, treated the same
// way) are supported today, backed by internal/sink.LocalFileSink;
// production deployments wire Arrow/Parquet/DuckDB writers behind this same
// seam instead, per spec §1's "sink writers are an external collaborator".
func openSinkForURI(cfg protocol.SinkConfig) (sink.Sink, error) {
	dir := cfg.URI
	if strings.HasPrefix(dir, "file://") {
		dir = strings.TrimPrefix(dir, "file://")
	} else if idx := strings.Index(dir, "://"); idx >= 0 {
		return nil, fmt.Errorf("openSinkForURI: unsupported sink scheme in %q", cfg.URI)
	}
	if dir == "" {
		dir = filepath.Join(config.Home(), "sinks", cfg.OutputName)
	}
	return sink.NewLocalFileSink(dir)
}
