// Command sentinel runs the Casparian Flow control plane: the State Store,
// the claim-and-dispatch loop, the wire-protocol transport that workers
// connect to, and the HTTP Control API that front-ends and operators use.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/casparianflow/sentinel/internal/approval"
	"github.com/casparianflow/sentinel/internal/config"
	"github.com/casparianflow/sentinel/internal/controlapi"
	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/sentinel"
	"github.com/casparianflow/sentinel/internal/session"
	"github.com/casparianflow/sentinel/internal/store"
	"github.com/casparianflow/sentinel/internal/telemetry"
)

const expirySweepInterval = 30 * time.Second

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

	cfg := config.LoadSentinelConfig(log)

	st, err := store.Open(cfg.StateStoreURL, log)
	if err != nil {
		log.Error("failed to open state store", "url", cfg.StateStoreURL, "error", err)
		return err
	}
	defer st.Close()
	if err := st.AutoMigrate(); err != nil {
		log.Error("failed to migrate state store", "error", err)
		return err
	}

	sessions := session.New(st)

	tp, err := telemetry.NewTracerProvider("casparian-sentinel")
	if err != nil {
		log.Error("failed to start tracer provider", "error", err)
		return err
	}

	dispatcher := sentinel.New(st, cfg, log)
	approvals := approval.New(st, dispatcher, log)
	transport := sentinel.NewServer(dispatcher)
	router := controlapi.NewRouter(controlapi.RouterConfig{
		Store:     st,
		Approvals: approvals,
		Sessions:  sessions,
		Canceler:  dispatcher,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return transport.ListenAndServe(gctx, cfg.BindAddr)
	})
	group.Go(func() error {
		dispatcher.RunClaimLoop(gctx)
		return nil
	})
	group.Go(func() error {
		dispatcher.RunStaleSweep(gctx)
		return nil
	})
	group.Go(func() error {
		approvals.RunExpirySweep(gctx, expirySweepInterval)
		return nil
	})
	group.Go(func() error {
		return controlapi.ListenAndServe(gctx, router, cfg.ControlAddr)
	})

	log.Info("sentinel started",
		"bind_addr", cfg.BindAddr,
		"control_addr", cfg.ControlAddr,
		"state_store", cfg.StateStoreURL,
	)

	err = group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := telemetry.Shutdown(shutdownCtx, tp); serr != nil {
		log.Warn("tracer shutdown failed", "error", serr)
	}

	if err != nil && ctx.Err() == nil {
		log.Error("sentinel exited with error", "error", err)
		return err
	}
	log.Info("sentinel shut down cleanly")
	return nil
}
