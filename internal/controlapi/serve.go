package controlapi

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// ListenAndServe runs router on addr (a "tcp://host:port" URL, matching
// internal/sentinel.Server.ListenAndServe's bind address convention) until
// ctx is cancelled, then drains in-flight requests before returning.
func ListenAndServe(ctx context.Context, router http.Handler, addr string) error {
	srv := &http.Server{
		Addr:    stripScheme(addr),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func stripScheme(addr string) string {
	if i := strings.Index(addr, "://"); i >= 0 {
		return addr[i+3:]
	}
	return addr
}
