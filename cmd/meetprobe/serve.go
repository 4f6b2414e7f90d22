package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/meetprobe/pkg/logging"
	"github.com/odvcencio/meetprobe/pkg/session"
)

// runStatus is what the health endpoint reports on.
type runStatus interface {
	RunID() string
	State() session.State
	Disposition() session.Disposition
}

type healthResponse struct {
	State       string `json:"state"`
	Disposition string `json:"disposition"`
	RunID       string `json:"run_id"`
}

func newRouter(status runStatus) http.Handler {
	router := chi.NewRouter()
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Get("/healthz", handleHealthz(status))
	return router
}

// handleHealthz answers 200 while the run is in progress or healthy and 503
// once it has failed.
func handleHealthz(status runStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disposition := status.Disposition()
		resp := healthResponse{
			State:       status.State().String(),
			Disposition: string(disposition),
			RunID:       status.RunID(),
		}
		if disposition == session.DispositionPending {
			resp.Disposition = "pending"
		}

		code := http.StatusOK
		if disposition.Failed() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// serveHTTP serves handler on ln until ctx is done.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, logger *logging.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
