package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/monitoring"
	"github.com/sells-group/hydra/internal/quota"
	"github.com/sells-group/hydra/internal/resilience"
)

// statusSource is what the status endpoint reports on.
type statusSource struct {
	WorkerID string
	Hostname string
	Tracker  *quota.Tracker
	Breakers *resilience.Breakers
	Counters *monitoring.Counters
	Started  time.Time
}

type statusResponse struct {
	WorkerID string                      `json:"worker_id"`
	Hostname string                      `json:"hostname"`
	Uptime   string                      `json:"uptime"`
	Quota    []model.ProviderQuota       `json:"quota"`
	Breakers []resilience.BreakerStatus  `json:"breakers"`
	Counters map[monitoring.Metric]int64 `json:"counters"`
}

func newStatusRouter(src statusSource, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		resp := statusResponse{
			WorkerID: src.WorkerID,
			Hostname: src.Hostname,
			Quota:    src.Tracker.Snapshot(),
			Breakers: src.Breakers.Status(),
			Counters: src.Counters.Values(),
		}
		if !src.Started.IsZero() {
			resp.Uptime = time.Since(src.Started).Round(time.Second).String()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("status: encode response", zap.Error(err))
	}
}

// serveStatus runs the status server until ctx is cancelled.
func serveStatus(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting status server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "status server listen")
	}
	return nil
}
