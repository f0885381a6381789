package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/freshness"
	"github.com/parentmap/venue-pipeline/internal/monitoring"
	"github.com/parentmap/venue-pipeline/internal/resilience"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled freshness checks and serve health and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store)
		checker := monitoring.NewChecker(func(ctx context.Context) (freshness.Stats, error) {
			if err := env.StartRun(uuid.NewString()); err != nil {
				return freshness.Stats{}, err
			}
			return env.Checker.Run(ctx, false)
		}, collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(checker, collector, env.Breakers),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status   string              `json:"status"`
	LastRun  *monitoring.LastRun `json:"last_run,omitempty"`
	Breakers map[string]string   `json:"breakers,omitempty"`
}

// newRouter mounts the health, status and metrics routes. collector and
// breakers may be nil.
func newRouter(checker *monitoring.Checker, collector *monitoring.Collector, breakers *resilience.ServiceBreakers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok", LastRun: checker.Last()}
		if resp.LastRun != nil && resp.LastRun.Error != "" {
			resp.Status = "degraded"
		}
		if breakers != nil {
			resp.Breakers = map[string]string{}
			for name, state := range breakers.States() {
				resp.Breakers[name] = state.String()
				if state == resilience.CircuitOpen {
					resp.Status = "degraded"
				}
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		if collector == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no store configured"})
			return
		}
		snap, err := collector.Collect(req.Context())
		if err != nil {
			zap.L().Error("status: collect failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "collect failed"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
