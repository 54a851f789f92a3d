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
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/model"
	"github.com/sells-group/intel-engine/internal/monitoring"
	"github.com/sells-group/intel-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline control server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, env.Limiter, env.Breakers, env.Temperatures.Cache(), env.Costs)

		// Background health checks and alerting.
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), env.Registry, cfg.Monitoring)
		go checker.Run(ctx)

		router := newRouter(ctx, env, collector, cfg.Server.CORSOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
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

// newRouter builds the control-surface routes. Pipelines started through the
// API run on baseCtx so they survive their originating request.
func newRouter(baseCtx context.Context, env *engineEnv, collector *monitoring.Collector, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/v1/metrics", func(w http.ResponseWriter, req *http.Request) {
		snap, err := collector.Collect(req.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "metrics collection failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/v1/pipelines", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Subject      string    `json:"subject"`
			Category     string    `json:"category"`
			Query        string    `json:"query"`
			Temperatures []float64 `json:"temperatures"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Subject == "" {
			writeJSONError(w, http.StatusBadRequest, "subject is required")
			return
		}

		pc := model.NewPipelineContext(body.Subject, body.Category, body.Query)
		pc.Temperatures = body.Temperatures
		go executePipeline(baseCtx, env, pc)

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "accepted",
			"process_id": pc.ProcessID,
		})
	})

	r.Get("/v1/pipelines", func(w http.ResponseWriter, req *http.Request) {
		filter := store.RunFilter{
			Status:  store.RunStatus(req.URL.Query().Get("status")),
			Subject: req.URL.Query().Get("subject"),
			Limit:   50,
		}
		runs, err := env.Store.ListRuns(req.Context(), filter)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	})

	r.Get("/v1/pipelines/{processID}", func(w http.ResponseWriter, req *http.Request) {
		processID := chi.URLParam(req, "processID")

		// Live executions first, then the persisted record.
		if status, ok := env.Orchestrator.Status(processID); ok {
			writeJSON(w, http.StatusOK, status)
			return
		}
		run, err := env.Store.GetRun(req.Context(), processID)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "pipeline not found")
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	r.Get("/v1/deadletters", func(w http.ResponseWriter, req *http.Request) {
		entries, err := env.Store.ListDeadLetters(req.Context(), 100)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "list dead letters failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"dead_letters": entries})
	})

	r.Post("/v1/deadletters/{processID}/retry", func(w http.ResponseWriter, req *http.Request) {
		processID := chi.URLParam(req, "processID")

		entry, ok := env.Orchestrator.RetryDeadLetter(processID)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "dead letter not found")
			return
		}

		pc := model.NewPipelineContext(entry.Subject, entry.Category, "")
		pc.ProcessID = entry.ProcessID
		go executePipeline(baseCtx, env, pc)

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "retrying",
			"process_id": entry.ProcessID,
		})
	})

	return r
}

// executePipeline runs one pipeline to completion and delivers its summary.
// Failures are logged; dead-lettering already happened inside the
// orchestrator.
func executePipeline(ctx context.Context, env *engineEnv, pc *model.PipelineContext) {
	log := zap.L().With(
		zap.String("process_id", pc.ProcessID),
		zap.String("subject", pc.Subject),
	)

	summary, err := env.Orchestrator.Execute(ctx, pc)
	if err != nil {
		log.Error("pipeline failed", zap.Error(err))
		return
	}

	log.Info("pipeline complete",
		zap.Int("stages_completed", summary.StagesCompleted),
		zap.Float64("total_cost", summary.TotalCost),
	)

	if env.Deliverer != nil {
		if err := env.Deliverer.Deliver(ctx, summary); err != nil {
			log.Error("delivery failed", zap.Error(err))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
