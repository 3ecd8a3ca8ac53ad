package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/avencia/graphrun/internal/adapters/crew"
	"github.com/avencia/graphrun/internal/adapters/knowledge"
	"github.com/avencia/graphrun/internal/adapters/llm"
	redisbroker "github.com/avencia/graphrun/internal/adapters/redis"
	"github.com/avencia/graphrun/internal/adapters/sandbox"
	"github.com/avencia/graphrun/internal/adapters/sqlite"
	"github.com/avencia/graphrun/internal/config"
	"github.com/avencia/graphrun/internal/logging"
	"github.com/avencia/graphrun/internal/metrics"
	"github.com/avencia/graphrun/internal/monitor"
	"github.com/avencia/graphrun/internal/runner"
	"github.com/avencia/graphrun/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the graph orchestration daemon",
	Long: `Starts the daemon: subscribes to the session intake channel, executes
accepted graphs, persists sessions and messages, monitors time-to-live
and exposes health and metrics endpoints over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		logger := logging.New(cfg.Log.Level, cfg.Log.JSON)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer store.Close()

		broker := redisbroker.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redisbroker.WithLogger(logger))
		defer broker.Close()
		if err := broker.Ping(ctx); err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		mx := metrics.New(reg)

		sandboxClient := sandbox.NewClient(cfg.Sandbox.URL, sandbox.WithLogger(logger))
		crewClient := crew.NewClient(cfg.Crew.URL, crew.WithLogger(logger))
		llmClient := llm.NewClient(llm.Config{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.DefaultModel,
		}, llm.WithLogger(logger))

		runOpts := []runner.Option{
			runner.WithLogger(logger),
			runner.WithSessionStore(store),
			runner.WithMetrics(mx),
		}
		if cfg.Knowledge.URL != "" {
			runOpts = append(runOpts, runner.WithKnowledge(
				knowledge.NewClient(cfg.Knowledge.URL, knowledge.WithLogger(logger))))
		}

		// Expressions are untrusted input; they run in the sandbox alongside
		// node code.
		run := runner.New(broker, sandboxClient, sandbox.NewRemoteEvaluator(sandboxClient),
			crewClient, llmClient, runOpts...)

		mon := monitor.New(store, broker,
			monitor.WithLogger(logger),
			monitor.WithGrace(cfg.Monitor.Grace),
			monitor.WithBuffer(cfg.Monitor.Buffer),
			monitor.WithMetrics(mx),
		)

		svc := service.New(broker, store, store, run,
			service.WithLogger(logger),
			service.WithMonitor(mon),
			service.WithMetrics(mx),
		)
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}

		router := chi.NewRouter()
		router.Use(middleware.Recoverer)
		router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := broker.Ping(r.Context()); err != nil {
				http.Error(w, "broker unreachable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		srv := &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: router,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("http listener started", "addr", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		logger.Info("graphrund started",
			"redis", cfg.Redis.Addr,
			"sqlite", cfg.SQLite.Path,
			"sandbox", cfg.Sandbox.URL,
			"crew", cfg.Crew.URL,
		)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("http server failed: %w", err)
		case <-ctx.Done():
			logger.Info("shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown incomplete", "err", err)
			srv.Close()
		}

		// Subscribers stop on ctx cancellation; wait for in-flight sessions.
		svc.Wait()
		logger.Info("graphrund stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
