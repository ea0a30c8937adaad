package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Samijain03/Collab-X/internal/auth"
	"github.com/Samijain03/Collab-X/internal/config"
	"github.com/Samijain03/Collab-X/internal/hub"
	"github.com/Samijain03/Collab-X/internal/logging"
	"github.com/Samijain03/Collab-X/internal/metrics"
	"github.com/Samijain03/Collab-X/internal/runner"
	"github.com/Samijain03/Collab-X/internal/store"
	"github.com/Samijain03/Collab-X/pkg/client"
)

func newServeCmd(a *app) *cobra.Command {
	var serveRunner bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workspace hub",
		Long: `Run the workspace hub: websocket channels at /ws/workspace/{key}/,
a health check at /health and Prometheus metrics on metrics_addr.

Code runs locally unless runner_url points at a remote runner, which is
called with the configured token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), a.cfg, serveRunner)
		},
	}
	cmd.Flags().BoolVar(&serveRunner, "serve-runner", false, "also serve POST /run for remote runner clients")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, serveRunner bool) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("Collab-X hub starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("database", cfg.DatabaseDriver))

	st, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	authn, err := auth.New(cfg.JWTSecret)
	if err != nil {
		return err
	}

	local := runner.NewLocal(cfg.RunnerTimeout)
	var run runner.Runner = local
	if cfg.RunnerURL != "" {
		run = client.NewRunnerClient(client.RunnerConfig{
			BaseURL:   cfg.RunnerURL,
			Timeout:   cfg.RunnerTimeout + 5*time.Second,
			AuthToken: cfg.Token,
		})
		logging.Info("Using remote runner", zap.String("url", cfg.RunnerURL))
	}

	h, err := hub.New(hub.Options{
		Store:      st,
		Runner:     run,
		Auth:       authn,
		RunTimeout: cfg.RunnerTimeout + 10*time.Second,
	})
	if err != nil {
		return err
	}
	defer h.Close()

	mux := http.NewServeMux()
	mux.Handle("/", h.Handler())
	if serveRunner {
		mux.Handle("/run", logging.Middleware(authn.Middleware(runner.Handler(local))))
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("Metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		logging.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Close()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	logging.Info("Hub listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
