package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "faas-controller/docs"
	"faas-controller/internal/config"
	"faas-controller/internal/core/billing"
	"faas-controller/internal/core/functions"
	"faas-controller/internal/core/invocation"
	api "faas-controller/internal/delivery/http"
	"faas-controller/internal/telemetry"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the pending-function reconciler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), config.MustLoad(), log)
		},
	}
}

func serve(parent context.Context, cfg config.Config, log zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("deployment_env", string(cfg.DeploymentEnv)).
		Strs("regions", cfg.RegionNames()).
		Str("default_region", cfg.DefaultRegion).
		Msg("bootstrapping service")

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	tp, err := telemetry.NewTracerProvider(ctx, cfg.OTLPEndpoint, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()

	coordinator := functions.NewCoordinator(a.mgr, a.store, cfg.RegionWorkers, cfg.GlobalDomain, log)
	recorder := invocation.NewRecorder(a.store, a.metrics, cfg.MetricsQueueSize, log)
	proxy := invocation.NewProxy(a.store, recorder, tp, a.mgr.DefaultRegion(), log)
	engine := billing.NewEngine(a.store, billing.Pricing{
		CostPerInvocation: cfg.CostPerInvocation,
		CostPerGBSecond:   cfg.CostPerGBSecond,
	}, log)

	recCtx, stopRecorder := context.WithCancel(context.Background())
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		recorder.Run(recCtx)
	}()

	go a.mgr.RunReconciler(ctx, cfg.ReconcileInterval)

	handler := api.NewHandler(api.Deps{
		Functions:   a.mgr,
		MultiRegion: coordinator,
		Invoker:     proxy,
		Metrics:     engine,
		Gatherer:    a.registry,
		Health:      a.health,
	}, log)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.ListenAddr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("http server failed")
		stop()
	}

	log.Info().Msg("shutting down server...")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	stopRecorder()
	<-recDone

	log.Info().Msg("shutdown complete")
	return nil
}
