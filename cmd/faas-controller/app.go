package main

import (
	"context"
	"fmt"

	"faas-controller/internal/adapters/docker"
	"faas-controller/internal/adapters/gorm"
	"faas-controller/internal/adapters/kubernetes"
	"faas-controller/internal/config"
	"faas-controller/internal/core/functions"
	"faas-controller/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// app is the wired set of components shared by the subcommands.
type app struct {
	cfg      config.Config
	store    *gorm.Store
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	docker   *docker.Client
	mgr      *functions.Manager
}

func newApp(cfg config.Config, log zerolog.Logger) (*app, error) {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	store, err := gorm.New(cfg.DatabaseDriver, cfg.DatabaseDSN, log)
	if err != nil {
		return nil, fmt.Errorf("gorm connect: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	dcli, err := docker.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("docker client init: %w", err)
	}

	var clusters functions.Clusters
	switch cfg.DeploymentEnv {
	case config.EnvDocker:
		clusters = functions.SingleCluster{Region: cfg.DefaultRegion, Orch: dcli}
	default:
		set, err := kubernetes.NewClusterSet(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("kubernetes client init: %w", err)
		}
		clusters = set
	}

	return &app{
		cfg:      cfg,
		store:    store,
		registry: registry,
		metrics:  metrics,
		docker:   dcli,
		mgr:      functions.NewManager(store, clusters, dcli, metrics, log),
	}, nil
}

func (a *app) Close() {
	_ = a.docker.Close()
	_ = a.store.Close()
}

func (a *app) health(ctx context.Context) error {
	return a.store.Ping(ctx)
}
