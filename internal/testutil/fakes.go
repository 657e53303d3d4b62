// Package testutil holds in-memory collaborators shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"faas-controller/internal/adapters/gorm"
	"faas-controller/internal/core/functions"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// Orchestrator records every call and reports Endpoint for created workloads.
type Orchestrator struct {
	mu sync.Mutex

	// Endpoint is returned by Create. Empty simulates a workload that never became ready.
	Endpoint  string
	CreateErr error
	// Ready overrides the endpoint Status reports per workload name.
	Ready map[string]string

	Created []*functions.Manifest
	Patched map[string]functions.AutoscalingConfig
	Deleted []string
}

func NewOrchestrator(endpoint string) *Orchestrator {
	return &Orchestrator{
		Endpoint: endpoint,
		Ready:    map[string]string{},
		Patched:  map[string]functions.AutoscalingConfig{},
	}
}

func (o *Orchestrator) Create(_ context.Context, m *functions.Manifest) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.CreateErr != nil {
		return "", o.CreateErr
	}
	o.Created = append(o.Created, m)
	return o.Endpoint, nil
}

func (o *Orchestrator) Status(_ context.Context, name string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Ready[name], nil
}

func (o *Orchestrator) Patch(_ context.Context, name string, cfg functions.AutoscalingConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Patched[name] = cfg
	return nil
}

func (o *Orchestrator) Delete(_ context.Context, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Deleted = append(o.Deleted, name)
	return nil
}

// SetReady makes Status report endpoint for the named workload.
func (o *Orchestrator) SetReady(name, endpoint string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Ready[name] = endpoint
}

func (o *Orchestrator) Calls() (created, deleted int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Created), len(o.Deleted)
}

// Clusters maps region names to fake orchestrators.
type Clusters struct {
	Default string
	Regions map[string]*Orchestrator
}

func NewClusters(defaultRegion string, regions ...string) *Clusters {
	c := &Clusters{Default: defaultRegion, Regions: map[string]*Orchestrator{}}
	for _, r := range append([]string{defaultRegion}, regions...) {
		c.Regions[r] = NewOrchestrator("http://" + r + ".functions.test")
	}
	return c
}

func (c *Clusters) Orchestrator(region string) (functions.Orchestrator, error) {
	o, ok := c.Regions[region]
	if !ok {
		return nil, fmt.Errorf("%w: unknown region %q", functions.ErrValidation, region)
	}
	return o, nil
}

func (c *Clusters) DefaultRegion() string { return c.Default }

// Builder hands out deterministic image references and counts builds.
type Builder struct {
	Err   error
	calls atomic.Int64
}

func (b *Builder) Build(_ context.Context, runtime string, _ []byte) (string, error) {
	n := b.calls.Add(1)
	if b.Err != nil {
		return "", b.Err
	}
	return fmt.Sprintf("registry.test/functions/%s:%d", runtime, n), nil
}

func (b *Builder) Calls() int { return int(b.calls.Load()) }

// NewStore opens a private in-memory SQLite registry that is closed with the test.
func NewStore(t testing.TB) *gorm.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := gorm.New(gorm.DriverSQLite, dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
