package functions_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"faas-controller/internal/adapters/gorm"
	"faas-controller/internal/core/functions"
	"faas-controller/internal/telemetry"
	"faas-controller/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	store    *gorm.Store
	clusters *testutil.Clusters
	builder  *testutil.Builder
	mgr      *functions.Manager
}

func newEnv(t *testing.T, regions ...string) *env {
	t.Helper()
	metrics, err := telemetry.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	e := &env{
		store:    testutil.NewStore(t),
		clusters: testutil.NewClusters("us-east-1", regions...),
		builder:  &testutil.Builder{},
	}
	e.mgr = functions.NewManager(e.store, e.clusters, e.builder, metrics, zerolog.Nop())
	return e
}

func helloSpec() functions.FunctionSpec {
	return functions.FunctionSpec{
		Name:     "hello",
		Runtime:  "node18",
		MemoryMB: 256,
		Source:   []byte("exports.handler = async (e) => e"),
	}
}

func TestDeploy_Active(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	fn, err := e.mgr.Deploy(ctx, "acme", "", helloSpec())
	require.NoError(t, err)

	assert.Equal(t, functions.StatusActive, fn.Status)
	require.NotNil(t, fn.Endpoint)
	assert.Equal(t, "http://us-east-1.functions.test", *fn.Endpoint)
	assert.Equal(t, "us-east-1", fn.Region)
	assert.Equal(t, "acme-hello", fn.ObjectName)
	assert.Equal(t, "registry.test/functions/node18:1", fn.Image)
	assert.NotNil(t, fn.DeployedAt)

	orch := e.clusters.Regions["us-east-1"]
	require.Len(t, orch.Created, 1)
	assert.Equal(t, fn.Image, orch.Created[0].Image)

	got, err := e.mgr.Get(ctx, functions.Ref{Project: "acme", Name: "hello"})
	require.NoError(t, err)
	assert.Equal(t, fn.ID, got.ID)
}

func TestDeploy_PendingWhenNotReady(t *testing.T) {
	e := newEnv(t)
	e.clusters.Regions["us-east-1"].Endpoint = ""

	fn, err := e.mgr.Deploy(context.Background(), "acme", "", helloSpec())
	require.NoError(t, err)

	assert.Equal(t, functions.StatusPending, fn.Status)
	assert.Nil(t, fn.Endpoint)
	assert.False(t, fn.Ready())
}

func TestDeploy_Conflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.mgr.Deploy(ctx, "acme", "", helloSpec())
	require.NoError(t, err)

	_, err = e.mgr.Deploy(ctx, "acme", "", helloSpec())
	assert.ErrorIs(t, err, functions.ErrConflict)
	assert.Equal(t, 1, e.builder.Calls())
}

func TestDeploy_ConcurrentSameKey(t *testing.T) {
	e := newEnv(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.mgr.Deploy(context.Background(), "acme", "", helloSpec())
		}()
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, functions.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, conflicts)
	assert.Equal(t, 1, e.builder.Calls())

	list, err := e.mgr.List(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeploy_ValidationFailsBeforeIO(t *testing.T) {
	e := newEnv(t)
	spec := helloSpec()
	spec.Runtime = "perl5"

	_, err := e.mgr.Deploy(context.Background(), "acme", "", spec)
	assert.ErrorIs(t, err, functions.ErrValidation)
	assert.Zero(t, e.builder.Calls())
	created, _ := e.clusters.Regions["us-east-1"].Calls()
	assert.Zero(t, created)
}

func TestDeploy_UnknownRegion(t *testing.T) {
	e := newEnv(t)

	_, err := e.mgr.Deploy(context.Background(), "acme", "mars-1", helloSpec())
	assert.ErrorIs(t, err, functions.ErrValidation)
	assert.Zero(t, e.builder.Calls())
}

func TestDeploy_BuildFailure(t *testing.T) {
	e := newEnv(t)
	e.builder.Err = errors.New("registry unavailable")

	_, err := e.mgr.Deploy(context.Background(), "acme", "", helloSpec())
	assert.ErrorIs(t, err, functions.ErrBuild)

	created, _ := e.clusters.Regions["us-east-1"].Calls()
	assert.Zero(t, created)
	_, err = e.mgr.Get(context.Background(), functions.Ref{Project: "acme", Name: "hello"})
	assert.ErrorIs(t, err, functions.ErrNotFound)
}

func TestDeploy_SubmitFailure(t *testing.T) {
	e := newEnv(t)
	e.clusters.Regions["us-east-1"].CreateErr = errors.New("admission webhook denied")

	_, err := e.mgr.Deploy(context.Background(), "acme", "", helloSpec())
	require.Error(t, err)

	_, err = e.mgr.Get(context.Background(), functions.Ref{Project: "acme", Name: "hello"})
	assert.ErrorIs(t, err, functions.ErrNotFound)
}

func TestConfigure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.mgr.Deploy(ctx, "acme", "", helloSpec())
	require.NoError(t, err)

	cfg := functions.AutoscalingConfig{MinReplicas: 1, MaxReplicas: 20, TargetConcurrency: 10, TargetRPS: 200}
	fn, err := e.mgr.Configure(ctx, functions.Ref{Project: "acme", Name: "hello"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg, fn.Autoscaling)
	assert.Equal(t, cfg, e.clusters.Regions["us-east-1"].Patched["acme-hello"])

	stored, err := e.mgr.Get(ctx, functions.Ref{Project: "acme", Name: "hello"})
	require.NoError(t, err)
	assert.Equal(t, cfg, stored.Autoscaling)
	created, _ := e.clusters.Regions["us-east-1"].Calls()
	assert.Equal(t, 1, created)
}

func TestConfigure_Invalid(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.mgr.Deploy(ctx, "acme", "", helloSpec())
	require.NoError(t, err)

	_, err = e.mgr.Configure(ctx, functions.Ref{Project: "acme", Name: "hello"},
		functions.AutoscalingConfig{MinReplicas: 5, MaxReplicas: 2, TargetConcurrency: 1, TargetRPS: 1})
	assert.ErrorIs(t, err, functions.ErrValidation)
	assert.Empty(t, e.clusters.Regions["us-east-1"].Patched)
}

func TestConfigure_NotFound(t *testing.T) {
	e := newEnv(t)
	_, err := e.mgr.Configure(context.Background(), functions.Ref{Project: "acme", Name: "ghost"},
		functions.AutoscalingConfig{MaxReplicas: 2, TargetConcurrency: 1, TargetRPS: 1})
	assert.ErrorIs(t, err, functions.ErrNotFound)
}

func TestDelete_ThenRedeploy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ref := functions.Ref{Project: "acme", Name: "hello"}

	first, err := e.mgr.Deploy(ctx, "acme", "", helloSpec())
	require.NoError(t, err)
	require.NoError(t, e.mgr.Delete(ctx, ref))

	_, deleted := e.clusters.Regions["us-east-1"].Calls()
	assert.Equal(t, 1, deleted)
	_, err = e.mgr.Get(ctx, ref)
	assert.ErrorIs(t, err, functions.ErrNotFound)
	assert.ErrorIs(t, e.mgr.Delete(ctx, ref), functions.ErrNotFound)

	second, err := e.mgr.Deploy(ctx, "acme", "", helloSpec())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	history, err := e.store.FunctionHistory(ctx, "acme", "hello")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestReconcile_PromotesReadyFunctions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	orch := e.clusters.Regions["us-east-1"]
	orch.Endpoint = ""

	fn, err := e.mgr.Deploy(ctx, "acme", "", helloSpec())
	require.NoError(t, err)
	require.Equal(t, functions.StatusPending, fn.Status)

	n, err := e.mgr.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	orch.SetReady(fn.ObjectName, "http://acme-hello.functions.test")
	n, err = e.mgr.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.mgr.Get(ctx, functions.Ref{Project: "acme", Name: "hello"})
	require.NoError(t, err)
	assert.Equal(t, functions.StatusActive, got.Status)
	require.NotNil(t, got.Endpoint)
	assert.Equal(t, "http://acme-hello.functions.test", *got.Endpoint)

	n, err = e.mgr.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
