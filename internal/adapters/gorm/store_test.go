package gorm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"faas-controller/internal/core/functions"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(name, region string, status functions.Status) *functions.Function {
	return &functions.Function{
		ID:         uuid.NewString(),
		Project:    "acme",
		Name:       name,
		Region:     region,
		Runtime:    "node18",
		ObjectName: "acme-" + name,
		MemoryMB:   256,
		Autoscaling: functions.AutoscalingConfig{
			MaxReplicas: 1000, TargetConcurrency: 100, TargetRPS: 100,
		},
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New("oracle", "", zerolog.Nop())
	assert.Error(t, err)
}

func TestStore_FunctionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	fn := record("hello", "us-east-1", functions.StatusPending)
	require.NoError(t, s.CreateFunction(ctx, fn))

	got, err := s.GetFunction(ctx, "acme", "hello", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, fn.ID, got.ID)
	assert.Equal(t, 100, got.Autoscaling.TargetConcurrency)
	assert.Nil(t, got.Endpoint)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	endpoint := "http://acme-hello.example"
	got.Status = functions.StatusActive
	got.Endpoint = &endpoint
	require.NoError(t, s.UpdateFunction(ctx, got))

	got, err = s.GetFunction(ctx, "acme", "hello", "us-east-1")
	require.NoError(t, err)
	require.NotNil(t, got.Endpoint)
	assert.Equal(t, endpoint, *got.Endpoint)

	_, err = s.GetFunction(ctx, "acme", "hello", "eu-west-1")
	assert.ErrorIs(t, err, functions.ErrNotFound)
}

func TestStore_UniqueAmongLiveRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := record("hello", "us-east-1", functions.StatusActive)
	require.NoError(t, s.CreateFunction(ctx, first))

	err := s.CreateFunction(ctx, record("hello", "us-east-1", functions.StatusPending))
	assert.ErrorIs(t, err, functions.ErrConflict)

	require.NoError(t, s.CreateFunction(ctx, record("hello", "eu-west-1", functions.StatusPending)))

	first.Status = functions.StatusDeleted
	first.Endpoint = nil
	require.NoError(t, s.UpdateFunction(ctx, first))
	require.NoError(t, s.CreateFunction(ctx, record("hello", "us-east-1", functions.StatusActive)))

	live, err := s.ListFunctions(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, live, 2)

	history, err := s.FunctionHistory(ctx, "acme", "hello")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestStore_Deployments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &functions.Deployment{
		ID: uuid.NewString(), Project: "acme", FunctionName: "hello",
		Regions:   []functions.RegionOutcome{{Region: "us-east-1", Status: functions.OutcomeSuccess, FunctionID: "f1"}},
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	newer := &functions.Deployment{
		ID: uuid.NewString(), Project: "acme", FunctionName: "hello",
		Regions: []functions.RegionOutcome{
			{Region: "us-east-1", Status: functions.OutcomeSuccess},
			{Region: "mars-1", Status: functions.OutcomeFailed, Error: "unknown region"},
		},
		GlobalEndpoint: "https://hello.acme.example.com",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.CreateDeployment(ctx, older))
	require.NoError(t, s.CreateDeployment(ctx, newer))

	list, err := s.ListDeployments(ctx, "acme", "hello")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	require.Len(t, list[0].Regions, 2)
	assert.Equal(t, functions.OutcomeFailed, list[0].Regions[1].Status)
	assert.Equal(t, "unknown region", list[0].Regions[1].Error)
}

func TestStore_Invocations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, fid := range []string{"f1", "f1", "f2", "f3"} {
		require.NoError(t, s.AppendInvocation(ctx, &functions.Invocation{
			ID:         uuid.NewString(),
			FunctionID: fid,
			DurationMs: int64(100 * (i + 1)),
			StatusCode: 200,
			MemoryMB:   256,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	invs, err := s.ListInvocations(ctx, []string{"f1", "f2"}, base, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, invs, 2)
	assert.Equal(t, int64(100), invs[0].DurationMs)
	assert.Equal(t, int64(200), invs[1].DurationMs)

	invs, err = s.ListInvocations(ctx, nil, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, invs)
}
