package invocation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"faas-controller/internal/core/functions"
	"faas-controller/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	invs []*functions.Invocation
	err  error
}

func (s *memStore) AppendInvocation(_ context.Context, inv *functions.Invocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.invs = append(s.invs, inv)
	return nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invs)
}

func newTestRecorder(t *testing.T, store Store, size int) (*Recorder, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics, err := telemetry.NewMetrics(reg)
	require.NoError(t, err)
	return NewRecorder(store, metrics, size, zerolog.Nop()), reg
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	rec, reg := newTestRecorder(t, &memStore{}, 1)

	rec.RecordError("acme", "hello", ClassTimeout)
	rec.RecordError("acme", "hello", ClassTimeout)
	rec.RecordError("acme", "hello", ClassTimeout)

	expected := `
# HELP faas_metric_writes_dropped_total Invocation metric writes dropped because the write queue was full
# TYPE faas_metric_writes_dropped_total counter
faas_metric_writes_dropped_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "faas_metric_writes_dropped_total"))
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	store := &memStore{}
	rec, reg := newTestRecorder(t, store, 8)

	rec.RecordSuccess("acme", "hello", &functions.Invocation{ID: "1", FunctionID: "f"}, 20*time.Millisecond)
	rec.RecordSuccess("acme", "hello", &functions.Invocation{ID: "2", FunctionID: "f"}, 30*time.Millisecond)
	rec.RecordError("acme", "hello", ClassStatus5xx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	assert.Equal(t, 2, store.len())
	expected := `
# HELP faas_invocation_errors_total Failed function invocations by error class
# TYPE faas_invocation_errors_total counter
faas_invocation_errors_total{class="status_5xx",function="hello",project="acme"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "faas_invocation_errors_total"))
}

func TestRecorder_StoreErrorIsNotFatal(t *testing.T) {
	store := &memStore{err: errors.New("database is locked")}
	rec, _ := newTestRecorder(t, store, 4)

	rec.RecordSuccess("acme", "hello", &functions.Invocation{ID: "1", FunctionID: "f"}, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}
	assert.Zero(t, store.len())
}
