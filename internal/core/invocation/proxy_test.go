package invocation_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"faas-controller/internal/adapters/gorm"
	"faas-controller/internal/core/functions"
	"faas-controller/internal/core/invocation"
	"faas-controller/internal/telemetry"
	"faas-controller/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const region = "us-east-1"

type harness struct {
	store *gorm.Store
	rec   *invocation.Recorder
	proxy *invocation.Proxy
	stop  func()
}

func newHarness(t *testing.T, opts ...invocation.ProxyOption) *harness {
	t.Helper()
	store := testutil.NewStore(t)
	metrics, err := telemetry.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	rec := invocation.NewRecorder(store, metrics, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return &harness{
		store: store,
		rec:   rec,
		proxy: invocation.NewProxy(store, rec, tp, region, zerolog.Nop(), opts...),
		stop:  stop,
	}
}

func (h *harness) addFunction(t *testing.T, endpoint string, status functions.Status) *functions.Function {
	t.Helper()
	fn := &functions.Function{
		ID:             "fn-" + string(status),
		Project:        "acme",
		Name:           "hello",
		Region:         region,
		Runtime:        "node18",
		ObjectName:     "acme-hello",
		MemoryMB:       256,
		TimeoutSeconds: 30,
		Concurrency:    100,
		Status:         status,
		CreatedAt:      time.Now().UTC(),
	}
	if endpoint != "" {
		fn.Endpoint = &endpoint
	}
	require.NoError(t, h.store.CreateFunction(context.Background(), fn))
	return fn
}

func TestInvoke_Success(t *testing.T) {
	var gotBody map[string]json.RawMessage
	var gotTrace, gotTraceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		gotTrace = r.Header.Get(invocation.HeaderTraceID)
		gotTraceparent = r.Header.Get("traceparent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"greeting":"hi"}}`))
	}))
	defer srv.Close()

	h := newHarness(t)
	fn := h.addFunction(t, srv.URL, functions.StatusActive)

	traceID := "4bf92f3577b34da6a3ce929d0e0e4736"
	res, err := h.proxy.Invoke(context.Background(), invocation.Request{
		Project: "acme",
		Name:    "hello",
		Payload: json.RawMessage(`{"name":"world"}`),
		TraceID: traceID,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"greeting":"hi"}`, string(res.Result))
	assert.Equal(t, traceID, res.TraceID)
	assert.Len(t, res.SpanID, 16)
	assert.Equal(t, invocation.Billable{Invocations: 1, ComputeTimeMs: res.DurationMs, MemoryAllocatedMb: 256}, res.Billable)

	assert.JSONEq(t, `{"name":"world"}`, string(gotBody["payload"]))
	assert.Equal(t, traceID, gotTrace)
	assert.Contains(t, gotTraceparent, traceID)

	h.stop()
	invs, err := h.store.ListInvocations(context.Background(), []string{fn.ID}, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, traceID, invs[0].TraceID)
	assert.Equal(t, 256, invs[0].MemoryMB)
	assert.Equal(t, http.StatusOK, invs[0].StatusCode)
}

func TestInvoke_GeneratesTraceID(t *testing.T) {
	var gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace = r.Header.Get(invocation.HeaderTraceID)
		_, _ = w.Write([]byte(`{"result":null}`))
	}))
	defer srv.Close()

	h := newHarness(t)
	h.addFunction(t, srv.URL, functions.StatusActive)

	res, err := h.proxy.Invoke(context.Background(), invocation.Request{Project: "acme", Name: "hello", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Len(t, res.TraceID, 32)
	assert.Equal(t, res.TraceID, gotTrace)
}

func TestInvoke_NotReadyMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	h := newHarness(t)
	h.addFunction(t, "", functions.StatusPending)

	_, err := h.proxy.Invoke(context.Background(), invocation.Request{Project: "acme", Name: "hello"})
	assert.ErrorIs(t, err, functions.ErrNotFound)
	assert.Zero(t, calls.Load())
}

func TestInvoke_UnknownFunction(t *testing.T) {
	h := newHarness(t)
	_, err := h.proxy.Invoke(context.Background(), invocation.Request{Project: "acme", Name: "ghost"})
	assert.ErrorIs(t, err, functions.ErrNotFound)
}

func TestInvoke_UpstreamErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		class  string
	}{
		{"server error", http.StatusInternalServerError, `boom`, invocation.ClassStatus5xx},
		{"client error", http.StatusBadRequest, `bad input`, invocation.ClassStatus4xx},
		{"malformed", http.StatusOK, `not json`, invocation.ClassMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			h := newHarness(t)
			h.addFunction(t, srv.URL, functions.StatusActive)

			_, err := h.proxy.Invoke(context.Background(), invocation.Request{Project: "acme", Name: "hello"})
			require.Error(t, err)
			assert.ErrorIs(t, err, functions.ErrUpstream)

			var ierr *invocation.Error
			require.True(t, errors.As(err, &ierr))
			assert.Equal(t, tc.class, ierr.Class)
			assert.Len(t, ierr.TraceID, 32)
			assert.Equal(t, int32(1), calls.Load(), "no retries")
		})
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// blockingServer holds every request until the test ends or the client gives up.
func blockingServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

func TestInvoke_CallerDeadline(t *testing.T) {
	srv := blockingServer(t)

	h := newHarness(t)
	h.addFunction(t, srv.URL, functions.StatusActive)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.proxy.Invoke(ctx, invocation.Request{Project: "acme", Name: "hello"})
	assert.ErrorIs(t, err, functions.ErrTimeout)

	var ierr *invocation.Error
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, invocation.ClassTimeout, ierr.Class)
}

func TestInvoke_FunctionTimeoutBoundsCall(t *testing.T) {
	srv := blockingServer(t)

	h := newHarness(t)
	fn := h.addFunction(t, srv.URL, functions.StatusActive)
	fn.TimeoutSeconds = 1
	require.NoError(t, h.store.UpdateFunction(context.Background(), fn))

	start := time.Now()
	_, err := h.proxy.Invoke(context.Background(), invocation.Request{Project: "acme", Name: "hello"})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, functions.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestInvoke_ForwardDeadlineFromFunctionTimeout(t *testing.T) {
	var deadline time.Time
	var hasDeadline bool
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		deadline, hasDeadline = r.Context().Deadline()
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"result":"ok"}`)),
			Request:    r,
		}, nil
	})

	h := newHarness(t, invocation.WithTransport(rt))
	fn := h.addFunction(t, "http://hello.functions.test", functions.StatusActive)
	fn.TimeoutSeconds = 7
	require.NoError(t, h.store.UpdateFunction(context.Background(), fn))

	start := time.Now()
	res, err := h.proxy.Invoke(context.Background(), invocation.Request{Project: "acme", Name: "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(res.Result))

	require.True(t, hasDeadline)
	assert.WithinDuration(t, start.Add(7*time.Second), deadline, time.Second)
}

func TestInvoke_InvalidTraceID(t *testing.T) {
	h := newHarness(t)
	h.addFunction(t, "http://127.0.0.1:1", functions.StatusActive)

	_, err := h.proxy.Invoke(context.Background(), invocation.Request{Project: "acme", Name: "hello", TraceID: "xyz"})
	assert.ErrorIs(t, err, functions.ErrValidation)
}
