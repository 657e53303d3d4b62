package invocation

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"faas-controller/internal/core/functions"
	"faas-controller/internal/telemetry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HeaderTraceID carries the trace id to the function alongside the W3C traceparent header.
const HeaderTraceID = "X-Trace-Id"

// Error classes attached to failed invocations.
const (
	ClassTimeout   = "timeout"
	ClassNetwork   = "network"
	ClassCanceled  = "canceled"
	ClassStatus4xx = "status_4xx"
	ClassStatus5xx = "status_5xx"
	ClassMalformed = "malformed_response"
)

// FunctionLookup finds the live record of a function.
type FunctionLookup interface {
	GetFunction(ctx context.Context, project, name, region string) (*functions.Function, error)
}

// Request is one synchronous call of a function.
type Request struct {
	Project string
	Name    string
	Region  string
	Payload json.RawMessage
	// TraceID, when set, is propagated unchanged to the function.
	TraceID string
}

// Billable is the usage charged for one invocation.
type Billable struct {
	Invocations       int   `json:"invocations"`
	ComputeTimeMs     int64 `json:"compute_time_ms"`
	MemoryAllocatedMb int   `json:"memory_allocated_mb"`
}

// Result is the outcome of a successful invocation.
type Result struct {
	Result     json.RawMessage `json:"result"`
	DurationMs int64           `json:"duration_ms"`
	TraceID    string          `json:"trace_id"`
	SpanID     string          `json:"span_id"`
	Billable   Billable        `json:"billable"`
}

// Error describes a failed forward call. It unwraps to functions.ErrTimeout or
// functions.ErrUpstream.
type Error struct {
	Class      string
	TraceID    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Proxy forwards invocations to deployed functions. It never retries: a function may not
// be idempotent, so retry policy belongs to the caller.
type Proxy struct {
	functions     FunctionLookup
	recorder      *Recorder
	client        *http.Client
	tracer        trace.Tracer
	defaultRegion string
	now           func() time.Time
	lg            zerolog.Logger
}

// ProxyOption customizes a Proxy.
type ProxyOption func(*proxyOptions)

type proxyOptions struct {
	transport http.RoundTripper
}

// WithTransport sets the round tripper under the tracing transport. The default is
// http.DefaultTransport.
func WithTransport(rt http.RoundTripper) ProxyOption {
	return func(o *proxyOptions) { o.transport = rt }
}

func NewProxy(lookup FunctionLookup, rec *Recorder, tp trace.TracerProvider, defaultRegion string, lg zerolog.Logger, opts ...ProxyOption) *Proxy {
	o := proxyOptions{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}
	transport := otelhttp.NewTransport(o.transport,
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithPropagators(telemetry.Propagator()),
	)
	return &Proxy{
		functions:     lookup,
		recorder:      rec,
		client:        &http.Client{Transport: transport},
		tracer:        tp.Tracer("faas-controller/invocation"),
		defaultRegion: defaultRegion,
		now:           time.Now,
		lg:            lg.With().Str("component", "invocation-proxy").Logger(),
	}
}

// Invoke calls the function synchronously. A function without a ready endpoint fails
// with functions.ErrNotFound before any network call is made.
func (p *Proxy) Invoke(ctx context.Context, req Request) (*Result, error) {
	region := req.Region
	if region == "" {
		region = p.defaultRegion
	}
	fn, err := p.functions.GetFunction(ctx, req.Project, req.Name, region)
	if err != nil {
		return nil, err
	}
	if !fn.Ready() {
		return nil, fmt.Errorf("%w: %s/%s is %s and has no ready endpoint", functions.ErrNotFound, fn.Project, fn.Name, fn.Status)
	}

	parent, err := withTraceID(ctx, req.TraceID)
	if err != nil {
		return nil, err
	}
	ctx, span := p.tracer.Start(parent, "function.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("faas.project", fn.Project),
			attribute.String("faas.function", fn.Name),
			attribute.String("faas.region", fn.Region),
		),
	)
	defer span.End()
	traceID := span.SpanContext().TraceID().String()
	spanID := span.SpanContext().SpanID().String()

	lg := p.lg.With().
		Str("project", fn.Project).
		Str("function", fn.Name).
		Str("trace_id", traceID).
		Logger()

	body, err := json.Marshal(struct {
		Payload json.RawMessage `json:"payload"`
	}{Payload: req.Payload})
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not valid json: %v", functions.ErrValidation, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(fn.TimeoutSeconds)*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, *fn.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderTraceID, traceID)

	start := p.now()
	statusCode, raw, err := p.forward(httpReq)
	duration := p.now().Sub(start)
	if err != nil {
		ierr := classify(err, statusCode, traceID)
		span.RecordError(ierr)
		span.SetStatus(codes.Error, ierr.Class)
		p.recorder.RecordError(fn.Project, fn.Name, ierr.Class)
		lg.Warn().Err(err).Str("class", ierr.Class).Dur("duration", duration).Msg("invocation failed")
		return nil, ierr
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		ierr := &Error{
			Class:      ClassMalformed,
			TraceID:    traceID,
			StatusCode: statusCode,
			Err:        fmt.Errorf("%w: unmarshal function response: %v", functions.ErrUpstream, err),
		}
		span.SetStatus(codes.Error, ierr.Class)
		p.recorder.RecordError(fn.Project, fn.Name, ierr.Class)
		return nil, ierr
	}

	durationMs := duration.Milliseconds()
	p.recorder.RecordSuccess(fn.Project, fn.Name, &functions.Invocation{
		ID:          uuid.NewString(),
		FunctionID:  fn.ID,
		DurationMs:  durationMs,
		StatusCode:  statusCode,
		ResultBytes: int64(len(envelope.Result)),
		MemoryMB:    fn.MemoryMB,
		TraceID:     traceID,
		Timestamp:   start.UTC(),
	}, duration)

	span.SetAttributes(attribute.Int64("faas.duration_ms", durationMs))
	return &Result{
		Result:     envelope.Result,
		DurationMs: durationMs,
		TraceID:    traceID,
		SpanID:     spanID,
		Billable: Billable{
			Invocations:       1,
			ComputeTimeMs:     durationMs,
			MemoryAllocatedMb: fn.MemoryMB,
		},
	}, nil
}

// forward performs the call and reads the body. A non-2xx status is an error; the
// status code is returned alongside it.
func (p *Proxy) forward(req *http.Request) (int, []byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read function response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, raw, fmt.Errorf("function returned non-2xx status: %s - %s", resp.Status, truncate(raw, 512))
	}
	return resp.StatusCode, raw, nil
}

func classify(err error, statusCode int, traceID string) *Error {
	e := &Error{TraceID: traceID, StatusCode: statusCode}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		e.Class = ClassTimeout
		e.Err = fmt.Errorf("%w: %v", functions.ErrTimeout, err)
		return e
	case errors.Is(err, context.Canceled):
		e.Class = ClassCanceled
	case statusCode >= 500:
		e.Class = ClassStatus5xx
	case statusCode >= 400:
		e.Class = ClassStatus4xx
	default:
		e.Class = ClassNetwork
	}
	e.Err = fmt.Errorf("%w: %v", functions.ErrUpstream, err)
	return e
}

// withTraceID returns ctx carrying a remote parent in traceID's trace, so spans started
// from it keep that trace id. An empty traceID leaves ctx unchanged: a trace already in
// ctx is continued, otherwise a new one is started.
func withTraceID(ctx context.Context, traceID string) (context.Context, error) {
	if traceID == "" {
		return ctx, nil
	}
	tid, err := trace.TraceIDFromHex(traceID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid trace id %q", functions.ErrValidation, traceID)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.TraceID() == tid {
		return ctx, nil
	}
	var sid trace.SpanID
	if _, err := rand.Read(sid[:]); err != nil {
		return nil, fmt.Errorf("generate parent span id: %w", err)
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
