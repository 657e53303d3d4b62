package invocation

import (
	"context"
	"time"

	"faas-controller/internal/core/functions"
	"faas-controller/internal/telemetry"

	"github.com/rs/zerolog"
)

// DefaultQueueSize is the capacity of the metric write queue.
const DefaultQueueSize = 1024

const drainTimeout = 5 * time.Second

// Store persists invocation records.
type Store interface {
	AppendInvocation(ctx context.Context, inv *functions.Invocation) error
}

type event struct {
	project    string
	function   string
	invocation *functions.Invocation
	duration   time.Duration
	class      string
}

// Recorder writes invocation records and error metrics off the request path. Its queue is
// bounded; when it is full new events are dropped and logged instead of blocking callers.
type Recorder struct {
	store   Store
	metrics *telemetry.Metrics
	events  chan event
	lg      zerolog.Logger
}

func NewRecorder(store Store, metrics *telemetry.Metrics, size int, lg zerolog.Logger) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Recorder{
		store:   store,
		metrics: metrics,
		events:  make(chan event, size),
		lg:      lg.With().Str("component", "invocation-recorder").Logger(),
	}
}

// RecordSuccess queues an invocation record for persistence.
func (r *Recorder) RecordSuccess(project, function string, inv *functions.Invocation, d time.Duration) {
	r.enqueue(event{project: project, function: function, invocation: inv, duration: d})
}

// RecordError queues an error-count metric tagged with class.
func (r *Recorder) RecordError(project, function, class string) {
	r.enqueue(event{project: project, function: function, class: class})
}

func (r *Recorder) enqueue(ev event) {
	select {
	case r.events <- ev:
	default:
		r.metrics.WriteDropped()
		r.lg.Warn().
			Str("project", ev.project).
			Str("function", ev.function).
			Msg("metric write queue full, dropping event")
	}
}

// Run consumes the queue until ctx is done, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case ev := <-r.events:
			r.handle(context.WithoutCancel(ctx), ev)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-r.events:
			r.handle(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev event) {
	if ev.invocation == nil {
		r.metrics.InvocationFailed(ev.project, ev.function, ev.class)
		return
	}
	r.metrics.InvocationSucceeded(ev.project, ev.function, ev.duration)
	if err := r.store.AppendInvocation(ctx, ev.invocation); err != nil {
		r.lg.Error().Err(err).
			Str("function_id", ev.invocation.FunctionID).
			Msg("failed to persist invocation record")
	}
}
