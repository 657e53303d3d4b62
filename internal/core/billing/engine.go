package billing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"faas-controller/internal/core/functions"

	"github.com/rs/zerolog"
)

const (
	DefaultBucket = time.Minute
	// MaxBuckets caps the series length; wider intervals get wider buckets.
	MaxBuckets = 1440
	MaxWindow  = 31 * 24 * time.Hour
)

// Store reads function history and invocation records.
type Store interface {
	FunctionHistory(ctx context.Context, project, name string) ([]functions.Function, error)
	ListInvocations(ctx context.Context, functionIDs []string, from, to time.Time) ([]functions.Invocation, error)
}

// Pricing holds the unit costs used for the estimate.
type Pricing struct {
	CostPerInvocation float64 `json:"cost_per_invocation"`
	CostPerGBSecond   float64 `json:"cost_per_gb_second"`
}

// Interval is the half-open time range [From, To) split into Bucket-sized steps.
type Interval struct {
	From   time.Time
	To     time.Time
	Bucket time.Duration
}

// ParseInterval builds the interval ending at now from a window such as "1h" or "7d"
// and an optional bucket width.
func ParseInterval(window, bucket string, now time.Time) (Interval, error) {
	w, err := parseDuration(window)
	if err != nil {
		return Interval{}, fmt.Errorf("%w: interval: %v", functions.ErrValidation, err)
	}
	if w <= 0 || w > MaxWindow {
		return Interval{}, fmt.Errorf("%w: interval must be within (0, %s]", functions.ErrValidation, MaxWindow)
	}
	b := DefaultBucket
	if bucket != "" {
		if b, err = parseDuration(bucket); err != nil {
			return Interval{}, fmt.Errorf("%w: bucket: %v", functions.ErrValidation, err)
		}
		if b < time.Second {
			return Interval{}, fmt.Errorf("%w: bucket must be at least 1s", functions.ErrValidation)
		}
	}
	if w/b > MaxBuckets {
		b = (w/MaxBuckets + time.Minute - 1).Truncate(time.Minute)
	}
	now = now.UTC()
	return Interval{From: now.Add(-w), To: now, Bucket: b}, nil
}

// parseDuration accepts time.ParseDuration syntax plus a whole-day "d" suffix.
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		if n < 0 || n > int(MaxWindow/(24*time.Hour)) {
			return 0, fmt.Errorf("duration %q out of range", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Bucket is the aggregate of the invocations that started within one bucket.
type Bucket struct {
	Start         time.Time `json:"start"`
	Count         int       `json:"count"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	MaxDurationMs int64     `json:"max_duration_ms"`
	P95DurationMs int64     `json:"p95_duration_ms"`
	ResultBytes   int64     `json:"result_bytes"`
}

// Summary aggregates across all buckets.
type Summary struct {
	TotalInvocations int     `json:"total_invocations"`
	AvgDurationMs    float64 `json:"avg_duration_ms"`
	PeakInvocations  int     `json:"peak_invocations"`
	TotalComputeMs   int64   `json:"total_compute_ms"`
	TotalResultBytes int64   `json:"total_result_bytes"`
	GBSeconds        float64 `json:"gb_seconds"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// Report is the metrics view of one function over an interval.
type Report struct {
	Project string        `json:"project"`
	Name    string        `json:"name"`
	From    time.Time     `json:"from"`
	To      time.Time     `json:"to"`
	Bucket  time.Duration `json:"bucket_ns"`
	Series  []Bucket      `json:"series"`
	Summary Summary       `json:"summary"`
}

// Engine turns invocation records into time series and a cost estimate.
type Engine struct {
	store   Store
	pricing Pricing
	lg      zerolog.Logger
}

func NewEngine(store Store, pricing Pricing, lg zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		pricing: pricing,
		lg:      lg.With().Str("component", "billing").Logger(),
	}
}

// GetMetrics aggregates every invocation of project/name in iv, across all regions and
// including records of deleted deployments.
func (e *Engine) GetMetrics(ctx context.Context, project, name string, iv Interval) (*Report, error) {
	if iv.Bucket <= 0 || !iv.From.Before(iv.To) {
		return nil, fmt.Errorf("%w: empty interval", functions.ErrValidation)
	}
	history, err := e.store.FunctionHistory(ctx, project, name)
	if err != nil {
		return nil, fmt.Errorf("load function history: %w", err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", functions.ErrNotFound, project, name)
	}

	ids := make([]string, 0, len(history))
	memory := make(map[string]int, len(history))
	for _, fn := range history {
		ids = append(ids, fn.ID)
		memory[fn.ID] = fn.MemoryMB
	}
	invs, err := e.store.ListInvocations(ctx, ids, iv.From, iv.To)
	if err != nil {
		return nil, fmt.Errorf("load invocations: %w", err)
	}

	report := &Report{
		Project: project,
		Name:    name,
		From:    iv.From,
		To:      iv.To,
		Bucket:  iv.Bucket,
		Series:  aggregate(invs, iv),
	}
	report.Summary = e.summarize(report.Series, invs, iv, memory)

	e.lg.Debug().
		Str("project", project).
		Str("function", name).
		Int("invocations", report.Summary.TotalInvocations).
		Msg("metrics computed")
	return report, nil
}

func aggregate(invs []functions.Invocation, iv Interval) []Bucket {
	start := iv.From.Truncate(iv.Bucket)
	n := int((iv.To.Sub(start) + iv.Bucket - 1) / iv.Bucket)
	series := make([]Bucket, n)
	durations := make([][]int64, n)
	for i := range series {
		series[i].Start = start.Add(time.Duration(i) * iv.Bucket)
	}

	for _, inv := range invs {
		if inv.Timestamp.Before(iv.From) || !inv.Timestamp.Before(iv.To) {
			continue
		}
		i := int(inv.Timestamp.Sub(start) / iv.Bucket)
		b := &series[i]
		b.Count++
		b.ResultBytes += inv.ResultBytes
		if inv.DurationMs > b.MaxDurationMs {
			b.MaxDurationMs = inv.DurationMs
		}
		durations[i] = append(durations[i], inv.DurationMs)
	}

	for i := range series {
		if series[i].Count == 0 {
			continue
		}
		var sum int64
		for _, d := range durations[i] {
			sum += d
		}
		series[i].AvgDurationMs = float64(sum) / float64(series[i].Count)
		series[i].P95DurationMs = Percentile(durations[i], 95)
	}
	return series
}

func (e *Engine) summarize(series []Bucket, invs []functions.Invocation, iv Interval, memory map[string]int) Summary {
	var s Summary
	for _, b := range series {
		s.TotalInvocations += b.Count
		s.TotalResultBytes += b.ResultBytes
		if b.Count > s.PeakInvocations {
			s.PeakInvocations = b.Count
		}
	}
	for _, inv := range invs {
		if inv.Timestamp.Before(iv.From) || !inv.Timestamp.Before(iv.To) {
			continue
		}
		mem := inv.MemoryMB
		if mem == 0 {
			mem = memory[inv.FunctionID]
		}
		s.TotalComputeMs += inv.DurationMs
		s.GBSeconds += float64(mem) / 1024 * float64(inv.DurationMs) / 1000
	}
	if s.TotalInvocations > 0 {
		s.AvgDurationMs = float64(s.TotalComputeMs) / float64(s.TotalInvocations)
	}
	s.EstimatedCost = Cost(e.pricing, s.TotalInvocations, s.GBSeconds)
	return s
}

// Cost applies pricing to a usage total.
func Cost(p Pricing, invocations int, gbSeconds float64) float64 {
	return float64(invocations)*p.CostPerInvocation + gbSeconds*p.CostPerGBSecond
}

// Percentile returns the nearest-rank pth percentile of values, or 0 for no values.
func Percentile(values []int64, p int) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
