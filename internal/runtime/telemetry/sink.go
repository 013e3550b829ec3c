// Package telemetry turns processing results into OpenTelemetry spans and
// histogram samples.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/drblury/amqptrace"

type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// SpanRecord is a finished unit of work. Duration is in seconds.
type SpanRecord struct {
	Name          string
	Kind          trace.SpanKind
	Attributes    map[string]any
	Status        Status
	StatusMessage string
	Start         time.Time
	Duration      float64
}

// End is Start plus Duration.
func (r SpanRecord) End() time.Time {
	return r.Start.Add(time.Duration(r.Duration * float64(time.Second)))
}

// Sink emits spans and histogram samples. It is safe for concurrent use and
// never blocks on export; batching happens in the SDK.
type Sink struct {
	tracer trace.Tracer
	meter  metric.Meter
	now    func() time.Time

	mu         sync.Mutex
	histograms map[string]metric.Float64Histogram
	described  map[string]histogramDescription
}

type histogramDescription struct {
	unit        string
	description string
}

// NewSink builds a Sink on top of explicit providers. Nil providers fall back
// to no-op implementations.
func NewSink(tp trace.TracerProvider, mp metric.MeterProvider) *Sink {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	return &Sink{
		tracer:     tp.Tracer(instrumentationName),
		meter:      mp.Meter(instrumentationName),
		now:        time.Now,
		histograms: make(map[string]metric.Float64Histogram),
		described:  make(map[string]histogramDescription),
	}
}

// NopSink discards everything.
func NopSink() *Sink { return NewSink(nil, nil) }

// DescribeHistogram sets unit and description used when the histogram is
// first created. It has no effect once the histogram exists.
func (s *Sink) DescribeHistogram(name, unit, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.described[name] = histogramDescription{unit: unit, description: description}
}

// EmitSpan records an already finished span.
func (s *Sink) EmitSpan(ctx context.Context, rec SpanRecord) {
	start := rec.Start
	if start.IsZero() {
		start = s.now()
	}
	kind := rec.Kind
	if kind == trace.SpanKindUnspecified {
		kind = trace.SpanKindInternal
	}
	_, span := s.tracer.Start(ctx, rec.Name,
		trace.WithTimestamp(start),
		trace.WithSpanKind(kind),
		trace.WithAttributes(Attributes(rec.Attributes)...),
	)
	setStatus(span, rec.Status, rec.StatusMessage)
	rec.Start = start
	span.End(trace.WithTimestamp(rec.End()))
}

// EmitHistogram records one sample. The histogram is created on first use.
func (s *Sink) EmitHistogram(ctx context.Context, name string, value float64, attrs map[string]any) error {
	h, err := s.histogram(name)
	if err != nil {
		return err
	}
	h.Record(ctx, value, metric.WithAttributes(Attributes(attrs)...))
	return nil
}

func (s *Sink) histogram(name string) (metric.Float64Histogram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.histograms[name]; ok {
		return h, nil
	}
	var opts []metric.Float64HistogramOption
	if d, ok := s.described[name]; ok {
		opts = append(opts, metric.WithUnit(d.unit), metric.WithDescription(d.description))
	}
	h, err := s.meter.Float64Histogram(name, opts...)
	if err != nil {
		return nil, fmt.Errorf("create histogram %q: %w", name, err)
	}
	s.histograms[name] = h
	return h, nil
}

// StartSpan opens a live span. The returned context carries it so nested
// work becomes its children.
func (s *Sink) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, *Span) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, name,
		trace.WithTimestamp(start),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(Attributes(attrs)...),
	)
	rec := SpanRecord{
		Name:       name,
		Kind:       trace.SpanKindInternal,
		Attributes: make(map[string]any, len(attrs)),
		Status:     StatusOK,
		Start:      start,
	}
	for k, v := range attrs {
		rec.Attributes[k] = v
	}
	return ctx, &Span{span: span, rec: rec, now: s.now}
}

// Span is a live span opened by StartSpan. It is not safe for concurrent use.
type Span struct {
	span  trace.Span
	rec   SpanRecord
	now   func() time.Time
	ended bool
}

func (s *Span) SetAttributes(attrs map[string]any) {
	for k, v := range attrs {
		s.rec.Attributes[k] = v
	}
	s.span.SetAttributes(Attributes(attrs)...)
}

// Fail marks the span as failed and records err on it.
func (s *Span) Fail(err error) {
	if err == nil {
		return
	}
	s.rec.Status = StatusError
	s.rec.StatusMessage = err.Error()
	s.span.RecordError(err)
}

// End finishes the span once and returns what was recorded. Later calls
// return the same record.
func (s *Span) End() SpanRecord {
	if s.ended {
		return s.rec
	}
	s.ended = true
	end := s.now()
	s.rec.Duration = end.Sub(s.rec.Start).Seconds()
	setStatus(s.span, s.rec.Status, s.rec.StatusMessage)
	s.span.End(trace.WithTimestamp(end))
	return s.rec
}

func (s *Span) SpanContext() trace.SpanContext { return s.span.SpanContext() }

func setStatus(span trace.Span, status Status, msg string) {
	if status == StatusError {
		span.SetStatus(codes.Error, msg)
		return
	}
	span.SetStatus(codes.Ok, "")
}

// Attributes converts a loosely typed map into sorted OTel attributes.
func Attributes(m map[string]any) []attribute.KeyValue {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, Attribute(k, m[k]))
	}
	return out
}

// Attribute converts a single value. Unsupported types are rendered with
// fmt.Sprint.
func Attribute(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case nil:
		return attribute.String(key, "")
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int8:
		return attribute.Int64(key, int64(val))
	case int16:
		return attribute.Int64(key, int64(val))
	case int32:
		return attribute.Int64(key, int64(val))
	case int64:
		return attribute.Int64(key, val)
	case uint8:
		return attribute.Int64(key, int64(val))
	case uint16:
		return attribute.Int64(key, int64(val))
	case uint32:
		return attribute.Int64(key, int64(val))
	case float32:
		return attribute.Float64(key, float64(val))
	case float64:
		return attribute.Float64(key, val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return attribute.Int64(key, i)
		}
		if f, err := val.Float64(); err == nil {
			return attribute.Float64(key, f)
		}
		return attribute.String(key, val.String())
	case []string:
		return attribute.StringSlice(key, val)
	case fmt.Stringer:
		return attribute.String(key, val.String())
	default:
		return attribute.String(key, fmt.Sprint(val))
	}
}
