// Package observe provides application-wide observability primitives for
// the grammar engine: OpenTelemetry metrics, distributed tracing, and a
// Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all grammar-engine
// metrics.
const meterName = "github.com/MrWong99/glyphoxa-grammar"

// Metrics holds all OpenTelemetry metric instruments the grammar engine
// records. All fields are safe for concurrent use — the underlying OTel
// types handle their own synchronisation.
type Metrics struct {
	// CompileDuration tracks how long a single rule's external
	// graph-compiler subprocess pipeline takes.
	CompileDuration metric.Float64Histogram

	// DecoderCallDuration tracks native/mock decoder FFI call latency. Use
	// with attribute.String("op", ...) ("add", "reload", "remove",
	// "decode", "get_output", "get_word_align").
	DecoderCallDuration metric.Float64Histogram

	// CompileQueueDepth tracks how many rules are currently waiting to be
	// compiled or loaded. Use with attribute.String("queue", ...)
	// ("compile" or "load").
	CompileQueueDepth metric.Int64UpDownCounter

	// ActiveRules tracks the number of rules currently loaded into the
	// decoder.
	ActiveRules metric.Int64UpDownCounter

	// CacheLookups counts artifact cache lookups. Use with
	// attribute.String("result", ...) ("hit" or "miss").
	CacheLookups metric.Int64Counter

	// CompileErrors counts external compiler tool failures. Use with
	// attribute.String("stage", ...) ("fstcompile", "compile-graph-agf",
	// "make_lexicon_fst", ...).
	CompileErrors metric.Int64Counter

	// DictationFallbacks counts alternative-dictation spans that fell back
	// to the local decoder's text, either because the transcriber errored
	// or because the word alignment was unavailable.
	DictationFallbacks metric.Int64Counter
}

// compileLatencyBuckets defines histogram bucket boundaries (in seconds)
// for the external graph-compiler subprocess pipeline, which runs in the
// tens-of-milliseconds to low-seconds range depending on grammar size.
var compileLatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// decoderLatencyBuckets defines histogram bucket boundaries (in seconds)
// for native decoder FFI calls, expected to be much faster than a compile.
var decoderLatencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CompileDuration, err = m.Float64Histogram("grammar.compile.duration",
		metric.WithDescription("Latency of a single rule's external graph-compiler pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(compileLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecoderCallDuration, err = m.Float64Histogram("grammar.decoder.call.duration",
		metric.WithDescription("Latency of a native/mock decoder FFI call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(decoderLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CompileQueueDepth, err = m.Int64UpDownCounter("grammar.queue.depth",
		metric.WithDescription("Number of rules currently queued for compile or load."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRules, err = m.Int64UpDownCounter("grammar.rules.active",
		metric.WithDescription("Number of rules currently loaded into the decoder."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("grammar.cache.lookups",
		metric.WithDescription("Artifact cache lookups by result (hit/miss)."),
	); err != nil {
		return nil, err
	}
	if met.CompileErrors, err = m.Int64Counter("grammar.compile.errors",
		metric.WithDescription("External compiler tool failures by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.DictationFallbacks, err = m.Int64Counter("grammar.dictation.fallbacks",
		metric.WithDescription("Alternative-dictation spans that fell back to the local decoder's text."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCacheLookup is a convenience method that records a cache lookup
// counter increment.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCompileError is a convenience method that records a compile error
// counter increment for the given pipeline stage.
func (m *Metrics) RecordCompileError(ctx context.Context, stage string) {
	m.CompileErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordDictationFallback is a convenience method that records a dictation
// fallback counter increment.
func (m *Metrics) RecordDictationFallback(ctx context.Context) {
	m.DictationFallbacks.Add(ctx, 1)
}
