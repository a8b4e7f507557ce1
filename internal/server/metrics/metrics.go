// Package metrics exports archive, job and health counters through
// OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Job item outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Recorder is what the services report into. Nop discards everything.
type Recorder interface {
	ArchiveTransition(ctx context.Context, from, to string)
	CompressedBytes(ctx context.Context, codec string, original, compressed int64)
	JobItems(ctx context.Context, job, outcome string, n int64)
	HealthStatus(ctx context.Context, credentialsKey string, up bool)
}

type Nop struct{}

func (Nop) ArchiveTransition(context.Context, string, string)     {}
func (Nop) CompressedBytes(context.Context, string, int64, int64) {}
func (Nop) JobItems(context.Context, string, string, int64)       {}
func (Nop) HealthStatus(context.Context, string, bool)            {}

type OtelRecorder struct {
	transitions metric.Int64Counter
	original    metric.Int64Counter
	compressed  metric.Int64Counter
	jobItems    metric.Int64Counter
	health      metric.Int64Gauge
}

// NewOtelRecorder registers the instruments on meter.
func NewOtelRecorder(meter metric.Meter) (*OtelRecorder, error) {
	r := &OtelRecorder{}
	var err error

	if r.transitions, err = meter.Int64Counter("repostore.archive.transitions",
		metric.WithDescription("Archive file status transitions")); err != nil {
		return nil, err
	}
	if r.original, err = meter.Int64Counter("repostore.archive.original_bytes",
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if r.compressed, err = meter.Int64Counter("repostore.archive.compressed_bytes",
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if r.jobItems, err = meter.Int64Counter("repostore.job.items",
		metric.WithDescription("Batch job items by outcome")); err != nil {
		return nil, err
	}
	if r.health, err = meter.Int64Gauge("repostore.storage.up",
		metric.WithDescription("1 if the storage credential answered the last probe")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OtelRecorder) ArchiveTransition(ctx context.Context, from, to string) {
	r.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("from", from), attribute.String("to", to)))
}

func (r *OtelRecorder) CompressedBytes(ctx context.Context, codec string, original, compressed int64) {
	attrs := metric.WithAttributes(attribute.String("codec", codec))
	r.original.Add(ctx, original, attrs)
	r.compressed.Add(ctx, compressed, attrs)
}

func (r *OtelRecorder) JobItems(ctx context.Context, job, outcome string, n int64) {
	r.jobItems.Add(ctx, n, metric.WithAttributes(attribute.String("job", job), attribute.String("outcome", outcome)))
}

func (r *OtelRecorder) HealthStatus(ctx context.Context, credentialsKey string, up bool) {
	var v int64
	if up {
		v = 1
	}
	r.health.Record(ctx, v, metric.WithAttributes(attribute.String("credentials_key", credentialsKey)))
}

type Config struct {
	// Endpoint is the OTLP/HTTP collector host:port; empty disables export.
	Endpoint    string
	ServiceName string
	Interval    time.Duration
	Insecure    bool
}

// Setup builds the recorder for cfg. The returned shutdown func flushes the
// exporter and is safe to call when export is disabled.
func Setup(ctx context.Context, cfg Config) (Recorder, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return Nop{}, func(context.Context) error { return nil }, nil
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	return newProvider(cfg, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval(cfg))))
}

func interval(cfg Config) time.Duration {
	if cfg.Interval <= 0 {
		return 30 * time.Second
	}
	return cfg.Interval
}

func newProvider(cfg Config, reader sdkmetric.Reader) (Recorder, func(context.Context) error, error) {
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))

	rec, err := NewOtelRecorder(provider.Meter("github.com/dmitrijs2005/repostore"))
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, nil, err
	}
	return rec, provider.Shutdown, nil
}
