// Package telemetry provides OpenTelemetry metrics for sync runs.
//
// Telemetry is disabled by default; Init then installs a no-op meter
// provider. With telemetry.stdout enabled, metrics are printed every 15s.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/JohanCodinha/worksync"

var shutdownFns []func(context.Context) error

// Options configures Init.
type Options struct {
	Enabled     bool
	Stdout      bool
	ServiceName string
	Version     string

	// Reader is an extra metric reader, used by tests to collect on demand.
	Reader sdkmetric.Reader
}

// Init installs the global meter provider.
func Init(ctx context.Context, opts Options) error {
	if !opts.Enabled {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	if opts.ServiceName == "" {
		opts.ServiceName = "worksync"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.Version),
		),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
		))
	}
	if opts.Reader != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(opts.Reader))
	}

	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

// Meter returns a meter from the global provider.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes and stops the providers installed by Init.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}

// SyncMetrics counts sync runs and their records.
type SyncMetrics struct {
	runs         metric.Int64Counter
	items        metric.Int64Counter
	recordErrors metric.Int64Counter
}

// NewSyncMetrics creates the sync counters on mp, or on the global provider
// when mp is nil.
func NewSyncMetrics(mp metric.MeterProvider) (*SyncMetrics, error) {
	var meter metric.Meter
	if mp != nil {
		meter = mp.Meter(instrumentationScope)
	} else {
		meter = Meter("")
	}

	runs, err := meter.Int64Counter("worksync.sync.runs",
		metric.WithDescription("Sync runs by type and terminal status"))
	if err != nil {
		return nil, err
	}
	items, err := meter.Int64Counter("worksync.sync.items",
		metric.WithDescription("Records added or updated by sync runs"))
	if err != nil {
		return nil, err
	}
	recordErrors, err := meter.Int64Counter("worksync.sync.record_errors",
		metric.WithDescription("Records skipped because they could not be converted"))
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{runs: runs, items: items, recordErrors: recordErrors}, nil
}

// RecordRun records one finished run. A nil receiver is a no-op.
func (m *SyncMetrics) RecordRun(ctx context.Context, syncType, status string, items, recordErrors int) {
	if m == nil {
		return
	}
	typeAttr := metric.WithAttributes(attribute.String("sync_type", syncType))

	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sync_type", syncType),
		attribute.String("status", status),
	))
	if items > 0 {
		m.items.Add(ctx, int64(items), typeAttr)
	}
	if recordErrors > 0 {
		m.recordErrors.Add(ctx, int64(recordErrors), typeAttr)
	}
}
