package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string][]metricdata.DataPoint[int64] {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	out := make(map[string][]metricdata.DataPoint[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = append(out[m.Name], sum.DataPoints...)
			}
		}
	}
	return out
}

func TestSyncMetrics_RecordRun(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewSyncMetrics(mp)
	if err != nil {
		t.Fatalf("NewSyncMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.RecordRun(ctx, "worklogs", "completed", 10, 1)
	m.RecordRun(ctx, "worklogs", "completed", 5, 0)
	m.RecordRun(ctx, "users", "failed", 0, 0)

	sums := collectSums(t, reader)

	runs := sums["worksync.sync.runs"]
	if len(runs) != 2 {
		t.Fatalf("expected 2 run series, got %d", len(runs))
	}
	for _, dp := range runs {
		typ, _ := dp.Attributes.Value(attribute.Key("sync_type"))
		switch typ.AsString() {
		case "worklogs":
			if dp.Value != 2 {
				t.Errorf("worklogs runs = %d, want 2", dp.Value)
			}
		case "users":
			status, _ := dp.Attributes.Value(attribute.Key("status"))
			if status.AsString() != "failed" || dp.Value != 1 {
				t.Errorf("users runs = %d status %s, want 1 failed", dp.Value, status.AsString())
			}
		}
	}

	items := sums["worksync.sync.items"]
	if len(items) != 1 || items[0].Value != 15 {
		t.Errorf("items = %+v, want a single series of 15", items)
	}

	errs := sums["worksync.sync.record_errors"]
	if len(errs) != 1 || errs[0].Value != 1 {
		t.Errorf("record_errors = %+v, want 1", errs)
	}
}

func TestSyncMetrics_NilIsNoop(t *testing.T) {
	var m *SyncMetrics
	m.RecordRun(context.Background(), "users", "completed", 3, 0)
}

func TestInit_Disabled(t *testing.T) {
	if err := Init(context.Background(), Options{}); err != nil {
		t.Fatalf("Init (disabled) failed: %v", err)
	}
	if _, err := NewSyncMetrics(nil); err != nil {
		t.Fatalf("NewSyncMetrics on noop provider failed: %v", err)
	}
	Shutdown(context.Background())
}

func TestInit_EnabledWithReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	if err := Init(context.Background(), Options{Enabled: true, Reader: reader}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Shutdown(context.Background())

	m, err := NewSyncMetrics(nil)
	if err != nil {
		t.Fatalf("NewSyncMetrics failed: %v", err)
	}
	m.RecordRun(context.Background(), "projects", "completed", 4, 0)

	if got := collectSums(t, reader)["worksync.sync.items"]; len(got) != 1 || got[0].Value != 4 {
		t.Errorf("items = %+v, want 4", got)
	}
}
