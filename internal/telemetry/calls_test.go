package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestCallInstrumentsCountOutcomes(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(ctx)

	ci := NewCallInstruments(mp, tracenoop.NewTracerProvider())

	c, span, began := ci.Start(ctx, "reserve_task")
	ci.End(c, span, began, "reserve_task", "", nil)

	c, span, began = ci.Start(ctx, "reserve_task")
	ci.End(c, span, began, "reserve_task", "conflict", nil)

	c, span, began = ci.Start(ctx, "complete_task")
	ci.End(c, span, began, "complete_task", "", errors.New("disk I/O error"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(3), sumOf(t, rm, "planline.tool.calls"))
	assert.Equal(t, int64(1), sumOf(t, rm, "planline.tool.conflicts"))
	assert.Equal(t, int64(1), sumOf(t, rm, "planline.tool.errors"))
}

func TestInitDisabledInstallsNoop(t *testing.T) {
	require.NoError(t, Init(context.Background(), Options{}))
	ci := NewCallInstruments(nil, nil)
	ctx, span, began := ci.Start(context.Background(), "noop")
	ci.End(ctx, span, began, "noop", "", nil)
	Shutdown(context.Background())
}
