package otel

import (
	"context"
	"sync"
	"testing"

	goAuthz "github.com/MrEthical07/goAuthz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goAuthz.MetricsSnapshot
	dropped  uint64
	stats    goAuthz.CacheStats
}

func (f *fakeSource) MetricsSnapshot() goAuthz.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goAuthz.MetricsSnapshot{
		Counters:   make(map[goAuthz.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goAuthz.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) CacheStats() goAuthz.CacheStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stats
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collectNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: goAuthz.MetricsSnapshot{
			Counters: map[goAuthz.MetricID]uint64{
				goAuthz.MetricAuthorizeDenied: 3,
			},
			Histograms: map[goAuthz.MetricID][]uint64{
				goAuthz.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
		stats:   goAuthz.CacheStats{Version: 2, Entries: 5},
	}

	exp, err := NewExporterFromSource(provider.Meter("goauthz-test"), src)
	require.NoError(t, err)
	defer func() { assert.NoError(t, exp.Close()) }()

	got := collectNames(t, reader)

	denied, ok := got["goauthz_authorize_denied_total"]
	require.True(t, ok)
	sum, ok := denied.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)

	count, ok := got["goauthz_validate_latency_seconds_count"]
	require.True(t, ok)
	gauge, ok := count.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Equal(t, int64(8), gauge.DataPoints[0].Value)

	entries, ok := got["goauthz_permission_cache_entries"]
	require.True(t, ok)
	fg, ok := entries.Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	assert.Equal(t, float64(5), fg.DataPoints[0].Value)

	assert.Contains(t, got, "goauthz_audit_dropped_total")
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()

	_, err := NewExporterFromSource(provider.Meter("goauthz-test"), nil)
	assert.ErrorIs(t, err, ErrNilSource)
	_, err = NewExporterFromSource(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: goAuthz.MetricsSnapshot{
			Counters:   map[goAuthz.MetricID]uint64{goAuthz.MetricLoginSuccess: 1},
			Histograms: map[goAuthz.MetricID][]uint64{},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("goauthz-test"), src)
	require.NoError(t, err)
	defer func() { assert.NoError(t, exp.Close()) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goAuthz.MetricLoginSuccess] = v
			src.stats.Version = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
