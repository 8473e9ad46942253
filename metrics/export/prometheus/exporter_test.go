package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goAuthz "github.com/MrEthical07/goAuthz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot goAuthz.MetricsSnapshot
	dropped  uint64
	stats    goAuthz.CacheStats
}

func (f fakeSource) MetricsSnapshot() goAuthz.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }
func (f fakeSource) CacheStats() goAuthz.CacheStats           { return f.stats }

func gather(t *testing.T, src metricsSource) map[string]float64 {
	t.Helper()
	exp, err := NewExporterFromSource(src)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(exp))
	families, err := reg.Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[mf.GetName()+"_count"] = float64(m.GetHistogram().GetSampleCount())
				for _, b := range m.GetHistogram().GetBucket() {
					if b.GetUpperBound() == 0.005 {
						out[mf.GetName()+"_first_bucket"] = float64(b.GetCumulativeCount())
					}
				}
			}
		}
	}
	return out
}

func TestCollectOmitsCountersWhenDisabled(t *testing.T) {
	got := gather(t, fakeSource{
		snapshot: goAuthz.MetricsSnapshot{
			Counters:   map[goAuthz.MetricID]uint64{},
			Histograms: map[goAuthz.MetricID][]uint64{},
		},
	})

	assert.NotContains(t, got, "goauthz_login_success_total")
	assert.Contains(t, got, "goauthz_permission_cache_entries")
	assert.Equal(t, float64(0), got["goauthz_audit_dropped_total"])
}

func TestCollectCountersHistogramsAndGauges(t *testing.T) {
	built := time.Unix(1_700_000_000, 0)
	got := gather(t, fakeSource{
		snapshot: goAuthz.MetricsSnapshot{
			Counters: map[goAuthz.MetricID]uint64{
				goAuthz.MetricLoginSuccess:     7,
				goAuthz.MetricAuthorizeAllowed: 3,
			},
			Histograms: map[goAuthz.MetricID][]uint64{
				goAuthz.MetricAuthorizeLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
		stats:   goAuthz.CacheStats{Version: 4, Entries: 12, BuiltAt: built},
	})

	assert.Equal(t, float64(7), got["goauthz_login_success_total"])
	assert.Equal(t, float64(3), got["goauthz_authorize_allowed_total"])
	assert.Equal(t, float64(36), got["goauthz_authorize_latency_seconds_count"])
	assert.Equal(t, float64(1), got["goauthz_authorize_latency_seconds_first_bucket"])
	assert.Equal(t, float64(2), got["goauthz_audit_dropped_total"])
	assert.Equal(t, float64(12), got["goauthz_permission_cache_entries"])
	assert.Equal(t, float64(4), got["goauthz_permission_cache_version"])
	assert.InDelta(t, 1_700_000_000, got["goauthz_permission_cache_built_timestamp_seconds"], 0.001)
}

func TestHandlerServesExposition(t *testing.T) {
	exp, err := NewExporterFromSource(fakeSource{
		snapshot: goAuthz.MetricsSnapshot{
			Counters:   map[goAuthz.MetricID]uint64{goAuthz.MetricLoginSuccess: 1},
			Histograms: map[goAuthz.MetricID][]uint64{},
		},
	})
	require.NoError(t, err)
	h, err := exp.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "goauthz_login_success_total 1")
}

func TestNilSourceRejected(t *testing.T) {
	_, err := NewExporterFromSource(nil)
	assert.ErrorIs(t, err, ErrNilSource)
	_, err = NewExporter(nil)
	assert.ErrorIs(t, err, ErrNilSource)
}
