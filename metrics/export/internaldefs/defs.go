package internaldefs

import (
	goAuthz "github.com/MrEthical07/goAuthz"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goAuthz.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   goAuthz.MetricID
	Name string
	Help string
}

// GaugeDef names one point-in-time value read from the permission cache.
type GaugeDef struct {
	Name  string
	Help  string
	Value func(goAuthz.CacheStats) float64
}

const (
	AuditDroppedName = "goauthz_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

var CounterDefs = []CounterDef{
	{ID: goAuthz.MetricLoginSuccess, Name: "goauthz_login_success_total", Help: "Successful login attempts."},
	{ID: goAuthz.MetricLoginFailure, Name: "goauthz_login_failure_total", Help: "Failed login attempts."},
	{ID: goAuthz.MetricLoginRateLimited, Name: "goauthz_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: goAuthz.MetricRefreshSuccess, Name: "goauthz_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: goAuthz.MetricRefreshFailure, Name: "goauthz_refresh_failure_total", Help: "Failed refresh token rotations."},
	{ID: goAuthz.MetricRefreshReuseDetected, Name: "goauthz_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: goAuthz.MetricRefreshRateLimited, Name: "goauthz_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: goAuthz.MetricSessionCreated, Name: "goauthz_session_created_total", Help: "Created sessions."},
	{ID: goAuthz.MetricSessionInvalidated, Name: "goauthz_session_invalidated_total", Help: "Sessions revoked by reuse detection."},
	{ID: goAuthz.MetricLogout, Name: "goauthz_logout_total", Help: "Single-session logout operations."},
	{ID: goAuthz.MetricLogoutAll, Name: "goauthz_logout_all_total", Help: "Logout-all operations."},
	{ID: goAuthz.MetricAuthorizeAllowed, Name: "goauthz_authorize_allowed_total", Help: "Authorization checks that allowed the request."},
	{ID: goAuthz.MetricAuthorizeDenied, Name: "goauthz_authorize_denied_total", Help: "Authorization checks denied for a missing permission."},
	{ID: goAuthz.MetricAuthorizeSuperuserBypass, Name: "goauthz_authorize_superuser_bypass_total", Help: "Authorization checks allowed by superuser bypass."},
	{ID: goAuthz.MetricAuthorizeScopeDenied, Name: "goauthz_authorize_scope_denied_total", Help: "Authorization checks denied by own scope."},
	{ID: goAuthz.MetricAuthorizeFieldRejected, Name: "goauthz_authorize_field_rejected_total", Help: "Authorization checks denied by a field policy."},
	{ID: goAuthz.MetricCacheRebuilt, Name: "goauthz_permission_cache_rebuilt_total", Help: "Permission cache rebuilds that published a snapshot."},
	{ID: goAuthz.MetricCacheSkipped, Name: "goauthz_permission_cache_skipped_total", Help: "Refresh cycles that found the cache clean."},
	{ID: goAuthz.MetricCacheSuppressed, Name: "goauthz_permission_cache_suppressed_total", Help: "Refresh cycles suppressed by an in-flight cycle."},
	{ID: goAuthz.MetricCacheRefreshFailure, Name: "goauthz_permission_cache_refresh_failure_total", Help: "Refresh cycles that failed and kept the previous snapshot."},
	{ID: goAuthz.MetricCacheClearConflict, Name: "goauthz_permission_cache_clear_conflict_total", Help: "Dirty flags left set because a mutation landed during a rebuild."},
	{ID: goAuthz.MetricCacheMarkFailure, Name: "goauthz_permission_cache_mark_failure_total", Help: "Mutations that could not mark the cache dirty."},
}

var HistogramDefs = []HistogramDef{
	{ID: goAuthz.MetricValidateLatency, Name: "goauthz_validate_latency_seconds", Help: "Access token validation latency."},
	{ID: goAuthz.MetricAuthorizeLatency, Name: "goauthz_authorize_latency_seconds", Help: "Authorization decision latency."},
	{ID: goAuthz.MetricCacheRebuildLatency, Name: "goauthz_permission_cache_rebuild_seconds", Help: "Permission cache rebuild latency."},
}

var GaugeDefs = []GaugeDef{
	{
		Name:  "goauthz_permission_cache_entries",
		Help:  "Effective permission entries in the published snapshot.",
		Value: func(s goAuthz.CacheStats) float64 { return float64(s.Entries) },
	},
	{
		Name:  "goauthz_permission_cache_version",
		Help:  "Version of the published snapshot.",
		Value: func(s goAuthz.CacheStats) float64 { return float64(s.Version) },
	},
	{
		Name: "goauthz_permission_cache_built_timestamp_seconds",
		Help: "Unix time the published snapshot was built.",
		Value: func(s goAuthz.CacheStats) float64 {
			if s.BuiltAt.IsZero() {
				return 0
			}
			return float64(s.BuiltAt.UnixNano()) / 1e9
		},
	},
}

// HistogramUpperBounds are the bucket limits in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
