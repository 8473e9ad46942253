package goAuthz

import (
	internalmetrics "github.com/MrEthical07/goAuthz/internal/metrics"
)

type (
	MetricID        = internalmetrics.MetricID
	Metrics         = internalmetrics.Metrics
	MetricsSnapshot = internalmetrics.Snapshot
	MetricsConfig   = internalmetrics.Config
)

const (
	MetricLoginSuccess             = internalmetrics.MetricLoginSuccess
	MetricLoginFailure             = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited         = internalmetrics.MetricLoginRateLimited
	MetricRefreshSuccess           = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure           = internalmetrics.MetricRefreshFailure
	MetricRefreshReuseDetected     = internalmetrics.MetricRefreshReuseDetected
	MetricRefreshRateLimited       = internalmetrics.MetricRefreshRateLimited
	MetricSessionCreated           = internalmetrics.MetricSessionCreated
	MetricSessionInvalidated       = internalmetrics.MetricSessionInvalidated
	MetricLogout                   = internalmetrics.MetricLogout
	MetricLogoutAll                = internalmetrics.MetricLogoutAll
	MetricAuthorizeAllowed         = internalmetrics.MetricAuthorizeAllowed
	MetricAuthorizeDenied          = internalmetrics.MetricAuthorizeDenied
	MetricAuthorizeSuperuserBypass = internalmetrics.MetricAuthorizeSuperuserBypass
	MetricAuthorizeScopeDenied     = internalmetrics.MetricAuthorizeScopeDenied
	MetricAuthorizeFieldRejected   = internalmetrics.MetricAuthorizeFieldRejected
	MetricCacheRebuilt             = internalmetrics.MetricCacheRebuilt
	MetricCacheSkipped             = internalmetrics.MetricCacheSkipped
	MetricCacheSuppressed          = internalmetrics.MetricCacheSuppressed
	MetricCacheRefreshFailure      = internalmetrics.MetricCacheRefreshFailure
	MetricCacheClearConflict       = internalmetrics.MetricCacheClearConflict
	MetricCacheMarkFailure         = internalmetrics.MetricCacheMarkFailure
	MetricValidateLatency          = internalmetrics.MetricValidateLatency
	MetricAuthorizeLatency         = internalmetrics.MetricAuthorizeLatency
	MetricCacheRebuildLatency      = internalmetrics.MetricCacheRebuildLatency
)

// NewMetrics returns a metrics registry. A disabled registry records nothing
// and snapshots as empty.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(cfg)
}
