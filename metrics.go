package goOnboard

import internalmetrics "github.com/MrEthical07/goOnboard/internal/metrics"

// MetricID identifies one coordinator counter.
type MetricID = internalmetrics.ID

const (
	MetricSessionCreated   = internalmetrics.SessionCreated
	MetricTransition       = internalmetrics.Transition
	MetricSuppressed       = internalmetrics.Suppressed
	MetricStateConflict    = internalmetrics.StateConflict
	MetricValidationFailed = internalmetrics.ValidationFailed
	MetricSessionExpired   = internalmetrics.SessionExpired
	MetricCodeIssued       = internalmetrics.CodeIssued
	MetricVerifyFailed     = internalmetrics.VerifyFailed
	MetricVerifyLockout    = internalmetrics.VerifyLockout
	MetricVerified         = internalmetrics.Verified
	MetricRateLimited      = internalmetrics.RateLimited
	MetricCancelled        = internalmetrics.Cancelled
	MetricRestarted        = internalmetrics.Restarted
	MetricLockTimeout      = internalmetrics.LockTimeout
	MetricActionFailed     = internalmetrics.ActionFailed
	MetricSystemError      = internalmetrics.SystemError
	MetricHandleLatency    = internalmetrics.HandleLatency
)

// MetricHistogramBuckets is the number of HandleLatency buckets.
const MetricHistogramBuckets = internalmetrics.HistogramBuckets

// Metrics holds the coordinator counters.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics builds a standalone Metrics instance.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Enabled,
		EnableLatencyHistograms: cfg.EnableLatencyHistograms,
	})
}
