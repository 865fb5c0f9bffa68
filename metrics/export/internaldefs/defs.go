package internaldefs

import (
	goOnboard "github.com/MrEthical07/goOnboard"
)

// CounterDef names one coordinator counter for exporters.
type CounterDef struct {
	ID   goOnboard.MetricID
	Name string
	Help string
}

// HistogramDef names one coordinator latency histogram for exporters.
type HistogramDef struct {
	ID   goOnboard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goOnboard.MetricSessionCreated, Name: "onboard_session_created_total", Help: "Sessions created by a first event, a restart or after expiry."},
	{ID: goOnboard.MetricTransition, Name: "onboard_transition_total", Help: "Persisted step transitions."},
	{ID: goOnboard.MetricSuppressed, Name: "onboard_suppressed_total", Help: "Duplicate events answered from the previous result."},
	{ID: goOnboard.MetricStateConflict, Name: "onboard_state_conflict_total", Help: "Events rejected as illegal from the current step."},
	{ID: goOnboard.MetricValidationFailed, Name: "onboard_validation_failed_total", Help: "Events rejected for malformed input or a wrong code."},
	{ID: goOnboard.MetricSessionExpired, Name: "onboard_session_expired_total", Help: "Expired sessions removed on access."},
	{ID: goOnboard.MetricCodeIssued, Name: "onboard_code_issued_total", Help: "Verification codes issued."},
	{ID: goOnboard.MetricVerifyFailed, Name: "onboard_verify_failed_total", Help: "Failed code verifications."},
	{ID: goOnboard.MetricVerifyLockout, Name: "onboard_verify_lockout_total", Help: "Verification lockouts started."},
	{ID: goOnboard.MetricVerified, Name: "onboard_verified_total", Help: "Successful code verifications."},
	{ID: goOnboard.MetricRateLimited, Name: "onboard_rate_limited_total", Help: "Events denied by an active rate limit."},
	{ID: goOnboard.MetricCancelled, Name: "onboard_cancelled_total", Help: "Sessions cancelled."},
	{ID: goOnboard.MetricRestarted, Name: "onboard_restarted_total", Help: "Finished sessions restarted."},
	{ID: goOnboard.MetricLockTimeout, Name: "onboard_lock_timeout_total", Help: "Events that timed out waiting for the entity lock."},
	{ID: goOnboard.MetricActionFailed, Name: "onboard_action_failed_total", Help: "Business actions reported as failed by the executor."},
	{ID: goOnboard.MetricSystemError, Name: "onboard_system_error_total", Help: "Events failed by storage or infrastructure errors."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goOnboard.MetricHandleLatency, Name: "onboard_handle_latency_seconds", Help: "Coordinator.Handle latency histogram."},
}

// HistogramBounds are the Prometheus "le" labels of the latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are the bucket suffixes used for OTel gauge names.
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

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [goOnboard.MetricHistogramBuckets]uint64 {
	var out [goOnboard.MetricHistogramBuckets]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [goOnboard.MetricHistogramBuckets]uint64) [goOnboard.MetricHistogramBuckets]uint64 {
	var out [goOnboard.MetricHistogramBuckets]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
