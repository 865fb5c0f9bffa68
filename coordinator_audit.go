package goOnboard

import (
	"context"
	"strconv"

	"github.com/MrEthical07/goOnboard/internal"
	internalaudit "github.com/MrEthical07/goOnboard/internal/audit"
	internalmetrics "github.com/MrEthical07/goOnboard/internal/metrics"
	"github.com/MrEthical07/goOnboard/internal/verification"
)

// emitAudit sends one event to the dispatcher. metadata is only evaluated when
// auditing is enabled.
func (c *Coordinator) emitAudit(ctx context.Context, eventType string, f *flow, success bool, err error, metadata func() map[string]string) {
	if c.audit == nil {
		return
	}

	event := internalaudit.Event{
		Timestamp: c.now(),
		EventType: eventType,
		Success:   success,
	}
	if f != nil {
		event.EntityID = f.ev.EntityID
		event.Action = f.op
		event.RequestID = f.requestID
		if f.sourceID != "" {
			event.SourceID = internal.HashSourceID(f.sourceID)
		}
		if f.state != nil {
			event.InstanceID = f.state.InstanceID
			event.Step = f.state.CurrentStep.String()
		}
	}
	if err != nil {
		event.Error = err.Error()
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	c.audit.Emit(ctx, event)
}

// fail records a failed event and returns e. Expected outcomes are counted and
// audited; only system failures are logged at error level.
func (c *Coordinator) fail(ctx context.Context, f *flow, e *Error) error {
	switch e.Kind {
	case KindValidation:
		c.metrics.Inc(internalmetrics.ValidationFailed)
	case KindStateConflict:
		c.metrics.Inc(internalmetrics.StateConflict)
		c.emitAudit(ctx, "onboard_state_conflict", f, false, e, nil)
	case KindLockTimeout:
		c.metrics.Inc(internalmetrics.LockTimeout)
		c.emitAudit(ctx, "onboard_lock_timeout", f, false, e, nil)
		c.logger.Warn().
			Str("entity_id", f.ev.EntityID).
			Str("action", f.op).
			Str("request_id", f.requestID).
			Msg("entity lock timeout")
	case KindAction:
		c.metrics.Inc(internalmetrics.ActionFailed)
		c.emitAudit(ctx, "onboard_action_failed", f, false, e, nil)
		c.logger.Warn().Err(e.Err).
			Str("entity_id", f.ev.EntityID).
			Str("action", f.op).
			Msg("action executor failed")
	case KindSystem:
		c.metrics.Inc(internalmetrics.SystemError)
		c.emitAudit(ctx, "onboard_system_error", f, false, e, nil)
		instanceID := ""
		if f.state != nil {
			instanceID = f.state.InstanceID
		}
		c.logSystemError(ctx, e, f.ev.EntityID, instanceID)
	}
	return e
}

func (c *Coordinator) logSystemError(ctx context.Context, e *Error, entityID, instanceID string) {
	c.logger.Error().Err(e.Err).
		Str("op", e.Op).
		Str("entity_id", entityID).
		Str("instance_id", instanceID).
		Str("request_id", requestIDFromContext(ctx)).
		Msg("onboarding system error")
}

// reportVerification turns code guard notifications into metrics and audit events.
func (c *Coordinator) reportVerification(ctx context.Context, ev verification.Event) {
	f := &flow{
		ev:        Event{EntityID: ev.Identity},
		sourceID:  ev.SourceID,
		requestID: requestIDFromContext(ctx),
	}
	switch ev.Kind {
	case verification.EventIssued:
		f.op = "issue_code"
		c.metrics.Inc(internalmetrics.CodeIssued)
		c.emitAudit(ctx, "onboard_code_issued", f, true, nil, nil)
	case verification.EventFailed:
		f.op = "verify_code"
		c.metrics.Inc(internalmetrics.VerifyFailed)
		c.emitAudit(ctx, "onboard_verify_failed", f, false, nil, func() map[string]string {
			return map[string]string{
				"reason":   ev.Reason.String(),
				"attempts": strconv.Itoa(ev.Attempts),
			}
		})
	case verification.EventLockout:
		f.op = "verify_code"
		c.metrics.Inc(internalmetrics.VerifyLockout)
		c.emitAudit(ctx, "onboard_verify_lockout", f, false, nil, func() map[string]string {
			return map[string]string{"lockout": ev.Lockout.String()}
		})
	case verification.EventVerified:
		f.op = "verify_code"
		c.metrics.Inc(internalmetrics.Verified)
		c.emitAudit(ctx, "onboard_verified", f, true, nil, nil)
	}
}
