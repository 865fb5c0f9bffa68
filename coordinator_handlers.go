package goOnboard

import (
	"context"
	"errors"
	"strings"
	"time"

	internalmetrics "github.com/MrEthical07/goOnboard/internal/metrics"
	"github.com/MrEthical07/goOnboard/internal/verification"
	"github.com/MrEthical07/goOnboard/session"
	"github.com/MrEthical07/goOnboard/step"
)

// actionHandler applies one legal transition to f.state. It must leave the
// state untouched when it returns an error.
type actionHandler func(ctx context.Context, f *flow) error

func (c *Coordinator) handlerMap() map[step.Action]actionHandler {
	return map[step.Action]actionHandler{
		step.ActionStart:       c.handleStart,
		step.ActionSubmitInput: c.handleSubmitInput,
		step.ActionResendCode:  c.handleResendCode,
		step.ActionChangeInput: c.handleChangeInput,
		step.ActionVerifyCode:  c.handleVerifyCode,
		step.ActionCancel:      c.handleCancel,
		step.ActionRestart:     c.handleRestart,
	}
}

func (c *Coordinator) handleStart(_ context.Context, f *flow) error {
	f.state.CurrentStep = f.edge.To
	return nil
}

func (c *Coordinator) handleSubmitInput(ctx context.Context, f *flow) error {
	input, err := c.validate(strings.TrimSpace(f.ev.Payload))
	if err != nil {
		return newError(KindValidation, f.op, ErrInvalidInput, err)
	}
	expiresAt, err := c.sendCode(ctx, f, input)
	if err != nil {
		return err
	}
	f.state.Context.Set(session.KeyInput, input)
	f.state.Context.Set(session.KeyCodeExpiresAt, expiresAt.UTC().Format(time.RFC3339))
	f.state.CurrentStep = f.edge.To
	return nil
}

func (c *Coordinator) handleResendCode(ctx context.Context, f *flow) error {
	input, ok := f.state.Context.Get(session.KeyInput)
	if !ok {
		return newError(KindStateConflict, f.op, ErrStateConflict, errors.New("no input captured"))
	}
	expiresAt, err := c.sendCode(ctx, f, input)
	if err != nil {
		return err
	}
	f.state.Context.Set(session.KeyCodeExpiresAt, expiresAt.UTC().Format(time.RFC3339))
	f.state.CurrentStep = f.edge.To
	return nil
}

// handleChangeInput returns to input capture. The previous input stays in the
// context until a new one is submitted.
func (c *Coordinator) handleChangeInput(_ context.Context, f *flow) error {
	f.state.CurrentStep = f.edge.To
	f.state.RetryCount++
	f.state.Context.Delete(session.KeyCodeExpiresAt)
	return nil
}

func (c *Coordinator) handleVerifyCode(ctx context.Context, f *flow) error {
	code := strings.TrimSpace(f.ev.Payload)
	if code == "" {
		return newError(KindValidation, f.op, ErrInvalidInput, errors.New("code is required"))
	}

	res, err := c.verifier.Verify(ctx, f.ev.EntityID, c.cfg.Verification.Purpose, code, f.sourceID)
	if err != nil {
		return &Error{Kind: KindSystem, Op: f.op, Err: err}
	}

	switch res.Reason {
	case verification.ReasonVerified:
	case verification.ReasonAlreadyVerified:
		// A used code never completes a second attempt; resend_code issues a fresh one.
		return newError(KindExpired, f.op, ErrCodeExpired, errors.New("code already used"))
	case verification.ReasonMismatch:
		e := newError(KindValidation, f.op, ErrCodeMismatch, nil)
		e.RemainingAttempts = res.RemainingAttempts
		e.RetryAfter = res.Lockout
		return e
	case verification.ReasonLimited:
		c.metrics.Inc(internalmetrics.RateLimited)
		e := newError(KindRateLimited, f.op, ErrRateLimited, nil)
		e.RetryAfter = res.Lockout
		return e
	case verification.ReasonAttemptsExhausted:
		e := newError(KindExpired, f.op, ErrCodeExpired, errors.New("attempts exhausted"))
		e.RetryAfter = res.Lockout
		return e
	default:
		return newError(KindExpired, f.op, ErrCodeExpired, errors.New(res.Reason.String()))
	}

	input, _ := f.state.Context.Get(session.KeyInput)
	if err := c.execute(ctx, f, ActionFinalize, map[string]string{"input": input}); err != nil {
		return err
	}
	f.state.CurrentStep = f.edge.To
	f.state.Context.Set(session.KeyVerifiedAt, c.now().UTC().Format(time.RFC3339))
	f.state.Context.Delete(session.KeyCodeExpiresAt)
	return nil
}

func (c *Coordinator) handleCancel(ctx context.Context, f *flow) error {
	if !f.created {
		if err := c.repo.Delete(ctx, f.ev.EntityID); err != nil {
			return newError(KindSystem, f.op, ErrRepository, err)
		}
	}
	f.state.CurrentStep = f.edge.To
	f.skipPersist = true
	f.cancelled = true
	c.metrics.Inc(internalmetrics.Cancelled)
	c.emitAudit(ctx, "onboard_cancelled", f, true, nil, nil)
	return nil
}

// handleRestart replaces a finished session with a new instance.
func (c *Coordinator) handleRestart(ctx context.Context, f *flow) error {
	next := session.New(f.ev.EntityID, c.now(), c.cfg.Session.TTL)
	next.CurrentStep = f.edge.To
	f.state = next
	f.created = true
	c.metrics.Inc(internalmetrics.Restarted)
	c.emitAudit(ctx, "onboard_restarted", f, true, nil, nil)
	return nil
}

// sendCode issues a code for the entity and hands it to the executor.
func (c *Coordinator) sendCode(ctx context.Context, f *flow, input string) (time.Time, error) {
	issued, err := c.verifier.Issue(ctx, f.ev.EntityID, c.cfg.Verification.Purpose)
	if err != nil {
		var limited *verification.IssueLimitedError
		if errors.As(err, &limited) {
			c.metrics.Inc(internalmetrics.RateLimited)
			e := newError(KindRateLimited, f.op, ErrRateLimited, err)
			e.RetryAfter = limited.RetryAfter
			return time.Time{}, e
		}
		return time.Time{}, &Error{Kind: KindSystem, Op: f.op, Err: err}
	}
	if err := c.execute(ctx, f, ActionSendCode, map[string]string{"input": input, "code": issued.Code}); err != nil {
		return time.Time{}, err
	}
	return issued.ExpiresAt, nil
}

func (c *Coordinator) execute(ctx context.Context, f *flow, name string, payload map[string]string) error {
	res := c.executor.Execute(ctx, ActionRequest{
		Name:       name,
		EntityID:   f.ev.EntityID,
		InstanceID: f.state.InstanceID,
		Payload:    payload,
	})
	if res.Success {
		return nil
	}
	cause := res.Err
	if cause == nil {
		cause = errors.New(name + " reported failure")
	}
	return newError(KindAction, f.op, ErrActionFailed, cause)
}
