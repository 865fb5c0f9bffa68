package goOnboard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	internalaudit "github.com/MrEthical07/goOnboard/internal/audit"
	"github.com/MrEthical07/goOnboard/internal/cache"
	"github.com/MrEthical07/goOnboard/internal/idempotency"
	internalmetrics "github.com/MrEthical07/goOnboard/internal/metrics"
	"github.com/MrEthical07/goOnboard/internal/verification"
	"github.com/MrEthical07/goOnboard/resume"
	"github.com/MrEthical07/goOnboard/session"
	"github.com/MrEthical07/goOnboard/step"
	"github.com/rs/zerolog"
)

// Coordinator drives onboarding sessions. Events for one entity are handled one
// at a time; events for different entities never wait on each other.
type Coordinator struct {
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	repo     session.Repository
	machine  *step.Machine
	guard    *idempotency.Guard[Result]
	verifier *verification.Guard
	states   *cache.Cache[string, *session.State]
	executor ActionExecutor
	validate InputValidator
	resume   *resume.Manager
	handlers map[step.Action]actionHandler

	metrics *internalmetrics.Metrics
	audit   *internalaudit.Dispatcher

	closers   []func() error
	closed    atomic.Bool
	closeOnce sync.Once
}

// flow is the per-event working set shared by the lifecycle and the handlers.
type flow struct {
	ev        Event
	op        string
	sourceID  string
	requestID string

	state   *session.State
	from    step.Step
	edge    step.Edge
	created bool
	expired bool

	// skipPersist is set by handlers that remove the session instead of saving it.
	skipPersist bool
	cancelled   bool
}

// Handle applies ev to the entity's session and returns the result for the
// presentation layer. Failures are *Error values; expected kinds never change
// persisted state.
func (c *Coordinator) Handle(ctx context.Context, ev Event) (*Result, error) {
	if c == nil || c.closed.Load() {
		return nil, &Error{Kind: KindSystem, Op: "handle", Err: ErrEngineNotReady}
	}
	start := time.Now()
	defer func() { c.metrics.Observe(internalmetrics.HandleLatency, time.Since(start)) }()

	f := &flow{
		ev:        ev,
		op:        ev.Action.String(),
		sourceID:  sourceIDFromContext(ctx),
		requestID: requestIDFromContext(ctx),
	}
	f.ev.EntityID = strings.TrimSpace(ev.EntityID)
	if f.ev.EntityID == "" {
		return nil, c.fail(ctx, f, newError(KindValidation, f.op, ErrInvalidEvent, errors.New("entity id is required")))
	}
	if !ev.Action.Valid() {
		return nil, c.fail(ctx, f, newError(KindValidation, "handle", ErrUnknownAction, nil))
	}

	var res *Result
	err := c.guard.WithLock(ctx, f.ev.EntityID, func(ctx context.Context) error {
		var err error
		res, err = c.handleLocked(ctx, f)
		return err
	})
	if err == nil {
		return res, nil
	}

	var e *Error
	switch {
	case errors.As(err, &e):
	case errors.Is(err, idempotency.ErrLockTimeout):
		e = newError(KindLockTimeout, f.op, ErrLockTimeout, err)
	default:
		e = &Error{Kind: KindSystem, Op: f.op, Err: err}
	}
	return nil, c.fail(ctx, f, e)
}

func (c *Coordinator) handleLocked(ctx context.Context, f *flow) (*Result, error) {
	if err := c.resolve(ctx, f); err != nil {
		return nil, err
	}
	f.from = f.state.CurrentStep

	variant, suppressible := suppressionVariant(f.ev.Action)
	match := idempotency.MatchNone
	if suppressible {
		sig := idempotency.Signature(f.state.InstanceID, f.from.String(), variant, salientValue(f.ev, f.state))
		var prior Result
		match, prior = c.guard.Lookup(f.ev.EntityID, sig)
		if match == idempotency.MatchFresh {
			out := prior.clone()
			out.Suppressed = true
			out.Created = false
			c.metrics.Inc(internalmetrics.Suppressed)
			c.emitAudit(ctx, "onboard_suppressed", f, true, nil, nil)
			return out, nil
		}
	}

	edge, err := c.machine.Next(f.from, f.ev.Action)
	if err != nil {
		switch {
		case match == idempotency.MatchStale:
			// A late duplicate of an already applied action: show where the
			// session is now instead of reporting a conflict.
			out := c.result(f.state)
			out.Rerendered = true
			return out, nil
		case f.expired:
			return nil, newError(KindExpired, f.op, ErrSessionExpired, err)
		default:
			return nil, newError(KindStateConflict, f.op, ErrStateConflict, err)
		}
	}
	f.edge = edge

	if err := c.handlers[f.ev.Action](ctx, f); err != nil {
		return nil, err
	}

	if f.skipPersist {
		c.states.Delete(f.ev.EntityID)
		out := c.result(f.state)
		out.Cancelled = f.cancelled
		out.ResumeToken = ""
		return out, nil
	}

	now := c.now()
	f.state.UpdatedAt = now
	f.state.ExpiresAt = now.Add(c.cfg.Session.TTL)
	if err := c.repo.Save(ctx, f.state); err != nil {
		return nil, newError(KindSystem, f.op, ErrRepository, err)
	}
	c.states.Delete(f.ev.EntityID)

	out := c.result(f.state)
	out.Created = f.created
	if suppressible {
		sig := idempotency.Signature(f.state.InstanceID, f.state.CurrentStep.String(), variant, salientValue(f.ev, f.state))
		c.guard.RecordExecution(f.ev.EntityID, sig, *out.clone())
	}

	if f.created {
		c.metrics.Inc(internalmetrics.SessionCreated)
		c.emitAudit(ctx, "onboard_session_created", f, true, nil, nil)
	}
	c.metrics.Inc(internalmetrics.Transition)
	c.emitAudit(ctx, "onboard_transition", f, true, nil, func() map[string]string {
		return map[string]string{
			"from": f.from.String(),
			"to":   f.state.CurrentStep.String(),
			"edge": f.edge.Kind.String(),
		}
	})
	c.logger.Debug().
		Str("entity_id", f.ev.EntityID).
		Str("instance_id", f.state.InstanceID).
		Str("action", f.op).
		Str("from", f.from.String()).
		Str("to", f.state.CurrentStep.String()).
		Msg("transition")
	return out, nil
}

// resolve loads the entity's session or prepares a fresh one. Expired sessions
// are deleted here; the fresh session is saved only if the event succeeds.
func (c *Coordinator) resolve(ctx context.Context, f *flow) error {
	st, err := c.repo.Load(ctx, f.ev.EntityID)
	switch {
	case errors.Is(err, session.ErrNotFound):
	case err != nil:
		return newError(KindSystem, f.op, ErrRepository, err)
	case st.Expired(c.now()):
		if err := c.repo.Delete(ctx, f.ev.EntityID); err != nil {
			return newError(KindSystem, f.op, ErrRepository, err)
		}
		c.states.Delete(f.ev.EntityID)
		c.metrics.Inc(internalmetrics.SessionExpired)
		f.expired = true
	default:
		f.state = st
		return nil
	}

	f.state = session.New(f.ev.EntityID, c.now(), c.cfg.Session.TTL)
	f.state.CurrentStep = c.machine.Initial()
	f.created = true
	return nil
}

// suppressionVariant names the duplicate class of an action. verify_code,
// cancel and restart are never suppressed.
func suppressionVariant(a step.Action) (string, bool) {
	switch a {
	case step.ActionStart:
		return "render", true
	case step.ActionSubmitInput:
		return "default", true
	case step.ActionResendCode:
		return "resend", true
	case step.ActionChangeInput:
		return "change", true
	default:
		return "", false
	}
}

func salientValue(ev Event, st *session.State) string {
	if ev.Action == step.ActionSubmitInput {
		return ev.Payload
	}
	v, _ := st.Context.Get(session.KeyInput)
	return v
}

// Session returns the entity's live session, served from the read cache when
// possible. A missing or expired session is a KindExpired error.
func (c *Coordinator) Session(ctx context.Context, entityID string) (*Result, error) {
	if c == nil || c.closed.Load() {
		return nil, &Error{Kind: KindSystem, Op: "session", Err: ErrEngineNotReady}
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, newError(KindValidation, "session", ErrInvalidEvent, errors.New("entity id is required"))
	}

	now := c.now()
	if st, ok := c.states.Get(entityID); ok && !st.Expired(now) {
		return c.result(st), nil
	}

	st, err := c.repo.Load(ctx, entityID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, newError(KindExpired, "session", ErrSessionExpired, nil)
	}
	if err != nil {
		e := newError(KindSystem, "session", ErrRepository, err)
		c.logSystemError(ctx, e, entityID, "")
		return nil, e
	}
	if st.Expired(now) {
		return nil, newError(KindExpired, "session", ErrSessionExpired, nil)
	}
	c.states.Set(entityID, st.Clone(), 0)
	return c.result(st), nil
}

// Resume validates a resume token and returns the session it was issued for.
// Tokens for a replaced instance are rejected as expired.
func (c *Coordinator) Resume(ctx context.Context, token string) (*Result, error) {
	if c == nil || c.closed.Load() {
		return nil, &Error{Kind: KindSystem, Op: "resume", Err: ErrEngineNotReady}
	}
	if c.resume == nil {
		return nil, newError(KindValidation, "resume", ErrInvalidEvent, errors.New("resume tokens are disabled"))
	}
	claims, err := c.resume.Parse(strings.TrimSpace(token))
	if errors.Is(err, resume.ErrTokenExpired) {
		return nil, newError(KindExpired, "resume", ErrSessionExpired, err)
	}
	if err != nil {
		return nil, newError(KindValidation, "resume", ErrInvalidEvent, err)
	}

	res, err := c.Session(ctx, claims.EntityID)
	if err != nil {
		return nil, err
	}
	if res.InstanceID != claims.InstanceID {
		return nil, newError(KindExpired, "resume", ErrSessionExpired, errors.New("session instance was replaced"))
	}
	return res, nil
}

func (c *Coordinator) result(st *session.State) *Result {
	r := &Result{
		EntityID:   st.EntityID,
		InstanceID: st.InstanceID,
		Step:       st.CurrentStep,
		RetryCount: st.RetryCount,
		ExpiresAt:  st.ExpiresAt,
		Allowed:    c.machine.Allowed(st.CurrentStep),
	}
	if st.Context != nil {
		for _, k := range st.Context.Keys() {
			v, _ := st.Context.Get(k)
			r.Context = append(r.Context, ContextEntry{Key: k, Value: v})
		}
	}
	if c.resume != nil {
		tok, err := c.resume.Issue(st.EntityID, st.InstanceID, st.CurrentStep.String())
		if err != nil {
			c.logger.Warn().Err(err).Str("entity_id", st.EntityID).Msg("resume token not issued")
		} else {
			r.ResumeToken = tok
		}
	}
	return r
}

// Close stops background work, flushes pending audit events and closes
// resources opened by Build. It is safe to call more than once.
func (c *Coordinator) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.closeResources()
	})
	return err
}

func (c *Coordinator) closeResources() error {
	c.audit.Close()
	if c.guard != nil {
		c.guard.Close()
	}
	if c.states != nil {
		c.states.Close()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// MetricsSnapshot returns a copy of all counters.
func (c *Coordinator) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return internalmetrics.Snapshot{}
	}
	return c.metrics.Snapshot()
}

// AuditDropped reports audit events discarded because the buffer was full.
func (c *Coordinator) AuditDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.audit.Dropped()
}
