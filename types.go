package goOnboard

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goOnboard/internal/audit"
	"github.com/MrEthical07/goOnboard/step"
	"github.com/rs/zerolog"
)

// Event is one external trigger for an entity: the caller (bot, API layer)
// translates its protocol into (entity, action, payload).
type Event struct {
	EntityID string
	Action   step.Action
	// Payload is the submitted input for submit_input and the code for
	// verify_code; other actions ignore it.
	Payload string
}

// Result is handed to the presentation layer after every handled event.
type Result struct {
	EntityID   string
	InstanceID string
	Step       step.Step
	// Context is a copy of the session context in insertion order.
	Context    []ContextEntry
	RetryCount int
	ExpiresAt  time.Time
	// Allowed lists the actions legal from Step.
	Allowed []step.Action

	// Suppressed marks a duplicate answered from the previous result.
	Suppressed bool
	// Rerendered marks a late duplicate answered with the current state
	// without applying a transition.
	Rerendered bool
	// Created is set when this event created the session.
	Created bool
	// Cancelled is set when the session was deleted by cancel.
	Cancelled bool

	// ResumeToken is set when resume tokens are enabled.
	ResumeToken string
}

// ContextEntry is one key/value pair of a session context.
type ContextEntry struct {
	Key   string
	Value string
}

// Value returns the context value for key.
func (r *Result) Value(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, e := range r.Context {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

func (r Result) clone() *Result {
	out := r
	out.Context = append([]ContextEntry(nil), r.Context...)
	out.Allowed = append([]step.Action(nil), r.Allowed...)
	return &out
}

// Executor action names.
const (
	ActionSendCode = "send_code"
	ActionFinalize = "finalize"
)

// ActionRequest is passed to the ActionExecutor.
type ActionRequest struct {
	Name       string
	EntityID   string
	InstanceID string
	// Payload for send_code holds "input" and "code"; for finalize it holds "input".
	Payload map[string]string
}

// ActionResult is returned by the ActionExecutor. A failed result is surfaced
// as a KindAction error wrapping Err.
type ActionResult struct {
	Success bool
	Err     error
}

// ActionExecutor runs business side effects such as delivering a code. It is
// called while the entity lock is held.
type ActionExecutor interface {
	Execute(ctx context.Context, req ActionRequest) ActionResult
}

// ActionExecutorFunc adapts a function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, req ActionRequest) ActionResult

func (f ActionExecutorFunc) Execute(ctx context.Context, req ActionRequest) ActionResult {
	return f(ctx, req)
}

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, ActionRequest) ActionResult {
	return ActionResult{Success: true}
}

// InputValidator validates and normalizes submitted input. It returns the value
// to store in the session context.
type InputValidator func(input string) (string, error)

// AuditEvent is the audit record emitted by the coordinator.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the coordinator's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON event per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// LoggerSink writes events through a zerolog logger.
type LoggerSink = internalaudit.LoggerSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewLoggerSink(logger zerolog.Logger) *LoggerSink {
	return internalaudit.NewLoggerSink(logger)
}
