package session

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goOnboard/step"
	"github.com/google/uuid"
)

// ErrInvalidState is returned by State.Validate and by repositories refusing to
// persist a malformed session.
var ErrInvalidState = errors.New("invalid session state")

// State is one onboarding workflow instance for one entity. It refers to the
// entity by opaque id only.
type State struct {
	EntityID    string
	InstanceID  string
	CurrentStep step.Step
	Context     *Context

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time

	RetryCount int
}

// New returns a fresh state at step.CaptureInput with a new instance id.
func New(entityID string, now time.Time, ttl time.Duration) *State {
	return &State{
		EntityID:    entityID,
		InstanceID:  NewInstanceID(),
		CurrentStep: step.CaptureInput,
		Context:     NewContext(),
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// NewInstanceID returns a random (v4) instance id.
func NewInstanceID() string {
	return uuid.NewString()
}

// Validate checks the structural invariants of s.
func (s *State) Validate() error {
	switch {
	case s == nil:
		return errors.Join(ErrInvalidState, errors.New("nil state"))
	case strings.TrimSpace(s.EntityID) == "":
		return errors.Join(ErrInvalidState, errors.New("empty entity id"))
	case s.InstanceID == "":
		return errors.Join(ErrInvalidState, errors.New("empty instance id"))
	case !s.CurrentStep.Valid():
		return errors.Join(ErrInvalidState, errors.New("unknown step"))
	case !s.ExpiresAt.After(s.CreatedAt):
		return errors.Join(ErrInvalidState, errors.New("expires_at must be after created_at"))
	case s.RetryCount < 0:
		return errors.Join(ErrInvalidState, errors.New("negative retry count"))
	}
	return nil
}

// Expired reports whether s is past its expiry at now.
func (s *State) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Context = s.Context.Clone()
	return &out
}
