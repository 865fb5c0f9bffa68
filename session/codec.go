package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goOnboard/step"
	"github.com/bytedance/sonic"
)

// CurrentSchemaVersion is written by Encode. Decode rejects other versions.
const CurrentSchemaVersion = 1

// ErrCorrupt is returned by Decode for undecodable or invalid payloads.
var ErrCorrupt = errors.New("session payload corrupt")

type record struct {
	Version    int      `json:"v"`
	EntityID   string   `json:"eid"`
	InstanceID string   `json:"iid"`
	Step       string   `json:"step"`
	Context    *Context `json:"ctx"`
	CreatedAt  int64    `json:"created_ms"`
	UpdatedAt  int64    `json:"updated_ms"`
	ExpiresAt  int64    `json:"expires_ms"`
	RetryCount int      `json:"retries"`
}

// Encode serializes s as versioned JSON. Timestamps keep millisecond precision.
func Encode(s *State) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return sonic.Marshal(record{
		Version:    CurrentSchemaVersion,
		EntityID:   s.EntityID,
		InstanceID: s.InstanceID,
		Step:       s.CurrentStep.String(),
		Context:    s.Context,
		CreatedAt:  s.CreatedAt.UnixMilli(),
		UpdatedAt:  s.UpdatedAt.UnixMilli(),
		ExpiresAt:  s.ExpiresAt.UnixMilli(),
		RetryCount: s.RetryCount,
	})
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (*State, error) {
	var rec record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.Version != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported session schema version %d", ErrCorrupt, rec.Version)
	}
	st, err := step.ParseStep(rec.Step)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.Context == nil {
		rec.Context = NewContext()
	}

	s := &State{
		EntityID:    rec.EntityID,
		InstanceID:  rec.InstanceID,
		CurrentStep: st,
		Context:     rec.Context,
		CreatedAt:   time.UnixMilli(rec.CreatedAt),
		UpdatedAt:   time.UnixMilli(rec.UpdatedAt),
		ExpiresAt:   time.UnixMilli(rec.ExpiresAt),
		RetryCount:  rec.RetryCount,
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}
