package middleware

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	goOnboard "github.com/MrEthical07/goOnboard"
	"github.com/MrEthical07/goOnboard/step"
	"github.com/bytedance/sonic"
)

const maxBodyBytes = 8 << 10

type eventRequest struct {
	EntityID string `json:"entity_id"`
	Action   string `json:"action"`
	Payload  string `json:"payload,omitempty"`
}

// SessionView is the JSON body of every successful response.
type SessionView struct {
	EntityID    string            `json:"entity_id"`
	InstanceID  string            `json:"instance_id"`
	Step        string            `json:"step"`
	Context     []ContextEntry    `json:"context,omitempty"`
	RetryCount  int               `json:"retry_count"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Allowed     []string          `json:"allowed"`
	Suppressed  bool              `json:"suppressed,omitempty"`
	Rerendered  bool              `json:"rerendered,omitempty"`
	Created     bool              `json:"created,omitempty"`
	Cancelled   bool              `json:"cancelled,omitempty"`
	ResumeToken string            `json:"resume_token,omitempty"`
}

// ContextEntry is one session context pair; SessionView keeps them in
// insertion order.
type ContextEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ErrorBody is the JSON body of every failed response.
type ErrorBody struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	RemainingAttempts int    `json:"remaining_attempts,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Handler serves the onboarding routes for coord, wrapped in RequestContext.
func Handler(coord *goOnboard.Coordinator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", func(w http.ResponseWriter, r *http.Request) {
		handleEvent(coord, w, r)
	})
	mux.HandleFunc("GET /session", func(w http.ResponseWriter, r *http.Request) {
		handleSession(coord, w, r)
	})
	return RequestContext(mux)
}

func handleEvent(coord *goOnboard.Coordinator, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, ErrorBody{Kind: "validation", Message: "request body too large"})
		return
	}
	var req eventRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorBody{Kind: "validation", Message: "malformed JSON body"})
		return
	}
	action, err := step.ParseAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorBody{Kind: "validation", Message: err.Error()})
		return
	}

	res, err := coord.Handle(r.Context(), goOnboard.Event{EntityID: req.EntityID, Action: action, Payload: req.Payload})
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(res))
}

func handleSession(coord *goOnboard.Coordinator, w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, ErrorBody{Kind: "validation", Message: "resume token required"})
		return
	}
	res, err := coord.Resume(r.Context(), token)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(res))
}

func newSessionView(res *goOnboard.Result) SessionView {
	v := SessionView{
		EntityID:    res.EntityID,
		InstanceID:  res.InstanceID,
		Step:        res.Step.String(),
		RetryCount:  res.RetryCount,
		ExpiresAt:   res.ExpiresAt.UTC(),
		Allowed:     make([]string, 0, len(res.Allowed)),
		Suppressed:  res.Suppressed,
		Rerendered:  res.Rerendered,
		Created:     res.Created,
		Cancelled:   res.Cancelled,
		ResumeToken: res.ResumeToken,
	}
	if len(res.Context) > 0 {
		v.Context = make([]ContextEntry, 0, len(res.Context))
		for _, e := range res.Context {
			v.Context = append(v.Context, ContextEntry{Key: e.Key, Value: e.Value})
		}
	}
	for _, a := range res.Allowed {
		v.Allowed = append(v.Allowed, a.String())
	}
	return v
}

// StatusFor maps a coordinator error kind to an HTTP status.
func StatusFor(kind goOnboard.ErrorKind) int {
	switch kind {
	case goOnboard.KindValidation:
		return http.StatusBadRequest
	case goOnboard.KindStateConflict:
		return http.StatusConflict
	case goOnboard.KindExpired:
		return http.StatusGone
	case goOnboard.KindRateLimited:
		return http.StatusTooManyRequests
	case goOnboard.KindLockTimeout:
		return http.StatusServiceUnavailable
	case goOnboard.KindAction:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeCoordinatorError(w http.ResponseWriter, err error) {
	kind := goOnboard.KindOf(err)
	body := ErrorBody{Kind: kind.String(), Message: err.Error()}

	var e *goOnboard.Error
	if errors.As(err, &e) {
		body.RemainingAttempts = e.RemainingAttempts
		if e.RetryAfter > 0 {
			body.RetryAfterSeconds = int(math.Ceil(e.RetryAfter.Seconds()))
		}
	}
	switch kind {
	case goOnboard.KindSystem:
		body.Message = "internal error"
	case goOnboard.KindLockTimeout:
		if body.RetryAfterSeconds == 0 {
			body.RetryAfterSeconds = 1
		}
	}
	if body.RetryAfterSeconds > 0 && (kind == goOnboard.KindRateLimited || kind == goOnboard.KindLockTimeout) {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
	}
	writeError(w, StatusFor(kind), body)
}

func writeError(w http.ResponseWriter, status int, body ErrorBody) {
	writeJSON(w, status, struct {
		Error ErrorBody `json:"error"`
	}{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte{'\n'})
}
