package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	goOnboard "github.com/MrEthical07/goOnboard"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
)

type lastCode struct {
	mu   sync.Mutex
	code string
}

func (l *lastCode) Execute(_ context.Context, req goOnboard.ActionRequest) goOnboard.ActionResult {
	if req.Name == goOnboard.ActionSendCode {
		l.mu.Lock()
		l.code = req.Payload["code"]
		l.mu.Unlock()
	}
	return goOnboard.ActionResult{Success: true}
}

func (l *lastCode) get() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.code
}

func newTestHandler(t *testing.T) (http.Handler, *lastCode) {
	t.Helper()
	cfg := goOnboard.DefaultConfig()
	cfg.Verification.MinVerifyDuration = 0
	cfg.Resume.Enabled = true
	cfg.Resume.Secret = "resume-secret-resume-secret-0123"
	codes := &lastCode{}
	coord, err := goOnboard.New().WithConfig(cfg).WithExecutor(codes).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })
	return Handler(coord), codes
}

func postEvent(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set(RequestIDHeader, "req-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) SessionView {
	t.Helper()
	var v SessionView
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestEventFlowOverHTTP(t *testing.T) {
	h, codes := newTestHandler(t)

	rec := postEvent(t, h, `{"entity_id":"42","action":"submit_input","payload":"ada@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	view := decodeView(t, rec)
	require.Equal(t, "VERIFY_CODE", view.Step)
	require.True(t, view.Created)
	require.Len(t, view.Context, 2)
	require.Equal(t, ContextEntry{Key: "input", Value: "ada@example.com"}, view.Context[0])
	require.Equal(t, "code_expires_at", view.Context[1].Key)
	require.NotEmpty(t, view.ResumeToken)
	require.Contains(t, view.Allowed, "verify_code")

	rec = postEvent(t, h, `{"entity_id":"42","action":"verify_code","payload":"`+codes.get()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "TERMINAL", decodeView(t, rec).Step)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+view.ResumeToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, view.InstanceID, decodeView(t, rec).InstanceID)
}

func TestEventErrorsMapToStatus(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postEvent(t, h, `{"entity_id":"42","action":"fly"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postEvent(t, h, `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postEvent(t, h, `{"entity_id":"42","action":"verify_code","payload":"123456"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "state_conflict", decodeError(t, rec).Kind)

	rec = postEvent(t, h, `{"entity_id":"42","action":"submit_input","payload":"nope"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation", decodeError(t, rec).Kind)
}

func TestRateLimitSetsRetryAfter(t *testing.T) {
	h, codes := newTestHandler(t)

	rec := postEvent(t, h, `{"entity_id":"9","action":"submit_input","payload":"ada@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	wrong := "000000"
	if codes.get() == wrong {
		wrong = "111111"
	}
	for i := 0; i < 5; i++ {
		rec = postEvent(t, h, `{"entity_id":"9","action":"verify_code","payload":"`+wrong+`"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec = postEvent(t, h, `{"entity_id":"9","action":"verify_code","payload":"`+wrong+`"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Positive(t, decodeError(t, rec).RetryAfterSeconds)
}

func TestSessionRequiresBearer(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusGone, StatusFor(goOnboard.KindExpired))
	require.Equal(t, http.StatusServiceUnavailable, StatusFor(goOnboard.KindLockTimeout))
	require.Equal(t, http.StatusBadGateway, StatusFor(goOnboard.KindAction))
	require.Equal(t, http.StatusInternalServerError, StatusFor(goOnboard.KindSystem))
}

func TestRequestContext(t *testing.T) {
	var gotReq string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Header.Get(RequestIDHeader)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, " abc ")
	RequestContext(next).ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, " abc ", gotReq)
	require.Equal(t, "192.0.2.1", clientIP(req.RemoteAddr))
	require.Equal(t, "10.0.0.1", clientIP("10.0.0.1"))

	_, ok := bearerToken("Basic xyz")
	require.False(t, ok)
}
