package middleware

import (
	"net"
	"net/http"
	"strings"

	goOnboard "github.com/MrEthical07/goOnboard"
)

// RequestIDHeader carries the caller's correlation id.
const RequestIDHeader = "X-Request-ID"

// RequestContext attaches the client address and request id to the request
// context. Proxies that rewrite RemoteAddr must run before it.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ip := clientIP(r.RemoteAddr); ip != "" {
			ctx = goOnboard.WithSourceID(ctx, ip)
		}
		if id := strings.TrimSpace(r.Header.Get(RequestIDHeader)); id != "" {
			ctx = goOnboard.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
