package httpapi

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware assigns a request ID when the caller didn't supply
// one, and echoes it on every response, per §6.1.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := withRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs one structured line per request via zerolog,
// replacing the teacher's bare log.Printf at this layer.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Info().
			Str("requestId", requestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// errorResponse is the {error:true, reason} body used across §7's client
// and server error paths.
type errorResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: true, Reason: reason}) //nolint:errcheck
}

// authBearer wraps the /v1 subrouter, comparing sha256(token) against
// tokenHash with a constant-time comparison so a timing side channel can't
// leak how many leading bytes matched.
func authBearer(tokenHash [sha256.Size]byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) || len(header) <= len(prefix) {
				writeError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
				return
			}
			token := strings.TrimPrefix(header, prefix)
			got := sha256.Sum256([]byte(token))
			if subtle.ConstantTimeCompare(got[:], tokenHash[:]) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ipRateLimiter is a fixed-window (not token-bucket) counter, 60 requests
// per 60 s per remote IP, matching §6.1/§9 Open Question 3 literally —
// golang.org/x/time/rate's smoothing behavior would not reproduce a hard
// reset every 60 s.
type ipRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

func newIPRateLimiter(limit int, period time.Duration) *ipRateLimiter {
	return &ipRateLimiter{windows: make(map[string]*window), limit: limit, period: period, now: time.Now}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[ip]
	if !ok || now.Sub(w.start) >= l.period {
		w = &window{start: now}
		l.windows[ip] = w
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.allow(ip) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
