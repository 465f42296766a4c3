package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		corsOrigin     string
		method         string
		shouldCallNext bool
	}{
		{"GET request", "*", http.MethodGet, true},
		{"POST with specific origin", "https://example.com", http.MethodPost, true},
		{"preflight", "*", http.MethodOptions, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &Server{corsOrigin: tt.corsOrigin}
			nextCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusAccepted)
			})

			w := httptest.NewRecorder()
			server.corsMiddleware(next).ServeHTTP(w, httptest.NewRequest(tt.method, "/test", nil))

			assert.Equal(t, tt.corsOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, tt.shouldCallNext, nextCalled)
			if !tt.shouldCallNext {
				assert.Equal(t, http.StatusOK, w.Code)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	server := &Server{rateLimiter: NewRateLimiter(RateLimitConfig{RequestsPerMinute: 1, MaxUploadPerDay: 10})}
	server.rateLimiter.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := server.rateLimitMiddleware(next)

	send := func(ip string, size int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/upload", nil)
		req.Header.Set("X-Real-IP", ip)
		req.ContentLength = size
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1", 5).Code)

	w := send("10.0.0.1", 0)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Equal(t, 60, retry)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	w = send("10.0.0.2", 11)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-Quota-Limit"))
	assert.Contains(t, w.Body.String(), "quota_exceeded")
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	server := &Server{}
	called := 0
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called++ })
	for range 3 {
		server.rateLimitMiddleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	}
	assert.Equal(t, 3, called)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded list", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"}, "192.0.2.1:1234", "203.0.113.1"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 203.0.113.2 "}, "192.0.2.1:1234", "203.0.113.2"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.3"}, "192.0.2.1:1234", "203.0.113.3"},
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
