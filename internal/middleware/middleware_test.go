package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"billbook-backend/internal/config"
	"billbook-backend/internal/logger"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPanicRecoveryReturnsJSONError(t *testing.T) {
	h := PanicRecovery(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bills", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "Internal server error"}`, rec.Body.String())
}

func TestAPILoggingPassesResponseThrough(t *testing.T) {
	m := NewAPILoggingMiddleware(logger.NewNop())
	defer m.Close()

	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewAPILoggingMiddleware(logger.NewNop())
	m.Close()
	m.Close()
}

func TestShouldSkipLogging(t *testing.T) {
	assert.True(t, shouldSkipLogging("/health/ready"))
	assert.True(t, shouldSkipLogging("/metrics"))
	assert.False(t, shouldSkipLogging("/api/bills"))
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:5123"
	assert.Equal(t, "10.0.0.9", getClientIP(r))

	r.Header.Set("X-Real-IP", "192.168.1.4")
	assert.Equal(t, "192.168.1.4", getClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", getClientIP(r))
}

func TestRoutePathUsesTemplate(t *testing.T) {
	var got string
	router := mux.NewRouter()
	router.HandleFunc("/api/bills/{sNo}", func(w http.ResponseWriter, r *http.Request) {
		got = routePath(r)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/bills/0042", nil))
	require.NotEmpty(t, got)
	assert.Equal(t, "/api/bills/{sNo}", got)
}

func TestCORSAnswersPreflight(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.CorsAllowedOrigins = []string{"http://till.local"}

	h := NewCORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodOptions, "/api/draft", nil)
	req.Header.Set("Origin", "http://till.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://till.local", rec.Header().Get("Access-Control-Allow-Origin"))
}
