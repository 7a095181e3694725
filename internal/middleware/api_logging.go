package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"billbook-backend/internal/logger"

	"github.com/cockroachdb/errors"
)

// requestLog is one finished API request.
type requestLog struct {
	Method       string
	Path         string
	StatusCode   int
	Duration     time.Duration
	ResponseSize int
	IPAddress    string
	UserAgent    string
}

// APILoggingMiddleware writes one structured log line per API request. Lines
// are handed to a background writer so a slow log sink never delays a
// response.
type APILoggingMiddleware struct {
	log     *logger.Logger
	logChan chan requestLog
	done    chan struct{}
	once    sync.Once
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func NewAPILoggingMiddleware(log *logger.Logger) *APILoggingMiddleware {
	m := &APILoggingMiddleware{
		log:     log.Named("http"),
		logChan: make(chan requestLog, 1000),
		done:    make(chan struct{}),
	}

	go m.asyncLogWriter()

	return m
}

func (m *APILoggingMiddleware) asyncLogWriter() {
	defer close(m.done)
	for entry := range m.logChan {
		fields := []interface{}{
			"method", entry.Method,
			"path", entry.Path,
			"status", entry.StatusCode,
			"duration_ms", float64(entry.Duration.Microseconds()) / 1000.0,
			"bytes", entry.ResponseSize,
			"ip", entry.IPAddress,
			"user_agent", entry.UserAgent,
		}
		switch {
		case entry.StatusCode >= 500:
			m.log.Errorw("request failed", fields...)
		case entry.StatusCode >= 400:
			m.log.Warnw("request rejected", fields...)
		default:
			m.log.Infow("request", fields...)
		}
	}
}

// Handler returns the middleware handler
func (m *APILoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipLogging(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		entry := requestLog{
			Method:       r.Method,
			Path:         sanitizePath(r.URL.Path),
			StatusCode:   wrapped.statusCode,
			Duration:     time.Since(start),
			ResponseSize: wrapped.bytesWritten,
			IPAddress:    getClientIP(r),
			UserAgent:    r.UserAgent(),
		}

		// Non-blocking
		select {
		case m.logChan <- entry:
		default:
			m.log.Warnw("log buffer full, dropping entry", "path", entry.Path)
		}
	})
}

// shouldSkipLogging returns true for paths that shouldn't be logged
func shouldSkipLogging(path string) bool {
	skipPaths := []string{
		"/health",
		"/metrics",
		"/favicon.ico",
	}

	for _, skip := range skipPaths {
		if strings.HasPrefix(path, skip) {
			return true
		}
	}

	return false
}

func sanitizePath(path string) string {
	if len(path) > 500 {
		path = path[:500]
	}
	return path
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (for proxies/load balancers)
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// Close stops accepting entries and waits for pending ones to be written.
// Requests still in flight after Close must not reach Handler.
func (m *APILoggingMiddleware) Close() {
	m.once.Do(func() {
		close(m.logChan)
		<-m.done
	})
}
