package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/relaypool/relaypool/internal/observability"
)

// HTTP metric names
const (
	RequestsTotal       = "http_requests_total"
	RequestDuration     = "http_request_duration_ms"
	RequestSizeBytes    = "http_request_size_bytes"
	ResponseSizeBytes   = "http_response_size_bytes"
	RequestErrorsTotal  = "http_errors_total"
	unknownRoutePattern = "/unknown"
)

// responseWriter wraps http.ResponseWriter to capture status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// getEndpointPattern returns the chi route pattern, or a fixed bucket for
// unrouted paths so endpoint indexes never become label values.
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/", path == "/v1/pool", path == "/v1/rpc":
		return path
	case strings.HasPrefix(path, "/v1/pool/") && strings.HasSuffix(path, "/probe"):
		return "/v1/pool/{index}/probe"
	case strings.HasPrefix(path, "/v1/pool/") && strings.HasSuffix(path, "/reset"):
		return "/v1/pool/{index}/reset"
	default:
		return unknownRoutePattern
	}
}

// RequestMetrics middleware captures HTTP request metrics following Prometheus standards
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		var requestSize int64
		if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
			if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
				requestSize = size
			}
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := getEndpointPattern(r)
		emitRequestMetrics(r.Method, endpoint, wrapped, requestSize, duration)

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", wrapped.bytesWritten),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}

func emitRequestMetrics(method, endpoint string, rw *responseWriter, requestSize int64, duration time.Duration) {
	sys := observability.TelemetrySystem
	status := strconv.Itoa(rw.statusCode)

	labels := map[string]string{
		"method":   method,
		"endpoint": endpoint,
		"status":   status,
	}
	sizeLabels := map[string]string{
		"method":   method,
		"endpoint": endpoint,
	}

	_ = sys.Counter(RequestsTotal, 1, labels)
	_ = sys.Histogram(RequestDuration, duration, labels)
	_ = sys.Gauge(RequestSizeBytes, float64(requestSize), sizeLabels)
	_ = sys.Gauge(ResponseSizeBytes, float64(rw.bytesWritten), sizeLabels)

	if rw.statusCode < 400 {
		return
	}
	errorType := "client_error"
	if rw.statusCode >= 500 {
		errorType = "server_error"
	}
	_ = sys.Counter(RequestErrorsTotal, 1, map[string]string{
		"method":     method,
		"endpoint":   endpoint,
		"status":     status,
		"error_type": errorType,
	})
}
