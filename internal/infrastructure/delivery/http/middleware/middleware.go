// Package middleware holds the HTTP middlewares shared by every route.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"tubefetch/internal/observability"

	"github.com/google/uuid"
)

type contextKey string

// RequestIDKey stores the request id in the request context.
const RequestIDKey contextKey = "requestID"

// HeaderXRequestID carries the request id in both directions.
const HeaderXRequestID = "X-Request-ID"

// RequestLog is the request part of an access log entry.
type RequestLog struct {
	ID            string `json:"id,omitempty"`
	Method        string `json:"method"`
	URI           string `json:"uri"`
	RemoteAddr    string `json:"remote_addr"`
	Proto         string `json:"proto"`
	ContentLength int64  `json:"content_length"`
}

// ResponseLog is the response part of an access log entry.
type ResponseLog struct {
	Status   int           `json:"status"`
	Size     int           `json:"size"`
	Duration time.Duration `json:"duration"`
}

// statusRecorder remembers what the handler wrote.
type statusRecorder struct {
	http.ResponseWriter

	status int
	size   int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}

	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}

	n, err := r.ResponseWriter.Write(b)
	r.size += n

	return n, err //nolint:wrapcheck
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}

	return r.status
}

// Recoverer turns a handler panic into a 500 response, unless the response has already started.
// http.ErrAbortHandler is re-raised.
func Recoverer(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}

			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}

				if rvr == http.ErrAbortHandler { //nolint:errorlint,err113
					panic(rvr)
				}

				log.ErrorContext(r.Context(), "handler panic",
					slog.Any("panic", rvr),
					slog.String("stack", string(debug.Stack())),
					slog.String("request_id", GetRequestID(r.Context())))

				if rec.status == 0 {
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// RequestID reuses the caller's X-Request-ID or generates one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, reqID)
		w.Header().Set(HeaderXRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored by RequestID.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)

	return id
}

// Logger writes one debug entry per request once the handler returns.
func Logger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			log.DebugContext(r.Context(), "http request",
				slog.Any("request", RequestLog{
					ID:            GetRequestID(r.Context()),
					Method:        r.Method,
					URI:           r.RequestURI,
					RemoteAddr:    r.RemoteAddr,
					Proto:         r.Proto,
					ContentLength: r.ContentLength,
				}),
				slog.Any("response", ResponseLog{
					Status:   rec.code(),
					Size:     rec.size,
					Duration: time.Since(start),
				}))
		})
	}
}

// Metrics records request counts, latency and response size per route pattern.
func Metrics(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			path := r.Pattern
			if path == "" {
				path = "unmatched"
			}

			m.RecordHTTPRequest(r.Method, path, rec.code(), time.Since(start), rec.size)
		})
	}
}
