package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stefando/largeFileUpload/internal/logging"
)

type contextKey string

const (
	RequestIDContextKey contextKey = "request_id"
	RequestIDHeaderName            = "X-Request-ID"
	AuditLogEndMessage             = "HTTP call ended"
)

// ResponseRecordingWriter remembers the status code and the number of bytes written.
type ResponseRecordingWriter struct {
	StatusCode   int
	ResponseSize int64
	Writer       http.ResponseWriter
}

func (w *ResponseRecordingWriter) Header() http.Header {
	return w.Writer.Header()
}

func (w *ResponseRecordingWriter) Write(data []byte) (int, error) {
	written, err := w.Writer.Write(data)
	w.ResponseSize += int64(written)
	return written, err
}

func (w *ResponseRecordingWriter) WriteHeader(statusCode int) {
	w.StatusCode = statusCode
	w.Writer.WriteHeader(statusCode)
}

// RequestID returns the id of r, taken from the X-Request-ID header or generated, and a request carrying it.
func RequestID(r *http.Request) (*http.Request, string) {
	ctx := r.Context()
	if reqID, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return r, reqID
	}
	reqID := r.Header.Get(RequestIDHeaderName)
	if _, err := uuid.Parse(reqID); err != nil {
		reqID = uuid.New().String()
	}
	return r.WithContext(context.WithValue(ctx, RequestIDContextKey, reqID)), reqID
}

func SourceIP(r *http.Request) string {
	sourceIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return sourceIP
}

// LoggingMiddleware adds request fields to the context logger and writes one audit line per request.
func LoggingMiddleware(fields logging.Fields, auditLogLevel string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			writer := &ResponseRecordingWriter{Writer: w, StatusCode: http.StatusOK}
			r, reqID := RequestID(r)

			requestFields := logging.Fields{
				logging.PathFieldKey:      r.RequestURI,
				logging.MethodFieldKey:    r.Method,
				logging.HostFieldKey:      r.Host,
				logging.RequestIDFieldKey: reqID,
			}
			for k, v := range fields {
				requestFields[k] = v
			}
			r = r.WithContext(logging.AddFields(r.Context(), requestFields))
			writer.Header().Set(RequestIDHeaderName, reqID)
			next.ServeHTTP(writer, r)

			loggingFields := logging.Fields{
				"took":        time.Since(startTime),
				"status_code": writer.StatusCode,
				"sent_bytes":  writer.ResponseSize,
				"received":    r.ContentLength,
				"source_ip":   SourceIP(r),
			}
			logLevel := strings.ToLower(auditLogLevel)
			level, err := logrus.ParseLevel(logLevel)
			if err != nil || logLevel == "none" {
				level = logrus.DebugLevel
			}
			logging.FromContext(r.Context()).WithFields(loggingFields).Log(level, AuditLogEndMessage)
		})
	}
}
