package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// RequestIDHeader carries the request id back to the caller
const RequestIDHeader = "X-Request-ID"

type loggingWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request and echoes or assigns a request id
func RequestLogger(logger ports.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lw, r)

			fields := []ports.Field{
				ports.String("request_id", requestID),
				ports.String("method", r.Method),
				ports.String("path", r.URL.Path),
				ports.Int("status", lw.status),
				ports.Duration("duration", time.Since(start)),
			}
			if lw.status >= http.StatusInternalServerError {
				logger.Error("Request failed", fields...)
				return
			}
			logger.Info("Request handled", fields...)
		})
	}
}
