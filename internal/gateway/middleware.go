package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cod3vil/data-veil/internal/workflow"
)

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware tags each request with an id and logs the outcome.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		s.logger.WithRequestID(requestID).Info("Request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client", clientAddr(r)),
		)
	})
}

// rateLimitMiddleware rejects clients that exceed the configured rate.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.config.RateLimit.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.allow(clientAddr(r)) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Error:   "rate_limited",
				Message: "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps workflow error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var wfErr *workflow.Error
	if !errors.As(err, &wfErr) {
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:   "internal",
			Message: err.Error(),
		})
		return
	}

	status := http.StatusInternalServerError
	switch wfErr.Kind {
	case workflow.KindValidation:
		status = http.StatusBadRequest
	case workflow.KindPreconditionNotMet:
		status = http.StatusConflict
	case workflow.KindAlreadyInProgress:
		status = http.StatusConflict
	case workflow.KindNotFound:
		status = http.StatusNotFound
	case workflow.KindRemoteFailure:
		status = http.StatusBadGateway
	case workflow.KindEmptyResult:
		status = http.StatusOK
	}
	writeJSON(w, status, errorBody{
		Error:   wfErr.Kind.String(),
		Message: wfErr.Message,
	})
}
