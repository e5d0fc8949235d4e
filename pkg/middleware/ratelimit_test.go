package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kevin07696/payment-batch/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, mocks.NewRecordingLogger())
	defer rl.Shutdown()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/print-runs", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:5000"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:5001"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:5002"), "ports share one client bucket")
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2:5000"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	logger := mocks.NewRecordingLogger()
	rl := NewRateLimiter(10, 1, logger)
	defer rl.Shutdown()

	rl.getLimiter("10.0.0.1")
	rl.getLimiter("10.0.0.2")

	assert.Equal(t, 0, rl.cleanup(time.Now()))
	assert.Equal(t, 2, rl.cleanup(time.Now().Add(10*time.Minute)))
	assert.Len(t, logger.Entries("debug"), 1)
}

func TestRateLimiter_EvictsOldestAtCapacity(t *testing.T) {
	rl := NewRateLimiter(10, 1, mocks.NewRecordingLogger())
	defer rl.Shutdown()
	rl.maxSize = 2

	rl.getLimiter("a")
	time.Sleep(time.Millisecond)
	rl.getLimiter("b")
	rl.getLimiter("c")

	assert.Len(t, rl.limiters, 2)
	assert.NotContains(t, rl.limiters, "a")
}
