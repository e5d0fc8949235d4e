package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"golang.org/x/time/rate"
)

// clientLimiter tracks a rate limiter and its last access time
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter limits operator API requests per client address
type RateLimiter struct {
	limiters        map[string]*clientLimiter
	logger          ports.Logger
	stopCh          chan struct{}
	rate            rate.Limit
	burst           int
	maxSize         int
	cleanupInterval time.Duration
	mu              sync.Mutex
	stopOnce        sync.Once
}

// NewRateLimiter creates a limiter allowing requestsPerSecond per client with the given burst
func NewRateLimiter(requestsPerSecond float64, burst int, logger ports.Logger) *RateLimiter {
	rl := &RateLimiter{
		limiters:        make(map[string]*clientLimiter),
		logger:          logger,
		rate:            rate.Limit(requestsPerSecond),
		burst:           burst,
		maxSize:         1000,
		cleanupInterval: 5 * time.Minute,
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup(time.Now())
		}
	}
}

// cleanup removes entries not seen within one cleanup interval
func (rl *RateLimiter) cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.cleanupInterval)
	removed := 0
	for key, l := range rl.limiters {
		if l.lastAccess.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup",
			ports.Int("removed", removed),
			ports.Int("remaining", len(rl.limiters)))
	}
	return removed
}

// Shutdown stops the cleanup goroutine
func (rl *RateLimiter) Shutdown() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[key]; ok {
		l.lastAccess = time.Now()
		return l.limiter
	}

	if len(rl.limiters) >= rl.maxSize {
		var oldestKey string
		var oldest time.Time
		for k, l := range rl.limiters {
			if oldestKey == "" || l.lastAccess.Before(oldest) {
				oldestKey, oldest = k, l.lastAccess
			}
		}
		delete(rl.limiters, oldestKey)
	}

	l := &clientLimiter{
		limiter:    rate.NewLimiter(rl.rate, rl.burst),
		lastAccess: time.Now(),
	}
	rl.limiters[key] = l
	return l.limiter
}

// Middleware returns HTTP middleware that applies rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !rl.getLimiter(key).Allow() {
			rl.logger.Warn("Rate limit exceeded",
				ports.String("client", key),
				ports.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
