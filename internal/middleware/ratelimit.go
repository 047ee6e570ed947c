package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/idgate/idgate/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// IPRateLimiter applies a token bucket per client IP.
type IPRateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	logger   *logrus.Logger
}

type visitor struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(perMinute, burst int, logger *logrus.Logger) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		rps:    rate.Limit(float64(perMinute) / 60.0),
		burst:  burst,
		logger: logger,
	}
}

func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	now := time.Now()
	v, _ := l.visitors.LoadOrStore(ip, &visitor{
		limiter:  rate.NewLimiter(l.rps, l.burst),
		lastSeen: now,
	})
	vi := v.(*visitor)
	vi.mu.Lock()
	vi.lastSeen = now
	vi.mu.Unlock()
	return vi.limiter
}

// Run evicts idle visitors every interval until ctx is done.
func (l *IPRateLimiter) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle(time.Now().Add(-idle))
		}
	}
}

func (l *IPRateLimiter) evictIdle(cutoff time.Time) {
	l.visitors.Range(func(k, v any) bool {
		vi := v.(*visitor)
		vi.mu.Lock()
		stale := vi.lastSeen.Before(cutoff)
		vi.mu.Unlock()
		if stale {
			l.visitors.Delete(k)
		}
		return true
	})
}

func (l *IPRateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.getLimiter(ip).Allow() {
			metrics.RateLimited.Inc()
			l.logger.WithFields(logrus.Fields{
				"ip":   ip,
				"path": r.URL.Path,
			}).Warn("Rate limit exceeded")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"Too many requests"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}
