package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"callguard/internal/config"
)

// clientLimiter pairs a token bucket with its last use, so idle
// clients can be evicted
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns middleware enforcing a per-client token bucket
func RateLimiter(cfg config.RateLimitConfig) func(next http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		clients = map[string]*clientLimiter{}
	)

	// Evict buckets idle for more than 10 minutes
	go func() {
		for range time.Tick(time.Minute) {
			mu.Lock()
			for id, c := range clients {
				if time.Since(c.lastSeen) > 10*time.Minute {
					delete(clients, id)
				}
			}
			mu.Unlock()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			id := clientID(r)

			mu.Lock()
			c, ok := clients[id]
			if !ok {
				c = &clientLimiter{
					limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
				}
				clients[id] = c
			}
			c.lastSeen = time.Now()
			mu.Unlock()

			if !c.limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientID returns a unique identifier for the client
func clientID(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return ip
}
