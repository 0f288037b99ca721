package ipc

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// corsMiddleware adds CORS headers based on the allowed origins list.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowed, wildcard := s.isOriginAllowed(origin); allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if !wildcard {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) isOriginAllowed(origin string) (allowed, wildcard bool) {
	for _, candidate := range s.cfg.AllowedOrigins {
		if candidate == "*" {
			return true, true
		}
		if candidate == origin {
			return true, false
		}
	}
	if origin == s.cfg.PublicOrigin {
		return true, false
	}
	return false, false
}

// securityHeadersMiddleware adds standard security headers. Applied to API
// routes only; the proxied dashboard must stay frameable.
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

const (
	actionRatePerSecond = 5
	actionRateBurst     = 10
)

// rateLimiter tracks a token bucket per client address.
type rateLimiter struct {
	mu       sync.Mutex
	perKey   map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	lastSeen map[string]time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		perKey:   make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.perKey[key]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.perKey[key] = limiter
	}
	l.lastSeen[key] = time.Now()
	if len(l.perKey) > 1024 {
		l.evictIdle()
	}
	return limiter.Allow()
}

// evictIdle drops buckets idle for over an hour. Caller holds l.mu.
func (l *rateLimiter) evictIdle() {
	cutoff := time.Now().Add(-time.Hour)
	for key, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.perKey, key)
			delete(l.lastSeen, key)
		}
	}
}

// actionRateLimitMiddleware throttles the write-path endpoints per client.
func (s *Server) actionRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			key = r.RemoteAddr
		}
		if !s.actionLimiter.allow(key) {
			respondErrorStatus(w, http.StatusTooManyRequests, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
