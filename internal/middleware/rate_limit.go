package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type attemptWindow struct {
	count      int
	windowEnds time.Time
}

// IPRateLimiter allows limit requests per client IP per window. It tracks at
// most maxEntries addresses; when full, expired windows are dropped first and
// then the window closest to expiry.
type IPRateLimiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	maxEntries int
	attempts   map[string]attemptWindow
	now        func() time.Time
}

func NewIPRateLimiter(limit int, window time.Duration) *IPRateLimiter {
	return NewIPRateLimiterWithMaxEntries(limit, window, 10000)
}

func NewIPRateLimiterWithMaxEntries(limit int, window time.Duration, maxEntries int) *IPRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &IPRateLimiter{
		limit:      limit,
		window:     window,
		maxEntries: maxEntries,
		attempts:   map[string]attemptWindow{},
		now:        time.Now,
	}
}

func (rl *IPRateLimiter) Middleware(message string) func(http.Handler) http.Handler {
	if message == "" {
		message = "Rate limit exceeded"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r.RemoteAddr)
			if ip == "" {
				ip = "unknown"
			}
			if !rl.allow(ip) {
				w.Header().Set("Retry-After", formatSeconds(rl.window))
				writeError(w, r, http.StatusTooManyRequests, codeRateLimited, message, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *IPRateLimiter) allow(ip string) bool {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.attempts[ip]
	if !ok && len(rl.attempts) >= rl.maxEntries {
		rl.evict(now)
	}
	if entry.windowEnds.Before(now) {
		entry = attemptWindow{windowEnds: now.Add(rl.window)}
	}
	entry.count++
	rl.attempts[ip] = entry
	return entry.count <= rl.limit
}

func (rl *IPRateLimiter) evict(now time.Time) {
	var (
		oldestIP   string
		oldestEnds time.Time
	)
	for ip, entry := range rl.attempts {
		if entry.windowEnds.Before(now) {
			delete(rl.attempts, ip)
			continue
		}
		if oldestIP == "" || entry.windowEnds.Before(oldestEnds) {
			oldestIP, oldestEnds = ip, entry.windowEnds
		}
	}
	if len(rl.attempts) >= rl.maxEntries && oldestIP != "" {
		delete(rl.attempts, oldestIP)
	}
}

func (rl *IPRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.attempts)
}

func formatSeconds(d time.Duration) string {
	return strconv.Itoa(int(d.Round(time.Second) / time.Second))
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
