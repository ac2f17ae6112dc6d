// Package ratelimit implements a fixed-window per-client request limiter.
//
// The window is fixed, not sliding: the first request from a client opens a
// window and every request inside it increments a counter; once the counter
// passes the configured maximum the client is rejected until the window
// expires. State is process-local, so a multi-process deployment needs a
// shared backing store to avoid each process granting its own quota.
package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// entry tracks the request count for a single client within the current window.
type entry struct {
	count         int
	windowResetAt time.Time
}

// Limiter is a fixed-window request counter keyed by client IP.
// Construct one per process and inject it where requests are admitted.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*entry
	max     int
	window  time.Duration

	now func() time.Time // overridable for tests
}

// New creates a Limiter allowing max requests per window per client.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		clients: make(map[string]*entry),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Allow records one request for ip and reports whether it is within quota.
// When the request is rejected it returns the duration until the window
// resets, suitable for a Retry-After hint. The rejected attempt itself does
// not consume quota beyond its own count.
func (l *Limiter) Allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	e, ok := l.clients[ip]
	if !ok || now.After(e.windowResetAt) {
		l.clients[ip] = &entry{count: 1, windowResetAt: now.Add(l.window)}
		return true, 0
	}

	e.count++
	if e.count > l.max {
		return false, e.windowResetAt.Sub(now)
	}
	return true, 0
}

// SetNowFunc overrides the limiter's clock; intended for tests.
func (l *Limiter) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Sweep removes expired windows and returns how many entries were dropped.
// Intended to be called periodically by the job scheduler.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for ip, e := range l.clients {
		if now.After(e.windowResetAt) {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked clients. Used by tests and status logging.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware returns a fiber handler rejecting over-quota clients with 429.
// clientIP extracts the caller's address from the request; the same function
// is shared with the ingest handler so limiting and geolocation agree on the
// client identity.
func (l *Limiter) Middleware(logger *slog.Logger, clientIP func(*fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := clientIP(c)
		ok, retryAfter := l.Allow(ip)
		if !ok {
			logger.Debug("Rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", c.Path()))
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Set("Retry-After", strconv.Itoa(seconds))
			return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{
				"error":      "Too many requests",
				"code":       "RATE_LIMITED",
				"retryAfter": seconds,
			})
		}
		return c.Next()
	}
}
