package api

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RateLimitConfig holds rate limiter configuration. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   int
	Burst int
}

const bucketIdle = 10 * time.Minute

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// rateLimiter keeps one token bucket per client IP. Idle buckets are swept
// on the request path, at most once per sweep interval.
type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*tokenBucket
	rps       float64
	burst     float64
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = cfg.RPS
	}
	return &rateLimiter{
		clients:   make(map[string]*tokenBucket),
		rps:       float64(cfg.RPS),
		burst:     float64(burst),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// allow takes a token for client and reports the wait until the next one
// when none is left.
func (rl *rateLimiter) allow(client string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > bucketIdle/2 {
		for k, b := range rl.clients {
			if now.Sub(b.lastRefill) > bucketIdle {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.clients[client]
	if !ok {
		b = &tokenBucket{tokens: rl.burst, lastRefill: now}
		rl.clients[client] = b
	}
	b.tokens += now.Sub(b.lastRefill).Seconds() * rl.rps
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rl.rps * float64(time.Second))
	return false, wait
}

// NewRateLimitMiddleware returns a per-client token-bucket rate limiter.
func NewRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	rl := newRateLimiter(cfg)
	return func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		ok, wait := rl.allow(c.IP())
		if !ok {
			secs := int(wait.Seconds()) + 1
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}
		return c.Next()
	}
}
