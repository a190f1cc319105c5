// Package health runs readiness checks for the assistant's dependencies.
package health

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

// Checker manages health checks for all dependencies.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	cache   map[string]Status
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChecker creates a new health checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		cache:   make(map[string]Status),
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RunAll executes all health checks concurrently and caches results.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(n string, f CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			s := f(checkCtx)
			if s != StatusOK {
				c.logger.Warn().Str("check", n).Str("status", string(s)).Msg("health check not ok")
			}
			mu.Lock()
			results[n] = s
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()

	c.mu.Lock()
	c.cache = results
	c.mu.Unlock()

	return results
}

// Last returns the results of the most recent run.
func (c *Checker) Last() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Status, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

// IsReady returns true if no check is down.
func (c *Checker) IsReady(ctx context.Context) bool {
	return Ready(c.RunAll(ctx))
}

// Ready reports whether a result set has no StatusDown entry.
func Ready(results map[string]Status) bool {
	for _, s := range results {
		if s == StatusDown {
			return false
		}
	}
	return true
}

// DataDir checks that dir exists and accepts writes.
func DataDir(dir string) CheckFunc {
	return func(ctx context.Context) Status {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return StatusDown
		}
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return StatusDown
		}
		name := f.Name()
		f.Close()
		os.Remove(filepath.Clean(name))
		return StatusOK
	}
}

// Completion reports degraded when no completion provider is configured.
// The assistant still answers commands without one.
func Completion(enabled bool) CheckFunc {
	return func(ctx context.Context) Status {
		if !enabled {
			return StatusDegraded
		}
		return StatusOK
	}
}

// Remote maps a probe error to a status. A failing optional integration
// degrades the service instead of taking it down.
func Remote(probe func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Status {
		if err := probe(ctx); err != nil {
			return StatusDegraded
		}
		return StatusOK
	}
}
