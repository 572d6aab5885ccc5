// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiterConfig configures the per-adapter request rate limiter.
type RateLimiterConfig struct {
	// Enabled turns rate limiting on
	Enabled bool `mapstructure:"enabled"`

	// RequestsPerSecond is the sustained request rate across all
	// callers sharing this limiter
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// BurstCapacity is the maximum burst of requests allowed
	BurstCapacity int `mapstructure:"burst_capacity"`

	// MinDelay is the minimum spacing between requests (overrides
	// RequestsPerSecond when larger)
	MinDelay time.Duration `mapstructure:"min_delay"`

	// MaxRetries bounds retries on throttling (429) errors
	MaxRetries int `mapstructure:"max_retries"`

	// RetryBackoff is the initial backoff, doubled per retry
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// Logger for throttle events
	Logger *zap.Logger `mapstructure:"-"`
}

// DefaultRateLimiterConfig returns conservative defaults suitable for
// entry-tier cloud quotas.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 2.0,
		BurstCapacity:     5,
		MinDelay:          300 * time.Millisecond,
		MaxRetries:        5,
		RetryBackoff:      1 * time.Second,
	}
}

// RateLimiter is a token-bucket limiter with bounded exponential-backoff
// retry on throttling errors. One limiter is shared per adapter so
// concurrent agent loops cannot blow a backend's quota together.
type RateLimiter struct {
	cfg    RateLimiterConfig
	logger *zap.Logger

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	lastCall   time.Time

	statsMu   sync.Mutex
	requests  int64
	throttled int64
	tokenUsed int64
}

// NewRateLimiter creates a rate limiter from config.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRateLimiterConfig().RequestsPerSecond
	}
	if cfg.BurstCapacity <= 0 {
		cfg.BurstCapacity = DefaultRateLimiterConfig().BurstCapacity
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRateLimiterConfig().RetryBackoff
	}

	return &RateLimiter{
		cfg:        cfg,
		logger:     cfg.Logger,
		tokens:     float64(cfg.BurstCapacity),
		lastRefill: time.Now(),
	}
}

// Do executes call under the rate limit, retrying throttling errors
// with exponential backoff up to MaxRetries.
func (rl *RateLimiter) Do(ctx context.Context, call func(context.Context) (interface{}, error)) (interface{}, error) {
	if rl == nil || !rl.cfg.Enabled {
		return call(ctx)
	}

	backoff := rl.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		if err := rl.wait(ctx); err != nil {
			return nil, err
		}

		result, err := call(ctx)
		rl.count(func(s *RateLimiter) { s.requests++ })

		if err == nil || !isThrottlingError(err) {
			return result, err
		}

		rl.count(func(s *RateLimiter) { s.throttled++ })
		if attempt >= rl.cfg.MaxRetries {
			return nil, fmt.Errorf("request throttled after %d attempts: %w", attempt+1, err)
		}

		rl.logger.Warn("request throttled, backing off",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", rl.cfg.MaxRetries),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// wait blocks until a bucket token is available and MinDelay has
// elapsed since the previous call, or ctx is cancelled.
func (rl *RateLimiter) wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(rl.lastRefill).Seconds()
		rl.tokens += elapsed * rl.cfg.RequestsPerSecond
		if max := float64(rl.cfg.BurstCapacity); rl.tokens > max {
			rl.tokens = max
		}
		rl.lastRefill = now

		ready := rl.tokens >= 1.0 &&
			(rl.cfg.MinDelay <= 0 || now.Sub(rl.lastCall) >= rl.cfg.MinDelay)
		if ready {
			rl.tokens -= 1.0
			rl.lastCall = now
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		select {
		case <-time.After(25 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RecordTokenUsage tracks token consumption for reporting.
func (rl *RateLimiter) RecordTokenUsage(tokens int64) {
	if rl == nil {
		return
	}
	rl.count(func(s *RateLimiter) { s.tokenUsed += tokens })
}

// Stats returns total requests, throttled requests, and tokens used.
func (rl *RateLimiter) Stats() (requests, throttled, tokens int64) {
	rl.statsMu.Lock()
	defer rl.statsMu.Unlock()
	return rl.requests, rl.throttled, rl.tokenUsed
}

func (rl *RateLimiter) count(fn func(*RateLimiter)) {
	rl.statsMu.Lock()
	defer rl.statsMu.Unlock()
	fn(rl)
}

// isThrottlingError checks if an error is a throttling error (HTTP 429).
func isThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "throttl") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}
