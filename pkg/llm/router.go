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
// Package llm routes requests across LLM providers under capability,
// cost, and availability constraints, with bounded fallback chains.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
)

// Tie-break policies for providers with equal cost and latency class.
const (
	// TieBreakName orders by provider name (lexical). Deterministic
	// regardless of registration order; the default.
	TieBreakName = "name"

	// TieBreakConfigOrder preserves registration order.
	TieBreakConfigOrder = "config_order"
)

const (
	// DefaultAttemptTimeout bounds a single provider call within Execute.
	DefaultAttemptTimeout = 120 * time.Second

	// DefaultProbeTTL is how long a probe result is trusted before the
	// provider is re-probed.
	DefaultProbeTTL = 30 * time.Second
)

// Request is one routed LLM call: the capability tags it requires, the
// conversation to send, and an optional explicit provider hint.
type Request struct {
	// Capabilities the chosen provider must cover, all of them
	Capabilities []types.Capability

	// ProviderHint pins the request to a named profile. The hint
	// bypasses cost scoring but not the capability filter or probe.
	ProviderHint string

	// Messages is the conversation to send
	Messages []types.Message

	// Tools offered to the model for this call
	Tools []tools.Tool
}

// Config configures the router.
type Config struct {
	// TieBreak resolves equal cost + equal latency ties
	// (TieBreakName or TieBreakConfigOrder)
	TieBreak string `mapstructure:"tie_break"`

	// AttemptTimeout is the fresh per-attempt deadline within Execute
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`

	// ProbeTTL caches availability probe results
	ProbeTTL time.Duration `mapstructure:"probe_ttl"`

	// Logger for routing decisions; nil means no logging
	Logger *zap.Logger `mapstructure:"-"`
}

// probeResult is one cached availability probe outcome.
type probeResult struct {
	at  time.Time
	err error
}

// Router selects a provider per request and executes calls with
// fallback. It persists nothing: every attempt is returned to the
// caller as a structured record.
type Router struct {
	mu        sync.RWMutex
	profiles  []*types.ProviderProfile
	providers map[string]types.Provider
	probes    map[string]probeResult

	cfg    Config
	logger *zap.Logger
}

// NewRouter creates an empty router. Profiles are attached with
// Register; the set is static for the process lifetime.
func NewRouter(cfg Config) *Router {
	if cfg.TieBreak == "" {
		cfg.TieBreak = TieBreakName
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.ProbeTTL <= 0 {
		cfg.ProbeTTL = DefaultProbeTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Router{
		providers: make(map[string]types.Provider),
		probes:    make(map[string]probeResult),
		cfg:       cfg,
		logger:    cfg.Logger,
	}
}

// Register attaches a provider under its profile. Profile names must
// be unique.
func (r *Router) Register(profile *types.ProviderProfile, provider types.Provider) error {
	if profile == nil || profile.Name == "" {
		return fmt.Errorf("profile with a name is required")
	}
	if provider == nil {
		return fmt.Errorf("provider is required for profile %s", profile.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[profile.Name]; exists {
		return fmt.Errorf("provider profile %s already registered", profile.Name)
	}
	r.profiles = append(r.profiles, profile)
	r.providers[profile.Name] = provider
	return nil
}

// Profiles returns the registered profiles in registration order.
func (r *Router) Profiles() []*types.ProviderProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.ProviderProfile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// Provider returns the registered provider for a profile name.
func (r *Router) Provider(name string) (types.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Route selects the cheapest available capable provider and builds its
// fallback chain. The decision is ephemeral: recomputed per call, never
// persisted. An empty survivor set fails with types.RoutingError.
func (r *Router) Route(ctx context.Context, req *Request) (*types.RouteDecision, error) {
	r.mu.RLock()
	profiles := make([]*types.ProviderProfile, len(r.profiles))
	copy(profiles, r.profiles)
	r.mu.RUnlock()

	// Hint pins the choice but still requires capability + availability.
	if req.ProviderHint != "" {
		for _, p := range profiles {
			if p.Name != req.ProviderHint {
				continue
			}
			if !p.HasCapabilities(req.Capabilities) {
				return nil, &types.RoutingError{
					Required: req.Capabilities,
					Reason:   fmt.Sprintf("hinted provider %s lacks required capabilities", p.Name),
				}
			}
			if err := r.probe(ctx, p); err != nil {
				return nil, &types.RoutingError{
					Required: req.Capabilities,
					Reason:   fmt.Sprintf("hinted provider %s unavailable: %v", p.Name, err),
				}
			}
			return &types.RouteDecision{Provider: p, ReasonTag: "explicit_hint"}, nil
		}
		return nil, &types.RoutingError{
			Required: req.Capabilities,
			Reason:   fmt.Sprintf("hinted provider %s not registered", req.ProviderHint),
		}
	}

	var capable, survivors []*types.ProviderProfile
	for _, p := range profiles {
		if !p.HasCapabilities(req.Capabilities) {
			continue
		}
		capable = append(capable, p)
		if err := r.probe(ctx, p); err != nil {
			r.logger.Debug("provider failed availability probe",
				zap.String("provider", p.Name), zap.Error(err))
			continue
		}
		survivors = append(survivors, p)
	}

	if len(capable) == 0 {
		return nil, &types.RoutingError{Required: req.Capabilities}
	}
	if len(survivors) == 0 {
		return nil, &types.RoutingError{
			Required: req.Capabilities,
			Reason:   "all capable providers failed their availability probe",
		}
	}

	r.order(survivors)

	decision := &types.RouteDecision{
		Provider:      survivors[0],
		FallbackChain: survivors[1:],
		ReasonTag:     "cheapest_capable",
	}
	if len(survivors) == 1 {
		decision.ReasonTag = "only_capable"
	}
	return decision, nil
}

// order sorts survivors by ascending cost weight, ties by ascending
// latency class, remaining ties by the configured tie-break knob.
// The sort is stable so config_order falls through naturally.
func (r *Router) order(survivors []*types.ProviderProfile) {
	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if a.CostWeight != b.CostWeight {
			return a.CostWeight < b.CostWeight
		}
		if a.LatencyClass.Rank() != b.LatencyClass.Rank() {
			return a.LatencyClass.Rank() < b.LatencyClass.Rank()
		}
		if r.cfg.TieBreak == TieBreakName {
			return a.Name < b.Name
		}
		return false
	})
}

// Execute routes the request and invokes the chain until one provider
// answers. Transient failures advance the chain with a fresh
// per-attempt timeout; non-transient failures fail immediately without
// consuming the chain. Exhausting the chain fails with
// types.AllProvidersExhausted. The attempt records are always
// returned, including on error, for the caller to persist.
func (r *Router) Execute(ctx context.Context, req *Request) (*types.LLMResponse, []types.Attempt, error) {
	decision, err := r.Route(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	var attempts []types.Attempt
	for _, profile := range decision.Chain() {
		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}

		provider, ok := r.Provider(profile.Name)
		if !ok {
			// Registration and profiles are attached together; a miss
			// here is a programming error.
			return nil, attempts, fmt.Errorf("no provider registered for profile %s", profile.Name)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		start := time.Now()
		resp, callErr := provider.Chat(attemptCtx, req.Messages, req.Tools)
		cancel()

		attempt := types.Attempt{
			Provider:  profile.Name,
			Model:     profile.Model,
			StartedAt: start,
			LatencyMs: time.Since(start).Milliseconds(),
			Success:   callErr == nil,
		}

		if callErr == nil {
			if resp != nil {
				attempt.Usage = resp.Usage
			}
			attempts = append(attempts, attempt)
			r.logger.Debug("provider call succeeded",
				zap.String("provider", profile.Name),
				zap.Int64("latency_ms", attempt.LatencyMs))
			return resp, attempts, nil
		}

		transient := isTransient(callErr)
		attempt.Error = callErr.Error()
		attempt.Retryable = transient
		attempts = append(attempts, attempt)

		// A failed attempt invalidates the cached probe so the next
		// Route re-checks this backend.
		r.invalidateProbe(profile.Name)

		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}
		if !transient {
			r.logger.Warn("provider call failed (non-transient)",
				zap.String("provider", profile.Name), zap.Error(callErr))
			return nil, attempts, callErr
		}

		r.logger.Warn("provider call failed, advancing fallback chain",
			zap.String("provider", profile.Name), zap.Error(callErr))
	}

	return nil, attempts, &types.AllProvidersExhausted{Attempts: attempts}
}

// Availability returns the current probe outcome per registered
// provider, for health reporting. Cached results within the TTL are
// reused.
func (r *Router) Availability(ctx context.Context) map[string]bool {
	r.mu.RLock()
	profiles := make([]*types.ProviderProfile, len(r.profiles))
	copy(profiles, r.profiles)
	r.mu.RUnlock()

	out := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		out[p.Name] = r.probe(ctx, p) == nil
	}
	return out
}

// probe evaluates a profile's availability predicate, caching the
// result for the configured TTL. A profile without a probe is always
// available.
func (r *Router) probe(ctx context.Context, p *types.ProviderProfile) error {
	if p.Probe == nil {
		return nil
	}

	r.mu.RLock()
	cached, ok := r.probes[p.Name]
	r.mu.RUnlock()
	if ok && time.Since(cached.at) < r.cfg.ProbeTTL {
		return cached.err
	}

	err := p.Probe(ctx)

	r.mu.Lock()
	r.probes[p.Name] = probeResult{at: time.Now(), err: err}
	r.mu.Unlock()
	return err
}

// invalidateProbe drops the cached probe for a provider.
func (r *Router) invalidateProbe(name string) {
	r.mu.Lock()
	delete(r.probes, name)
	r.mu.Unlock()
}

// isTransient reports whether a provider failure is worth advancing
// the fallback chain for. Typed provider errors carry the flag;
// untyped transport errors are sniffed for the usual throttling and
// server-side signatures.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var perr *types.ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range []string{
		"429", "throttl", "too many requests", "rate limit",
		"status 500", "status 502", "status 503", "status 504",
		"timeout", "deadline exceeded", "connection refused", "connection reset",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
