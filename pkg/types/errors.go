// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RoutingError means no configured provider satisfies a request's
// required capabilities. Fatal for the request; never retried
// internally.
type RoutingError struct {
	// Required lists the capability tags the request demanded
	Required []Capability

	// Reason describes why no provider qualified
	Reason string
}

func (e *RoutingError) Error() string {
	tags := make([]string, len(e.Required))
	for i, c := range e.Required {
		tags[i] = string(c)
	}
	msg := fmt.Sprintf("no eligible provider for capabilities [%s]", strings.Join(tags, ", "))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// AllProvidersExhausted means every entry in a route's fallback chain
// failed. Fatal to the step; the owning task is marked failed.
type AllProvidersExhausted struct {
	// Attempts records every provider call made, in order
	Attempts []Attempt
}

func (e *AllProvidersExhausted) Error() string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Provider
	}
	return fmt.Sprintf("all providers exhausted after %d attempts (%s)",
		len(e.Attempts), strings.Join(names, " -> "))
}

// StepBudgetExceeded means an agent loop hit its step cap without
// producing a final answer. The partial transcript is retained.
type StepBudgetExceeded struct {
	// Steps is the budget that was exhausted
	Steps int
}

func (e *StepBudgetExceeded) Error() string {
	return fmt.Sprintf("step budget of %d exceeded without final answer", e.Steps)
}

// TimeBudgetExceeded means an agent loop hit its wall-clock cap. The
// partial transcript is retained.
type TimeBudgetExceeded struct {
	// Limit is the wall-clock budget that was exhausted
	Limit time.Duration
}

func (e *TimeBudgetExceeded) Error() string {
	return fmt.Sprintf("wall-clock budget of %s exceeded", e.Limit)
}

// BudgetExhausted means a bounded resource ran out: a sub-agent's
// delegation budget, or a spend cap in the cost ledger. The consumer
// is force-terminated; the partial result is returned to its parent.
type BudgetExhausted struct {
	// Resource names the exhausted dimension (steps, tokens,
	// wall_clock, cost_run, cost_daily, cost_monthly, kill_switch)
	Resource string

	// Detail describes the limit that was hit
	Detail string
}

func (e *BudgetExhausted) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("budget exhausted: %s", e.Resource)
	}
	return fmt.Sprintf("budget exhausted: %s (%s)", e.Resource, e.Detail)
}

// MemoryWriteFailure means a long-term memory write did not persist.
// Surfaced to the caller, never silently dropped; short-term state is
// unaffected.
type MemoryWriteFailure struct {
	Err error
}

func (e *MemoryWriteFailure) Error() string {
	return fmt.Sprintf("long-term memory write failed: %v", e.Err)
}

func (e *MemoryWriteFailure) Unwrap() error {
	return e.Err
}

// ToolInvocationError means a tool call failed: schema mismatch or
// collaborator exception. Recorded as an error-flagged tool turn; the
// loop continues to the next planning step rather than aborting.
type ToolInvocationError struct {
	// Tool is the tool name invoked
	Tool string

	// Code is the machine-readable failure code
	Code string

	// Message describes the failure
	Message string
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s failed (%s): %s", e.Tool, e.Code, e.Message)
}

// ProviderError wraps a failure from one LLM backend call, classified
// so the router can decide between advancing the fallback chain
// (transient) and failing fast (non-transient).
type ProviderError struct {
	// Provider is the profile name
	Provider string

	// Model is the backend model invoked
	Model string

	// StatusCode is the HTTP status, when known
	StatusCode int

	// Message describes the failure
	Message string

	// Retryable marks transient failures (timeout, rate-limit, 5xx)
	Retryable bool

	// Err is the underlying error
	Err error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s (%s)", e.Provider, e.Model)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err represents a transient failure worth
// advancing the fallback chain for. Context cancellation is never
// retryable: a cancelled task must stop, not fail over.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
