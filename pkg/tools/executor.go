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
package tools

import (
	"context"
	"fmt"
	"time"
	"unicode"
)

// DefaultInvokeTimeout bounds a single tool execution.
const DefaultInvokeTimeout = 60 * time.Second

// Executor executes tools with schema validation, timeout enforcement,
// and structured error reporting. A failed tool never returns a Go error
// from Invoke; failures are encoded in the Result so the caller can
// record them as error turns and keep running.
type Executor struct {
	registry *Registry
	timeout  time.Duration
}

// NewExecutor creates a new tool executor.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry: registry,
		timeout:  DefaultInvokeTimeout,
	}
}

// SetTimeout overrides the per-invocation timeout. Zero or negative
// values disable the timeout.
func (e *Executor) SetTimeout(timeout time.Duration) {
	e.timeout = timeout
}

// Registry returns the executor's tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Invoke executes a tool by name with the given arguments.
// Arguments are validated against the tool's input schema first; a
// schema violation is reported as a failed Result, not a Go error.
func (e *Executor) Invoke(ctx context.Context, toolName string, args map[string]interface{}) (*Result, error) {
	start := time.Now()

	tool, ok := e.registry.Get(toolName)
	if !ok {
		return &Result{
			Success: false,
			Error: &Error{
				Code:       "tool_not_found",
				Message:    "tool not found: " + toolName,
				Suggestion: "use one of the registered tools",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	// Normalize argument names to match schema expectations.
	// LLMs naturally use snake_case, but some tools expect camelCase.
	normalized := normalizeArgumentsToSchema(tool, args)

	if err := ValidateArguments(NormalizeSchema(tool.InputSchema()), normalized); err != nil {
		return &Result{
			Success: false,
			Error: &Error{
				Code:       "invalid_arguments",
				Message:    err.Error(),
				Retryable:  false,
				Suggestion: "correct the arguments to match the tool's input schema",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	result, err := safeExecute(ctx, tool, normalized)
	duration := time.Since(start)

	if err != nil {
		code := "execution_failed"
		if ctx.Err() == context.DeadlineExceeded {
			code = "execution_timeout"
		}
		return &Result{
			Success:         false,
			Error:           &Error{Code: code, Message: err.Error(), Retryable: code == "execution_timeout"},
			ExecutionTimeMs: duration.Milliseconds(),
		}, nil
	}

	if result == nil {
		result = &Result{Success: true}
	}

	if result.Success {
		if verr := validateDeclaredOutput(tool, result.Data); verr != nil {
			return &Result{
				Success: false,
				Error: &Error{
					Code:       "invalid_output",
					Message:    verr.Error(),
					Suggestion: "the tool produced data violating its declared output schema",
				},
				ExecutionTimeMs: duration.Milliseconds(),
			}, nil
		}
	}

	// Executor timing is authoritative
	result.ExecutionTimeMs = duration.Milliseconds()

	return result, nil
}

// safeExecute runs the tool and contains panics: a panicking tool
// becomes a failed Result like any other tool error, never taking down
// the calling loop.
func safeExecute(ctx context.Context, tool Tool, args map[string]interface{}) (result *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = &Result{
				Success: false,
				Error: &Error{
					Code:    "tool_panic",
					Message: fmt.Sprintf("tool %s panicked: %v", tool.Name(), rec),
				},
			}
			err = nil
		}
	}()
	return tool.Execute(ctx, args)
}

// validateDeclaredOutput checks successful result data against the
// tool's output schema, when it declares one.
func validateDeclaredOutput(tool Tool, data interface{}) error {
	decl, ok := tool.(OutputDeclarer)
	if !ok {
		return nil
	}
	schema := decl.OutputSchema()
	if schema == nil {
		return nil
	}
	return ValidateOutput(NormalizeSchema(schema), data)
}

// normalizeArgumentsToSchema attempts to normalize argument names to match the tool's schema.
// This handles the common issue where LLMs use snake_case but tools expect camelCase (or vice versa).
func normalizeArgumentsToSchema(tool Tool, args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return args
	}

	schema := tool.InputSchema()
	if schema == nil || schema.Properties == nil {
		return args // No schema to normalize against
	}

	schemaKeys := make(map[string]string)
	for key := range schema.Properties {
		schemaKeys[toLowerUnderscore(key)] = key
	}

	normalized := make(map[string]interface{}, len(args))
	for key, value := range args {
		normalizedKey := toLowerUnderscore(key)
		if schemaKey, exists := schemaKeys[normalizedKey]; exists {
			normalized[schemaKey] = value
		} else {
			normalized[key] = value
		}
	}

	return normalized
}

// toLowerUnderscore converts any naming convention to lowercase with underscores.
// This allows matching camelCase, snake_case, PascalCase, etc.
func toLowerUnderscore(s string) string {
	if s == "" {
		return ""
	}

	var result []rune
	for i, r := range s {
		lower := unicode.ToLower(r)

		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '_')
		}

		result = append(result, lower)
	}

	return string(result)
}
