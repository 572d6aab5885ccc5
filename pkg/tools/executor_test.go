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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestExecutor(t *testing.T, toolset ...Tool) *Executor {
	t.Helper()
	reg := NewRegistry()
	for _, tool := range toolset {
		reg.Register(tool)
	}
	return NewExecutor(reg)
}

func TestExecutor_Invoke_Success(t *testing.T) {
	tool := &MockTool{MockName: "echo"}
	exec := setupTestExecutor(t, tool)

	result, err := exec.Invoke(context.Background(), "echo", map[string]interface{}{
		"input": "hello",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "mock result", result.Data)
	assert.Equal(t, 1, tool.Calls())
}

func TestExecutor_Invoke_ToolNotFound(t *testing.T) {
	exec := setupTestExecutor(t)

	result, err := exec.Invoke(context.Background(), "missing", nil)
	require.NoError(t, err, "missing tool is a tool-level failure, not a Go error")
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "tool_not_found", result.Error.Code)
}

func TestExecutor_Invoke_SchemaViolation(t *testing.T) {
	tool := &MockTool{
		MockName: "strict",
		MockSchema: NewObjectSchema("strict args", map[string]*JSONSchema{
			"count": NewNumberSchema("how many"),
		}, []string{"count"}),
	}
	exec := setupTestExecutor(t, tool)

	// Missing required argument
	result, err := exec.Invoke(context.Background(), "strict", map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "invalid_arguments", result.Error.Code)
	assert.False(t, result.Error.Retryable)
	assert.Zero(t, tool.Calls(), "tool must not execute on schema violation")

	// Wrong argument type
	result, err = exec.Invoke(context.Background(), "strict", map[string]interface{}{
		"count": "three",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "invalid_arguments", result.Error.Code)
	assert.Zero(t, tool.Calls())
}

func TestExecutor_Invoke_ExecutionError(t *testing.T) {
	tool := &MockTool{
		MockName: "flaky",
		MockExecute: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return nil, errors.New("backend unavailable")
		},
	}
	exec := setupTestExecutor(t, tool)

	result, err := exec.Invoke(context.Background(), "flaky", map[string]interface{}{"input": "x"})
	require.NoError(t, err, "execution failure is encoded in the result")
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "execution_failed", result.Error.Code)
	assert.Contains(t, result.Error.Message, "backend unavailable")
}

func TestExecutor_Invoke_Timeout(t *testing.T) {
	tool := &MockTool{
		MockName: "slow",
		MockExecute: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &Result{Success: true}, nil
			}
		},
	}
	exec := setupTestExecutor(t, tool)
	exec.SetTimeout(50 * time.Millisecond)

	result, err := exec.Invoke(context.Background(), "slow", map[string]interface{}{"input": "x"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "execution_timeout", result.Error.Code)
	assert.True(t, result.Error.Retryable)
}

func TestExecutor_Invoke_NilResult(t *testing.T) {
	tool := &MockTool{
		MockName: "quiet",
		MockExecute: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return nil, nil
		},
	}
	exec := setupTestExecutor(t, tool)

	result, err := exec.Invoke(context.Background(), "quiet", map[string]interface{}{"input": "x"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
}

func TestExecutor_Invoke_NormalizesArgumentNames(t *testing.T) {
	tool := &MockTool{
		MockName: "cased",
		MockSchema: NewObjectSchema("camelCase args", map[string]*JSONSchema{
			"maxResults": NewNumberSchema("limit"),
		}, nil),
	}
	exec := setupTestExecutor(t, tool)

	// LLM emits snake_case; tool schema declares camelCase
	result, err := exec.Invoke(context.Background(), "cased", map[string]interface{}{
		"max_results": float64(5),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, tool.LastArgs, "maxResults")
	assert.NotContains(t, tool.LastArgs, "max_results")
}

func TestExecutor_Invoke_SetsExecutionTime(t *testing.T) {
	tool := &MockTool{
		MockName: "timed",
		MockExecute: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			time.Sleep(10 * time.Millisecond)
			return &Result{Success: true, ExecutionTimeMs: -1}, nil
		},
	}
	exec := setupTestExecutor(t, tool)

	result, err := exec.Invoke(context.Background(), "timed", map[string]interface{}{"input": "x"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.ExecutionTimeMs, int64(10), "executor timing is authoritative")
}

func TestExecutor_Invoke_ContainsToolPanic(t *testing.T) {
	tool := &MockTool{
		MockName: "volatile",
		MockExecute: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			panic("collaborator exploded")
		},
	}
	executor := setupTestExecutor(t, tool)

	result, err := executor.Invoke(context.Background(), "volatile", map[string]interface{}{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "tool_panic", result.Error.Code)
	assert.Contains(t, result.Error.Message, "collaborator exploded")
}

func TestExecutor_Invoke_ValidatesDeclaredOutput(t *testing.T) {
	outputSchema := NewObjectSchema("result", map[string]*JSONSchema{
		"count": NewNumberSchema("a number"),
	}, []string{"count"})

	tool := &MockTool{
		MockName:         "counted",
		MockOutputSchema: outputSchema,
		MockExecute: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return &Result{Success: true, Data: map[string]interface{}{"count": "not a number"}}, nil
		},
	}
	executor := setupTestExecutor(t, tool)

	result, err := executor.Invoke(context.Background(), "counted", map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "invalid_output", result.Error.Code)

	tool.MockExecute = func(ctx context.Context, args map[string]interface{}) (*Result, error) {
		return &Result{Success: true, Data: map[string]interface{}{"count": 3}}, nil
	}
	result, err = executor.Invoke(context.Background(), "counted", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestExecutor_Invoke_SkipsOutputValidationWithoutSchema(t *testing.T) {
	tool := &MockTool{
		MockName: "loose",
		MockExecute: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return &Result{Success: true, Data: "free-form text"}, nil
		},
	}
	executor := setupTestExecutor(t, tool)

	result, err := executor.Invoke(context.Background(), "loose", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestExecutor_Invoke_NormalizesInputSchema(t *testing.T) {
	// Type omitted but properties declared: normalization infers
	// "object" before validation.
	tool := &MockTool{
		MockName: "untyped",
		MockSchema: &JSONSchema{
			Properties: map[string]*JSONSchema{
				"n": NewNumberSchema("a number"),
			},
			Required: []string{"n"},
		},
	}
	executor := setupTestExecutor(t, tool)

	result, err := executor.Invoke(context.Background(), "untyped", map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "invalid_arguments", result.Error.Code)

	result, err = executor.Invoke(context.Background(), "untyped", map[string]interface{}{"n": 1})
	require.NoError(t, err)
	assert.True(t, result.Success)
}
