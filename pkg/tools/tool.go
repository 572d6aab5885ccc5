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
	"encoding/json"
)

// Tool defines the interface for executable tools in the agent runtime.
// Tools are the mechanism by which agents act on the world. Each tool
// encapsulates a single capability with a JSON Schema contract for its
// arguments, so the runtime can validate model-produced calls before
// executing them.
type Tool interface {
	// Name returns the tool's unique identifier
	Name() string

	// Description returns a human-readable description for LLM context
	Description() string

	// InputSchema returns the JSON Schema for tool arguments
	InputSchema() *JSONSchema

	// Execute runs the tool with given arguments
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// OutputDeclarer is implemented by tools that declare a JSON Schema
// for their result data. The executor validates successful results
// against it; tools without one (or returning nil) are unvalidated.
type OutputDeclarer interface {
	OutputSchema() *JSONSchema
}

// Result represents the outcome of tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool

	// Data contains the result data (format varies by tool)
	Data interface{}

	// Error contains error information if execution failed
	Error *Error

	// Metadata contains tool-specific metadata
	Metadata map[string]interface{}

	// ExecutionTime in milliseconds
	ExecutionTimeMs int64
}

// Error represents a tool execution error with structured information.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Details provides additional error context
	Details map[string]interface{}

	// Retryable indicates if the operation can be retried
	Retryable bool

	// Suggestion provides a suggestion for fixing the error
	Suggestion string
}

// JSONSchema represents a JSON Schema for tool arguments.
// This follows the JSON Schema spec for type definitions.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
	Format      string                 `json:"format,omitempty"`
	Pattern     string                 `json:"pattern,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
	MinLength   *int                   `json:"minLength,omitempty"`
	MaxLength   *int                   `json:"maxLength,omitempty"`
}

// ToJSON converts the schema to JSON bytes.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON creates a JSONSchema from JSON bytes.
func FromJSON(data []byte) (*JSONSchema, error) {
	var schema JSONSchema
	err := json.Unmarshal(data, &schema)
	if err != nil {
		return nil, err
	}
	return &schema, nil
}

// ToMap converts the schema to a generic map, the shape most provider
// SDKs expect for tool definitions.
func (s *JSONSchema) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewObjectSchema creates a new object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*JSONSchema, required []string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema creates a new string schema.
func NewStringSchema(description string) *JSONSchema {
	return &JSONSchema{
		Type:        "string",
		Description: description,
	}
}

// NewNumberSchema creates a new number schema.
func NewNumberSchema(description string) *JSONSchema {
	return &JSONSchema{
		Type:        "number",
		Description: description,
	}
}

// NewBooleanSchema creates a new boolean schema.
func NewBooleanSchema(description string) *JSONSchema {
	return &JSONSchema{
		Type:        "boolean",
		Description: description,
	}
}

// NewArraySchema creates a new array schema.
func NewArraySchema(description string, items *JSONSchema) *JSONSchema {
	return &JSONSchema{
		Type:        "array",
		Description: description,
		Items:       items,
	}
}

// WithEnum adds enum values to the schema.
func (s *JSONSchema) WithEnum(values ...interface{}) *JSONSchema {
	s.Enum = values
	return s
}

// WithDefault adds a default value to the schema.
func (s *JSONSchema) WithDefault(value interface{}) *JSONSchema {
	s.Default = value
	return s
}

// WithFormat adds a format constraint to the schema.
func (s *JSONSchema) WithFormat(format string) *JSONSchema {
	s.Format = format
	return s
}

// WithPattern adds a pattern constraint to the schema.
func (s *JSONSchema) WithPattern(pattern string) *JSONSchema {
	s.Pattern = pattern
	return s
}

// WithRange adds min/max constraints to the schema.
func (s *JSONSchema) WithRange(min, max *float64) *JSONSchema {
	s.Minimum = min
	s.Maximum = max
	return s
}

// WithLength adds length constraints to the schema.
func (s *JSONSchema) WithLength(minLen, maxLen *int) *JSONSchema {
	s.MinLength = minLen
	s.MaxLength = maxLen
	return s
}
