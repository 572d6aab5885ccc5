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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateArguments_NilSchema(t *testing.T) {
	err := ValidateArguments(nil, map[string]interface{}{"anything": "goes"})
	assert.NoError(t, err)
}

func TestValidateArguments_Valid(t *testing.T) {
	schema := NewObjectSchema("test", map[string]*JSONSchema{
		"url":   NewStringSchema("target url"),
		"limit": NewNumberSchema("max items"),
	}, []string{"url"})

	err := ValidateArguments(schema, map[string]interface{}{
		"url":   "https://example.com",
		"limit": float64(10),
	})
	assert.NoError(t, err)
}

func TestValidateArguments_MissingRequired(t *testing.T) {
	schema := NewObjectSchema("test", map[string]*JSONSchema{
		"url": NewStringSchema("target url"),
	}, []string{"url"})

	err := ValidateArguments(schema, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

func TestValidateArguments_WrongType(t *testing.T) {
	schema := NewObjectSchema("test", map[string]*JSONSchema{
		"limit": NewNumberSchema("max items"),
	}, []string{"limit"})

	err := ValidateArguments(schema, map[string]interface{}{
		"limit": "ten",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")
}

func TestValidateArguments_EnumViolation(t *testing.T) {
	schema := NewObjectSchema("test", map[string]*JSONSchema{
		"method": NewStringSchema("http method").WithEnum("GET", "POST"),
	}, []string{"method"})

	assert.NoError(t, ValidateArguments(schema, map[string]interface{}{"method": "GET"}))
	assert.Error(t, ValidateArguments(schema, map[string]interface{}{"method": "TRACE"}))
}

func TestNormalizeSchema_NilProperties(t *testing.T) {
	schema := &JSONSchema{Type: "object"}

	normalized := NormalizeSchema(schema)
	require.NotNil(t, normalized.Properties, "object schemas must have non-nil properties")
}

func TestNormalizeSchema_InfersObjectType(t *testing.T) {
	schema := &JSONSchema{
		Properties: map[string]*JSONSchema{
			"name": {Type: "string"},
		},
	}

	normalized := NormalizeSchema(schema)
	assert.Equal(t, "object", normalized.Type)
}

func TestNormalizeSchema_Nested(t *testing.T) {
	schema := &JSONSchema{
		Type: "object",
		Properties: map[string]*JSONSchema{
			"nested": {Type: "object"},
			"list":   {Type: "array", Items: &JSONSchema{Type: "object"}},
		},
	}

	normalized := NormalizeSchema(schema)
	assert.NotNil(t, normalized.Properties["nested"].Properties)
	assert.NotNil(t, normalized.Properties["list"].Items.Properties)
}

func TestNormalizeSchema_Nil(t *testing.T) {
	assert.Nil(t, NormalizeSchema(nil))
}
