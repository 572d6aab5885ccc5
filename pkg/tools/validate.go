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
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateArguments validates tool arguments against the tool's JSON Schema.
// Model-produced arguments are untrusted input; every call is checked before
// execution so malformed calls surface as structured errors instead of
// reaching tool code.
func ValidateArguments(schema *JSONSchema, args map[string]interface{}) error {
	return validateAgainstSchema(schema, args, "arguments")
}

// ValidateOutput validates a tool's result data against its declared
// output schema. A result violating the contract is reported so the
// caller can record a failure turn instead of feeding malformed data
// back to the model.
func ValidateOutput(schema *JSONSchema, data interface{}) error {
	return validateAgainstSchema(schema, data, "output")
}

func validateAgainstSchema(schema *JSONSchema, doc interface{}, what string) error {
	if schema == nil {
		return nil // No schema = no validation
	}

	schemaMap, err := schema.ToMap()
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	schemaLoader := gojsonschema.NewGoLoader(schemaMap)
	docLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		errors := make([]string, len(result.Errors()))
		for i, err := range result.Errors() {
			errors[i] = err.String()
		}
		return fmt.Errorf("invalid %s: %s", what, strings.Join(errors, "; "))
	}

	return nil
}

// NormalizeSchema ensures a JSON Schema complies with JSON Schema draft 2020-12.
// This is critical for Bedrock Claude models which strictly validate schemas.
//
// Common issues fixed:
// - Object types with nil properties -> empty map {}
// - Missing type fields -> inferred from structure
// - Nested objects with nil properties -> recursively normalized
func NormalizeSchema(schema *JSONSchema) *JSONSchema {
	if schema == nil {
		return nil
	}

	// Ensure object types have non-nil properties
	if schema.Type == "object" {
		if schema.Properties == nil {
			schema.Properties = make(map[string]*JSONSchema)
		}

		// Recursively normalize nested schemas
		for key, prop := range schema.Properties {
			schema.Properties[key] = NormalizeSchema(prop)
		}
	}

	// Ensure array types have items schema
	if schema.Type == "array" && schema.Items != nil {
		schema.Items = NormalizeSchema(schema.Items)
	}

	// Infer type if missing but structure is clear
	if schema.Type == "" {
		if schema.Properties != nil {
			schema.Type = "object"
			for key, prop := range schema.Properties {
				schema.Properties[key] = NormalizeSchema(prop)
			}
		} else if schema.Items != nil {
			schema.Type = "array"
			schema.Items = NormalizeSchema(schema.Items)
		} else if len(schema.Enum) > 0 {
			schema.Type = "string"
		}
	}

	return schema
}
