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
// Package gemini adapts Google's Gemini models to the Provider
// contract using the Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
)

const (
	// DefaultModel is the default Gemini model
	DefaultModel = "gemini-2.5-flash"
	// DefaultMaxTokens is the default response cap per request
	DefaultMaxTokens = 8192
	// DefaultTemperature is the default sampling temperature
	DefaultTemperature = 1.0

	pingEndpoint = "https://generativelanguage.googleapis.com/v1beta/models?pageSize=1"
)

// Config holds configuration for the Gemini adapter.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	RateLimiter *llm.RateLimiter
}

// Client implements the Provider contract against the Gemini API.
type Client struct {
	sdk         *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	limiter     *llm.RateLimiter

	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Gemini-backed client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}

	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{
		sdk:         sdk,
		model:       cfg.Model,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: float32(cfg.Temperature),
		limiter:     cfg.RateLimiter,
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return "gemini" }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends a conversation to Gemini and returns the response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, toolset []tools.Tool) (*types.LLMResponse, error) {
	system, contents := toContents(messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	temp := c.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: c.maxTokens,
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if len(toolset) > 0 {
		cfg.Tools = toDeclarations(toolset)
	}

	var resp *genai.GenerateContentResponse
	var err error
	if c.limiter != nil {
		var result interface{}
		result, err = c.limiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
			return c.sdk.Models.GenerateContent(ctx, c.model, contents, cfg)
		})
		if err == nil {
			resp = result.(*genai.GenerateContentResponse)
		}
	} else {
		resp, err = c.sdk.Models.GenerateContent(ctx, c.model, contents, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("gemini call failed: %w", err)
	}

	out := c.fromResponse(resp)
	if c.limiter != nil {
		c.limiter.RecordTokenUsage(int64(out.Usage.TotalTokens))
	}
	return out, nil
}

// Ping checks API reachability with a cheap models listing.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingEndpoint+"&key="+c.apiKey, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("gemini rejected credentials (status %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("gemini unavailable (status %d)", resp.StatusCode)
	}
	return nil
}

// toContents converts runtime messages to Gemini contents. System
// turns are pulled out into the system instruction; tool results
// become function responses on the user role.
func toContents(messages []types.Message) (string, []*genai.Content) {
	var system []string
	var contents []*genai.Content
	toolNames := make(map[string]string) // tool call ID -> name

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			if msg.Content != "" {
				system = append(system, msg.Content)
			}

		case types.RoleUser:
			if msg.Content != "" {
				contents = append(contents, &genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: msg.Content}},
				})
			}

		case types.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				toolNames[tc.ID] = tc.Name
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Input,
					},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}

		case types.RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:   msg.ToolUseID,
						Name: toolNames[msg.ToolUseID],
						Response: map[string]any{
							"result": msg.Content,
						},
					},
				}},
			})
		}
	}

	return strings.Join(system, "\n\n"), contents
}

// toDeclarations converts tool definitions to Gemini function
// declarations.
func toDeclarations(toolset []tools.Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(toolset))
	for _, tool := range toolset {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  toSchema(tool.InputSchema()),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toSchema(s *tools.JSONSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toSchema(prop)
		}
	}
	if s.Items != nil {
		out.Items = toSchema(s.Items)
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeString
}

// fromResponse converts a Gemini response to the runtime shape.
func (c *Client) fromResponse(resp *genai.GenerateContentResponse) *types.LLMResponse {
	out := &types.LLMResponse{
		StopReason: "stop",
		Metadata: map[string]interface{}{
			"model": c.model,
		},
	}

	if resp.UsageMetadata != nil {
		out.Usage = types.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		if cand.FinishReason != "" {
			out.StopReason = string(cand.FinishReason)
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				out.Content += part.Text
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = "call-" + uuid.New().String()
				}
				out.ToolCalls = append(out.ToolCalls, types.ToolCall{
					ID:    id,
					Name:  part.FunctionCall.Name,
					Input: part.FunctionCall.Args,
				})
			}
		}
	}
	return out
}
