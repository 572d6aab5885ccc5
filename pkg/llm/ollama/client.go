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
// Package ollama adapts a local Ollama server to the Provider contract
// and supplies the embedding backend for long-term memory. Ollama has
// no official Go SDK; the HTTP API is small and stable.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
)

const (
	// DefaultEndpoint is the default local Ollama server
	DefaultEndpoint = "http://localhost:11434"
	// DefaultModel is the default chat model
	DefaultModel = "llama3.1"
	// DefaultMaxTokens is the default response cap per request
	DefaultMaxTokens = 4096
	// DefaultTemperature is the default sampling temperature
	DefaultTemperature = 1.0
	// DefaultTimeout is the default HTTP timeout; local generation on
	// modest hardware is slow
	DefaultTimeout = 300 * time.Second
)

// Config holds configuration for the Ollama adapter.
type Config struct {
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Client implements the Provider contract against a local Ollama
// server.
type Client struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewClient creates an Ollama-backed client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return "ollama" }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends a conversation to Ollama and returns the response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, toolset []tools.Tool) (*types.LLMResponse, error) {
	req := chatRequest{
		Model:    c.model,
		Messages: toAPIMessages(messages),
		Stream:   false,
		Options: map[string]interface{}{
			"temperature": c.temperature,
			"num_predict": c.maxTokens,
		},
	}
	for _, tool := range toolset {
		req.Tools = append(req.Tools, apiTool{
			Type: "function",
			Function: apiFunction{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.InputSchema(),
			},
		})
	}

	var resp chatResponse
	if err := c.post(ctx, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	return c.fromResponse(&resp), nil
}

// Ping checks server reachability via the tags listing.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama unavailable (status %d)", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &types.ProviderError{
			Provider:   "ollama",
			Model:      c.model,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// toAPIMessages converts runtime messages to the Ollama wire format.
func toAPIMessages(messages []types.Message) []apiMessage {
	out := make([]apiMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem, types.RoleUser, types.RoleAssistant:
			out = append(out, apiMessage{Role: msg.Role, Content: msg.Content})
		case types.RoleTool:
			out = append(out, apiMessage{Role: "tool", Content: msg.Content})
		}
	}
	return out
}

// fromResponse converts an Ollama response to the runtime shape.
// Local models occasionally return tool arguments as a fenced JSON
// string instead of an object.
func (c *Client) fromResponse(resp *chatResponse) *types.LLMResponse {
	out := &types.LLMResponse{
		Content:    resp.Message.Content,
		StopReason: "stop",
		Usage: types.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
			TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
		},
		Metadata: map[string]interface{}{
			"model": resp.Model,
		},
	}

	for _, tc := range resp.Message.ToolCalls {
		var input map[string]interface{}
		switch args := tc.Function.Arguments.(type) {
		case string:
			if err := json.Unmarshal([]byte(stripFences(args)), &input); err != nil {
				input = map[string]interface{}{}
			}
		case map[string]interface{}:
			input = args
		default:
			input = map[string]interface{}{}
		}

		id := tc.ID
		if id == "" {
			id = "call-" + uuid.New().String()
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:    id,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return out
}

// stripFences removes markdown code fences around a JSON payload.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Ollama API types

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []apiMessage           `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []apiTool              `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type apiMessage struct {
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	ToolCalls []apiToolCall `json:"tool_calls,omitempty"`
}

type apiTool struct {
	Type     string      `json:"type"`
	Function apiFunction `json:"function"`
}

type apiFunction struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  *tools.JSONSchema `json:"parameters"`
}

type apiToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string      `json:"name"`
		Arguments interface{} `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Model           string     `json:"model"`
	Message         apiToolMsg `json:"message"`
	Done            bool       `json:"done"`
	PromptEvalCount int        `json:"prompt_eval_count"`
	EvalCount       int        `json:"eval_count"`
}

type apiToolMsg struct {
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	ToolCalls []apiToolCall `json:"tool_calls,omitempty"`
}
