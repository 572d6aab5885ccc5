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
// Package anthropic adapts Anthropic's Claude API to the Provider
// contract using the official SDK. The same message conversion backs
// the Bedrock adapter, which routes through this SDK with an AWS
// transport.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
)

const (
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxTokens is the default response cap per request
	DefaultMaxTokens = 4096
	// DefaultTemperature is the default sampling temperature
	DefaultTemperature = 1.0

	pingEndpoint = "https://api.anthropic.com/v1/models?limit=1"
	apiVersion   = "2023-06-01"
)

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	RateLimiter *llm.RateLimiter
}

// Client implements the Provider contract against the Anthropic API.
type Client struct {
	sdk         anthropic.Client
	name        string
	model       string
	maxTokens   int64
	temperature float64
	limiter     *llm.RateLimiter

	apiKey     string
	httpClient *http.Client
}

// NewClient creates an Anthropic-backed client.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}

	return &Client{
		sdk:         anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		name:        "anthropic",
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
		limiter:     cfg.RateLimiter,
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WrapSDK adapts a pre-configured SDK client (for example a
// Bedrock-backed one) to the Provider contract under a different
// provider name.
func WrapSDK(sdk anthropic.Client, name, model string, maxTokens int, temperature float64, limiter *llm.RateLimiter) *Client {
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	return &Client{
		sdk:         sdk,
		name:        name,
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: temperature,
		limiter:     limiter,
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends a conversation and returns the response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, toolset []tools.Tool) (*types.LLMResponse, error) {
	system, sdkMessages := toSDKMessages(messages)
	if len(sdkMessages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    sdkMessages,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(toolset) > 0 {
		params.Tools = toSDKTools(toolset)
	}

	var message *anthropic.Message
	var err error
	if c.limiter != nil {
		var result interface{}
		result, err = c.limiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
			return c.sdk.Messages.New(ctx, params)
		})
		if err == nil {
			message = result.(*anthropic.Message)
		}
	} else {
		message, err = c.sdk.Messages.New(ctx, params)
	}
	if err != nil {
		return nil, c.classify(err)
	}

	if c.limiter != nil {
		c.limiter.RecordTokenUsage(message.Usage.InputTokens + message.Usage.OutputTokens)
	}
	return c.fromSDKMessage(message), nil
}

// Ping checks API reachability with a cheap models listing.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingEndpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("anthropic unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("anthropic rejected credentials (status %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("anthropic unavailable (status %d)", resp.StatusCode)
	}
	return nil
}

// classify maps SDK failures to the typed provider error so the
// router can tell transient from fatal.
func (c *Client) classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &types.ProviderError{
			Provider:   c.name,
			Model:      c.model,
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
			Retryable:  retryableStatus(apierr.StatusCode),
			Err:        err,
		}
	}
	return fmt.Errorf("%s call failed: %w", c.name, err)
}

func retryableStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusRequestTimeout:
		return true
	case status == 529: // Anthropic "overloaded"
		return true
	case status >= 500:
		return true
	}
	return false
}

// toSDKMessages converts runtime messages to SDK params. System turns
// are collected into the separate system prompt the API expects.
func toSDKMessages(messages []types.Message) (string, []anthropic.MessageParam) {
	var system []string
	var out []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			if msg.Content != "" {
				system = append(system, msg.Content)
			}

		case types.RoleUser:
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}

		case types.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input interface{} = tc.Input
				if tc.Input == nil {
					input = map[string]interface{}{}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}

		case types.RoleTool:
			isError := msg.ToolResult != nil && !msg.ToolResult.Success
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolUseID, msg.Content, isError),
			))
		}
	}

	return strings.Join(system, "\n\n"), out
}

// toSDKTools converts tool definitions to the SDK's union params.
func toSDKTools(toolset []tools.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(toolset))
	for _, tool := range toolset {
		param := anthropic.ToolParam{
			Name:        tool.Name(),
			Description: anthropic.String(tool.Description()),
		}
		// Bedrock-hosted Claude rejects schemas with missing types or
		// nil properties, so normalize before serializing.
		if schema := tools.NormalizeSchema(tool.InputSchema()); schema != nil {
			// JSON round-trip to the SDK's schema param type
			raw, _ := json.Marshal(schema)
			var inputSchema anthropic.ToolInputSchemaParam
			_ = json.Unmarshal(raw, &inputSchema)
			param.InputSchema = inputSchema
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

// fromSDKMessage converts an SDK response to the runtime shape.
func (c *Client) fromSDKMessage(message *anthropic.Message) *types.LLMResponse {
	resp := &types.LLMResponse{
		StopReason: string(message.StopReason),
		Usage: types.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
			TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
			CostUSD:      estimateCost(c.model, int(message.Usage.InputTokens), int(message.Usage.OutputTokens)),
		},
		Metadata: map[string]interface{}{
			"model":      c.model,
			"message_id": message.ID,
		},
	}

	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			var input map[string]interface{}
			if block.Input != nil {
				_ = json.Unmarshal(block.Input, &input)
			}
			if input == nil {
				input = map[string]interface{}{}
			}
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	return resp
}

// estimateCost prices Claude usage by model family, USD per million
// tokens.
func estimateCost(model string, inputTokens, outputTokens int) float64 {
	var in, out float64
	switch {
	case strings.Contains(model, "haiku"):
		in, out = 0.8, 4.0
	case strings.Contains(model, "opus"):
		in, out = 15.0, 75.0
	default: // sonnet pricing
		in, out = 3.0, 15.0
	}
	return float64(inputTokens)*in/1e6 + float64(outputTokens)*out/1e6
}
