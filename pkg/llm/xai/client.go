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
// Package xai adapts xAI's Grok models to the Provider contract. The
// xAI API is OpenAI-compatible, so the OpenAI SDK is pointed at the
// x.ai base URL.
package xai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
)

const (
	// DefaultModel is the default Grok model
	DefaultModel = "grok-3-mini"
	// DefaultBaseURL is the xAI API endpoint
	DefaultBaseURL = "https://api.x.ai/v1"
	// DefaultMaxTokens is the default response cap per request
	DefaultMaxTokens = 4096
	// DefaultTemperature is the default sampling temperature
	DefaultTemperature = 1.0
)

// Config holds configuration for the xAI adapter.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	RateLimiter *llm.RateLimiter
}

// Client implements the Provider contract against the xAI API.
type Client struct {
	sdk         openai.Client
	model       string
	maxTokens   int64
	temperature float64
	limiter     *llm.RateLimiter

	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an xAI-backed client.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}

	return &Client{
		sdk: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
		),
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
		limiter:     cfg.RateLimiter,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return "xai" }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends a conversation to xAI and returns the response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, toolset []tools.Tool) (*types.LLMResponse, error) {
	sdkMessages := toSDKMessages(messages)
	if len(sdkMessages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    sdkMessages,
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(c.temperature),
	}
	if len(toolset) > 0 {
		params.Tools = toSDKTools(toolset)
	}

	var completion *openai.ChatCompletion
	var err error
	if c.limiter != nil {
		var result interface{}
		result, err = c.limiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
			return c.sdk.Chat.Completions.New(ctx, params)
		})
		if err == nil {
			completion = result.(*openai.ChatCompletion)
		}
	} else {
		completion, err = c.sdk.Chat.Completions.New(ctx, params)
	}
	if err != nil {
		return nil, c.classify(err)
	}

	if c.limiter != nil {
		c.limiter.RecordTokenUsage(completion.Usage.TotalTokens)
	}
	return c.fromCompletion(completion), nil
}

// Ping checks API reachability with a cheap models listing.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("xai unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("xai rejected credentials (status %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("xai unavailable (status %d)", resp.StatusCode)
	}
	return nil
}

// classify maps SDK failures to the typed provider error.
func (c *Client) classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		status := apierr.StatusCode
		return &types.ProviderError{
			Provider:   "xai",
			Model:      c.model,
			StatusCode: status,
			Message:    apierr.Error(),
			Retryable:  status == http.StatusTooManyRequests || status >= 500,
			Err:        err,
		}
	}
	return fmt.Errorf("xai call failed: %w", err)
}

// toSDKMessages converts runtime messages to OpenAI chat params.
func toSDKMessages(messages []types.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))

		case types.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))

		case types.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Input)
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(args),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		case types.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolUseID))
		}
	}
	return out
}

// toSDKTools converts tool definitions to OpenAI function tools.
func toSDKTools(toolset []tools.Tool) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(toolset))
	for _, tool := range toolset {
		def := shared.FunctionDefinitionParam{
			Name:        tool.Name(),
			Description: openai.String(tool.Description()),
		}
		if schema := tool.InputSchema(); schema != nil {
			raw, _ := json.Marshal(schema)
			var params map[string]interface{}
			_ = json.Unmarshal(raw, &params)
			def.Parameters = shared.FunctionParameters(params)
		}
		out = append(out, openai.ChatCompletionFunctionTool(def))
	}
	return out
}

// fromCompletion converts an OpenAI completion to the runtime shape.
func (c *Client) fromCompletion(completion *openai.ChatCompletion) *types.LLMResponse {
	resp := &types.LLMResponse{
		Usage: types.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
		Metadata: map[string]interface{}{
			"model":         completion.Model,
			"completion_id": completion.ID,
		},
	}

	if len(completion.Choices) == 0 {
		resp.StopReason = "stop"
		return resp
	}

	choice := completion.Choices[0]
	resp.Content = choice.Message.Content
	resp.StopReason = string(choice.FinishReason)

	for _, tc := range choice.Message.ToolCalls {
		var input map[string]interface{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		}
		if input == nil {
			input = map[string]interface{}{}
		}
		resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return resp
}
