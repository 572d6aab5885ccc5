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
// Package factory constructs provider adapters from profiles and wires
// their availability probes, keeping adapter imports out of the router.
package factory

import (
	"context"
	"fmt"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/llm/anthropic"
	"github.com/teradata-labs/warp/pkg/llm/bedrock"
	"github.com/teradata-labs/warp/pkg/llm/gemini"
	"github.com/teradata-labs/warp/pkg/llm/ollama"
	"github.com/teradata-labs/warp/pkg/llm/xai"
	"github.com/teradata-labs/warp/pkg/types"
)

// Secrets carries the credentials adapters need. Values come from the
// OS keyring or environment, never from config files.
type Secrets struct {
	AnthropicAPIKey string
	GeminiAPIKey    string
	XAIAPIKey       string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
	AWSProfile         string

	OllamaEndpoint string
}

// pinger is implemented by every adapter; Build attaches it as the
// profile's availability probe.
type pinger interface {
	Ping(ctx context.Context) error
}

// Build constructs the adapter named by the profile and attaches its
// availability probe to the profile in place.
func Build(ctx context.Context, profile *types.ProviderProfile, secrets Secrets, limiter *llm.RateLimiter) (types.Provider, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}

	var provider types.Provider
	switch profile.Adapter {
	case "anthropic":
		if secrets.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("profile %s: anthropic API key not configured", profile.Name)
		}
		provider = anthropic.NewClient(anthropic.Config{
			APIKey:      secrets.AnthropicAPIKey,
			Model:       profile.Model,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
			RateLimiter: limiter,
		})

	case "bedrock":
		client, err := bedrock.NewClient(ctx, bedrock.Config{
			ModelID:         profile.Model,
			Region:          secrets.AWSRegion,
			AccessKeyID:     secrets.AWSAccessKeyID,
			SecretAccessKey: secrets.AWSSecretAccessKey,
			SessionToken:    secrets.AWSSessionToken,
			Profile:         secrets.AWSProfile,
			MaxTokens:       profile.MaxTokens,
			Temperature:     profile.Temperature,
			RateLimiter:     limiter,
		})
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
		}
		provider = client

	case "gemini":
		if secrets.GeminiAPIKey == "" {
			return nil, fmt.Errorf("profile %s: gemini API key not configured", profile.Name)
		}
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:      secrets.GeminiAPIKey,
			Model:       profile.Model,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
			RateLimiter: limiter,
		})
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
		}
		provider = client

	case "ollama":
		provider = ollama.NewClient(ollama.Config{
			Endpoint:    secrets.OllamaEndpoint,
			Model:       profile.Model,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
		})

	case "xai":
		if secrets.XAIAPIKey == "" {
			return nil, fmt.Errorf("profile %s: xai API key not configured", profile.Name)
		}
		provider = xai.NewClient(xai.Config{
			APIKey:      secrets.XAIAPIKey,
			Model:       profile.Model,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
			RateLimiter: limiter,
		})

	default:
		return nil, fmt.Errorf("profile %s: unknown adapter %q", profile.Name, profile.Adapter)
	}

	if p, ok := provider.(pinger); ok {
		profile.Probe = p.Ping
	}
	return provider, nil
}

// BuildEmbedder constructs the embedding backend for long-term memory.
func BuildEmbedder(endpoint, model string, dimensions int) types.Embedder {
	return ollama.NewEmbedder(ollama.EmbedderConfig{
		Endpoint:   endpoint,
		Model:      model,
		Dimensions: dimensions,
	})
}
