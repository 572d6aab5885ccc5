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
// Package bedrock adapts Claude models on AWS Bedrock to the Provider
// contract. The Anthropic SDK handles the Bedrock wire format and
// SigV4 signing; this package only supplies the AWS transport and
// credentials.
package bedrock

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/llm/anthropic"
)

const (
	// DefaultModelID is the default Bedrock Claude model
	DefaultModelID = "anthropic.claude-sonnet-4-5-20250929-v1:0"
	// DefaultRegion is the default AWS region
	DefaultRegion = "us-east-1"
)

// Config holds configuration for the Bedrock adapter. Credentials
// resolve in order: explicit keys, named profile, default chain.
type Config struct {
	ModelID         string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
	MaxTokens       int
	Temperature     float64
	RateLimiter     *llm.RateLimiter
}

// Client is a Bedrock-backed Claude provider. Chat is inherited from
// the embedded Anthropic adapter; only transport and health checking
// differ.
type Client struct {
	*anthropic.Client
	awsCfg aws.Config
}

// NewClient creates a Bedrock-backed client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	var awsCfg aws.Config
	var err error
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	case cfg.Profile != "":
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithSharedConfigProfile(cfg.Profile),
		)
	default:
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	sdk := anthropicsdk.NewClient(bedrock.WithConfig(awsCfg))
	return &Client{
		Client: anthropic.WrapSDK(sdk, "bedrock", cfg.ModelID, cfg.MaxTokens, cfg.Temperature, cfg.RateLimiter),
		awsCfg: awsCfg,
	}, nil
}

// Ping verifies resolvable AWS credentials. Bedrock has no cheap
// unauthenticated health endpoint, so credential resolution is the
// availability signal.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.awsCfg.Credentials.Retrieve(ctx); err != nil {
		return fmt.Errorf("bedrock credentials unavailable: %w", err)
	}
	return nil
}
