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
)

const (
	// DefaultEmbedModel is the default embedding model
	DefaultEmbedModel = "nomic-embed-text"
	// DefaultEmbedDimensions matches nomic-embed-text output
	DefaultEmbedDimensions = 768
)

// EmbedderConfig holds configuration for the Ollama embedder.
type EmbedderConfig struct {
	Endpoint   string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// Embedder produces embedding vectors via Ollama's embeddings
// endpoint. Dimensionality is fixed per model and per deployment.
type Embedder struct {
	endpoint   string
	model      string
	dims       int
	httpClient *http.Client
}

// NewEmbedder creates an Ollama-backed embedder.
func NewEmbedder(cfg EmbedderConfig) *Embedder {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbedModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultEmbedDimensions
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Embedder{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		dims:       cfg.Dimensions,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal embed response: %w", err)
	}
	if len(parsed.Embedding) != e.dims {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(parsed.Embedding), e.dims)
	}

	vec := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions returns the vector length this embedder produces.
func (e *Embedder) Dimensions() int { return e.dims }
