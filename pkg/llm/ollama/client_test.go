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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/types"
)

func TestChatConvertsMessagesAndResponse(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		resp := map[string]interface{}{
			"model": "llama3.1",
			"done":  true,
			"message": map[string]interface{}{
				"role":    "assistant",
				"content": "the answer",
			},
			"prompt_eval_count": 12,
			"eval_count":        7,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, Model: "llama3.1"})
	resp, err := client.Chat(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: "be terse"},
		{Role: types.RoleUser, Content: "question"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "the answer", resp.Content)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)
	assert.Equal(t, 19, resp.Usage.TotalTokens)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.False(t, captured.Stream)
}

func TestChatParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"model": "llama3.1",
			"done":  true,
			"message": map[string]interface{}{
				"role":    "assistant",
				"content": "",
				"tool_calls": []map[string]interface{}{
					{
						"function": map[string]interface{}{
							"name":      "current_time",
							"arguments": map[string]interface{}{"timezone": "UTC"},
						},
					},
					{
						// Fenced string arguments happen with local models
						"function": map[string]interface{}{
							"name":      "http_fetch",
							"arguments": "```json\n{\"url\": \"https://example.com\"}\n```",
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL})
	resp, err := client.Chat(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "what time is it"},
	}, nil)
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "current_time", resp.ToolCalls[0].Name)
	assert.Equal(t, "UTC", resp.ToolCalls[0].Input["timezone"])
	assert.NotEmpty(t, resp.ToolCalls[0].ID)
	assert.Equal(t, "http_fetch", resp.ToolCalls[1].Name)
	assert.Equal(t, "https://example.com", resp.ToolCalls[1].Input["url"])
}

func TestChatServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL})
	_, err := client.Chat(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "hi"},
	}, nil)
	require.Error(t, err)

	var perr *types.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Retryable)
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL})
	assert.NoError(t, client.Ping(context.Background()))

	server.Close()
	assert.Error(t, client.Ping(context.Background()))
}

func TestEmbedderRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req["model"])
		assert.Equal(t, "remember this", req["prompt"])

		vec := make([]float64, 768)
		vec[0] = 0.5
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": vec})
	}))
	defer server.Close()

	embedder := NewEmbedder(EmbedderConfig{Endpoint: server.URL})
	assert.Equal(t, 768, embedder.Dimensions())

	vec, err := embedder.Embed(context.Background(), "remember this")
	require.NoError(t, err)
	require.Len(t, vec, 768)
	assert.InDelta(t, 0.5, vec[0], 1e-6)
}

func TestEmbedderRejectsDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float64{0.1, 0.2}})
	}))
	defer server.Close()

	embedder := NewEmbedder(EmbedderConfig{Endpoint: server.URL})
	_, err := embedder.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}
