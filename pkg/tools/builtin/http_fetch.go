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
package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/teradata-labs/warp/pkg/tools"
)

const (
	// DefaultFetchMaxBytes caps how much of a response body is
	// returned to the model.
	DefaultFetchMaxBytes = 256 * 1024

	// DefaultFetchTimeout bounds one fetch.
	DefaultFetchTimeout = 30 * time.Second
)

// HTTPFetch retrieves a URL with a size-capped GET. Responses are
// external data; the loop prefixes them with the trust-boundary marker
// before they reach the model.
type HTTPFetch struct {
	maxBytes   int64
	httpClient *http.Client
}

// NewHTTPFetch creates the fetch tool. maxBytes <= 0 uses the default
// cap.
func NewHTTPFetch(maxBytes int64) *HTTPFetch {
	if maxBytes <= 0 {
		maxBytes = DefaultFetchMaxBytes
	}
	return &HTTPFetch{
		maxBytes:   maxBytes,
		httpClient: &http.Client{Timeout: DefaultFetchTimeout},
	}
}

func (t *HTTPFetch) Name() string { return "http_fetch" }

func (t *HTTPFetch) Description() string {
	return "Fetches a http(s) URL with GET and returns the response body, truncated to a size cap."
}

func (t *HTTPFetch) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("http_fetch arguments", map[string]*tools.JSONSchema{
		"url": tools.NewStringSchema("absolute http or https URL to fetch"),
	}, []string{"url"})
}

func (t *HTTPFetch) OutputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("http_fetch result", map[string]*tools.JSONSchema{
		"status":       tools.NewNumberSchema("HTTP status code"),
		"content_type": tools.NewStringSchema("response Content-Type header"),
		"body":         tools.NewStringSchema("response body, possibly truncated"),
		"truncated":    tools.NewBooleanSchema("whether the body hit the size cap"),
	}, []string{"status", "body"})
}

func (t *HTTPFetch) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	start := time.Now()
	fail := func(code, msg, suggestion string, retryable bool) (*tools.Result, error) {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:       code,
				Message:    msg,
				Retryable:  retryable,
				Suggestion: suggestion,
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	raw, _ := args["url"].(string)
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fail("invalid_url", fmt.Sprintf("not an absolute http(s) URL: %q", raw),
			"pass a full URL including the scheme", false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return fail("request_error", err.Error(), "", false)
	}
	req.Header.Set("User-Agent", "warp-agent/1.0")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fail("fetch_failed", err.Error(), "the host may be down; retry later", true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return fail("read_failed", err.Error(), "", true)
	}
	truncated := int64(len(body)) > t.maxBytes
	if truncated {
		body = body[:t.maxBytes]
	}

	return &tools.Result{
		Success: resp.StatusCode < 400,
		Data: map[string]interface{}{
			"status":       resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
			"body":         string(body),
			"truncated":    truncated,
		},
		Metadata: map[string]interface{}{
			"url": parsed.String(),
		},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
