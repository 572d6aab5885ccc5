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
	"time"

	"github.com/teradata-labs/warp/pkg/memory"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
)

// MemorySearch queries the long-term archive. With an embedder it runs
// similarity search; without one it degrades to the keyword scan.
type MemorySearch struct {
	archive  memory.Archive
	embedder types.Embedder
}

// NewMemorySearch creates the memory search tool. embedder may be nil.
func NewMemorySearch(archive memory.Archive, embedder types.Embedder) *MemorySearch {
	return &MemorySearch{archive: archive, embedder: embedder}
}

func (t *MemorySearch) Name() string { return "memory_search" }

func (t *MemorySearch) Description() string {
	return "Searches long-term memory for records relevant to a query and returns the best matches."
}

func (t *MemorySearch) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("memory_search arguments", map[string]*tools.JSONSchema{
		"query": tools.NewStringSchema("what to look for"),
		"k":     tools.NewNumberSchema("maximum results to return").WithDefault(5),
	}, []string{"query"})
}

func (t *MemorySearch) OutputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("memory_search result", map[string]*tools.JSONSchema{
		"matches": tools.NewArraySchema("matched records, best first", nil),
		"count":   tools.NewNumberSchema("number of matches"),
	}, []string{"matches", "count"})
}

func (t *MemorySearch) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	start := time.Now()

	query, _ := args["query"].(string)
	k := 5
	if raw, ok := args["k"].(float64); ok && raw > 0 {
		k = int(raw)
	}

	matches := []map[string]interface{}{}
	if t.embedder != nil {
		vec, err := t.embedder.Embed(ctx, query)
		if err != nil {
			return t.fail(start, "embed_failed", err.Error(), true), nil
		}
		scored, err := t.archive.Query(ctx, vec, k, nil)
		if err != nil {
			return t.fail(start, "query_failed", err.Error(), true), nil
		}
		for _, rec := range scored {
			matches = append(matches, map[string]interface{}{
				"id":         rec.ID,
				"text":       rec.Text,
				"similarity": rec.Similarity,
				"created_at": rec.CreatedAt.Format(time.RFC3339),
				"metadata":   rec.Metadata,
			})
		}
	} else {
		records, err := t.archive.QueryText(ctx, query, k)
		if err != nil {
			return t.fail(start, "query_failed", err.Error(), true), nil
		}
		for _, rec := range records {
			matches = append(matches, map[string]interface{}{
				"id":         rec.ID,
				"text":       rec.Text,
				"created_at": rec.CreatedAt.Format(time.RFC3339),
				"metadata":   rec.Metadata,
			})
		}
	}

	return &tools.Result{
		Success: true,
		Data: map[string]interface{}{
			"matches": matches,
			"count":   len(matches),
		},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func (t *MemorySearch) fail(start time.Time, code, msg string, retryable bool) *tools.Result {
	return &tools.Result{
		Success: false,
		Error: &tools.Error{
			Code:      code,
			Message:   msg,
			Retryable: retryable,
		},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}
