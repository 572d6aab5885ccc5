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
package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/types"
)

const (
	// DefaultPromoteMinChars is the minimum evicted-content length
	// worth summarizing into long-term memory.
	DefaultPromoteMinChars = 200

	// promoteTimeout bounds one background promotion.
	promoteTimeout = 60 * time.Second
)

// SummaryRouter is the slice of the router the promoter needs.
type SummaryRouter interface {
	Execute(ctx context.Context, req *llm.Request) (*types.LLMResponse, []types.Attempt, error)
}

// Promoter summarizes turns evicted from short-term buffers into
// long-term records. Strictly best-effort: failures are logged and the
// eviction proceeds regardless.
type Promoter struct {
	router   SummaryRouter
	archive  Archive
	embedder types.Embedder
	minChars int
	logger   *zap.Logger
}

// NewPromoter creates a promoter. embedder may be nil; records are
// then written without vectors and found via keyword fallback.
func NewPromoter(router SummaryRouter, archive Archive, embedder types.Embedder, minChars int, logger *zap.Logger) *Promoter {
	if minChars <= 0 {
		minChars = DefaultPromoteMinChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{
		router:   router,
		archive:  archive,
		embedder: embedder,
		minChars: minChars,
		logger:   logger,
	}
}

// OnEvict is the Buffer eviction hook. It returns immediately; the
// summarize-and-write runs in its own goroutine.
func (p *Promoter) OnEvict(turn types.ConversationTurn) {
	if len(turn.Content) < p.minChars {
		return
	}
	go p.promote(turn)
}

func (p *Promoter) promote(turn types.ConversationTurn) {
	ctx, cancel := context.WithTimeout(context.Background(), promoteTimeout)
	defer cancel()

	resp, _, err := p.router.Execute(ctx, &llm.Request{
		Capabilities: []types.Capability{types.CapSummarization},
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "Summarize the following conversation excerpt into one or two sentences of durable fact, preserving names, dates, and decisions. Reply with the summary only."},
			{Role: types.RoleUser, Content: turn.Content},
		},
	})
	if err != nil || resp.Content == "" {
		p.logger.Warn("memory promotion summarization failed",
			zap.String("task_id", turn.TaskID), zap.Error(err))
		return
	}

	rec := &types.MemoryRecord{
		Text: resp.Content,
		Metadata: map[string]string{
			"source":  "promotion",
			"task_id": turn.TaskID,
			"role":    turn.Role,
			"seq":     fmt.Sprintf("%d", turn.Seq),
		},
	}
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, resp.Content)
		if err != nil {
			p.logger.Warn("memory promotion embedding failed",
				zap.String("task_id", turn.TaskID), zap.Error(err))
		} else {
			rec.Embedding = vec
		}
	}

	if err := p.archive.Write(ctx, rec); err != nil {
		p.logger.Warn("memory promotion write failed",
			zap.String("task_id", turn.TaskID), zap.Error(err))
		return
	}
	p.logger.Debug("evicted turn promoted to long-term memory",
		zap.String("task_id", turn.TaskID), zap.Int("seq", turn.Seq))
}
