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
// Package memory provides the two-tier memory subsystem: per-task
// bounded short-term buffers and a SQLite-backed long-term archive
// with similarity search.
package memory

import (
	"sync"

	"github.com/teradata-labs/warp/pkg/types"
)

// DefaultShortTermCapacity bounds each task's short-term buffer.
const DefaultShortTermCapacity = 50

// EvictFunc receives turns evicted from a short-term buffer. Eviction
// never blocks on it; implementations hand off to their own goroutine
// if they do slow work.
type EvictFunc func(turn types.ConversationTurn)

// Buffer holds the short-term conversation window per task. Each
// task's segment is exclusively owned by the loop running that task;
// the mutex only guards the segment map itself.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	segments map[string][]types.ConversationTurn
	onEvict  EvictFunc
}

// NewBuffer creates a short-term buffer with the given per-task
// capacity. onEvict may be nil.
func NewBuffer(capacity int, onEvict EvictFunc) *Buffer {
	if capacity <= 0 {
		capacity = DefaultShortTermCapacity
	}
	return &Buffer{
		capacity: capacity,
		segments: make(map[string][]types.ConversationTurn),
		onEvict:  onEvict,
	}
}

// Append adds a turn to its task's segment, evicting the oldest turn
// FIFO once the segment is full.
func (b *Buffer) Append(turn types.ConversationTurn) {
	var evicted *types.ConversationTurn

	b.mu.Lock()
	segment := append(b.segments[turn.TaskID], turn)
	if len(segment) > b.capacity {
		e := segment[0]
		evicted = &e
		segment = segment[1:]
	}
	b.segments[turn.TaskID] = segment
	b.mu.Unlock()

	if evicted != nil && b.onEvict != nil {
		b.onEvict(*evicted)
	}
}

// Recent returns up to limit of the task's newest turns, oldest first
// (most recent last). limit <= 0 returns the whole segment.
func (b *Buffer) Recent(taskID string, limit int) []types.ConversationTurn {
	b.mu.Lock()
	defer b.mu.Unlock()

	segment := b.segments[taskID]
	if limit > 0 && len(segment) > limit {
		segment = segment[len(segment)-limit:]
	}
	out := make([]types.ConversationTurn, len(segment))
	copy(out, segment)
	return out
}

// Len returns the task segment's current size.
func (b *Buffer) Len(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments[taskID])
}

// Drop releases a task's segment once the task is terminal.
func (b *Buffer) Drop(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.segments, taskID)
}
