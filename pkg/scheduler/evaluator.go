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
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/scheduler/trigger"
	"github.com/teradata-labs/warp/pkg/types"
)

// DefaultPollInterval is how often sources are polled.
const DefaultPollInterval = 30 * time.Second

// Evaluator polls trigger sources and turns their events into
// autonomous tasks. One firing per source per event, deduped by the
// source's persisted cursor, skipped while the trigger's previous task
// is still live.
type Evaluator struct {
	scheduler *Scheduler
	store     *Store
	interval  time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	sources  map[string]trigger.Source
	priority map[string]int
	skips    map[string]int64
}

// NewEvaluator creates an evaluator polling at interval (0 uses the
// default).
func NewEvaluator(scheduler *Scheduler, store *Store, interval time.Duration, logger *zap.Logger) *Evaluator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		scheduler: scheduler,
		store:     store,
		interval:  interval,
		logger:    logger,
		sources:   make(map[string]trigger.Source),
		priority:  make(map[string]int),
		skips:     make(map[string]int64),
	}
}

// SetSources replaces the active source set. Called on startup and on
// every hot-reload of the trigger definitions.
func (e *Evaluator) SetSources(sources []trigger.Source, priorities map[string]int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sources = make(map[string]trigger.Source, len(sources))
	for _, src := range sources {
		e.sources[src.Name()] = src
	}
	e.priority = priorities
	e.logger.Info("trigger sources updated", zap.Int("count", len(sources)))
}

// Skips returns the per-trigger skip-if-busy counters.
func (e *Evaluator) Skips() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]int64, len(e.skips))
	for name, n := range e.skips {
		out[name] = n
	}
	return out
}

// Run polls all sources at the configured interval until ctx is done.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick polls every source once. Exported so tests and the initial
// startup pass can drive it directly.
func (e *Evaluator) Tick(ctx context.Context) {
	e.mu.Lock()
	sources := make([]trigger.Source, 0, len(e.sources))
	for _, src := range e.sources {
		sources = append(sources, src)
	}
	e.mu.Unlock()

	for _, src := range sources {
		e.pollSource(ctx, src)
	}
}

func (e *Evaluator) pollSource(ctx context.Context, src trigger.Source) {
	name := src.Name()

	cursor, err := e.store.TriggerCursor(ctx, name)
	if err != nil {
		e.logger.Warn("failed to load trigger cursor",
			zap.String("trigger", name), zap.Error(err))
		return
	}

	events, newCursor, err := src.Poll(ctx, cursor)
	if err != nil {
		e.logger.Warn("trigger poll failed",
			zap.String("trigger", name), zap.Error(err))
		return
	}

	for _, event := range events {
		busy, err := e.store.HasActiveTaskForTrigger(ctx, name)
		if err != nil {
			e.logger.Warn("skip-if-busy check failed",
				zap.String("trigger", name), zap.Error(err))
			break
		}
		if busy {
			e.mu.Lock()
			e.skips[name]++
			skips := e.skips[name]
			e.mu.Unlock()
			e.logger.Info("trigger firing skipped: previous task still live",
				zap.String("trigger", name),
				zap.Int64("total_skips", skips))
			continue
		}

		task := &types.Task{
			Origin:   types.OriginScheduler,
			Payload:  event.Payload,
			Trigger:  name,
			Metadata: event.Metadata,
		}
		e.mu.Lock()
		task.Priority = e.priority[name]
		e.mu.Unlock()

		accepted, err := e.scheduler.SubmitAutonomous(ctx, task)
		if err != nil {
			e.logger.Error("failed to submit autonomous task",
				zap.String("trigger", name), zap.Error(err))
			continue
		}
		if accepted {
			e.logger.Info("trigger fired",
				zap.String("trigger", name),
				zap.String("task_id", task.ID))
		}
	}

	if newCursor != cursor {
		if err := e.store.SetTriggerCursor(ctx, name, newCursor); err != nil {
			e.logger.Warn("failed to persist trigger cursor",
				zap.String("trigger", name), zap.Error(err))
		}
	}
}
