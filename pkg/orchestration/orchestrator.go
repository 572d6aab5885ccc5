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

// Package orchestration spawns and joins budget-bounded sub-agents on
// behalf of a parent agent loop.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/internal/pubsub"
	"github.com/teradata-labs/warp/pkg/agent"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/memory"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
)

// DefaultMaxConcurrent bounds how many sub-agents run at once across
// all parents.
const DefaultMaxConcurrent = 3

// DefaultPresets are the built-in sub-agent budgets, keyed by the
// agent_type the model passes to the delegate tool. An unknown or
// empty type gets the "default" preset.
func DefaultPresets() map[string]types.Budget {
	return map[string]types.Budget{
		"research": {MaxSteps: 8, MaxToolCalls: 12, MaxWallClock: 5 * time.Minute},
		"code":     {MaxSteps: 10, MaxToolCalls: 16, MaxWallClock: 10 * time.Minute},
		"summary":  {MaxSteps: 3, MaxToolCalls: 2, MaxWallClock: 2 * time.Minute},
		"default":  {MaxSteps: 5, MaxToolCalls: 8, MaxWallClock: 5 * time.Minute},
	}
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Router   *llm.Router
	Registry *tools.Registry

	// Store is the long-term memory backing child archives. Children
	// read the parent namespace read-only and write their own. Nil
	// disables child memory.
	Store    *memory.Store
	Embedder types.Embedder

	// Sink persists child turns alongside parent turns.
	Sink   agent.TurnSink
	Events *pubsub.Broker[types.StepEvent]

	// MaxConcurrent caps simultaneously running children; 0 uses the
	// default.
	MaxConcurrent int

	// Presets overrides the agent_type budget table.
	Presets map[string]types.Budget

	// Ledger is the shared token spend gate; children draw from the
	// same caps as their parents.
	Ledger agent.SpendGate

	Logger *zap.Logger
}

// taskRecorder is the optional sink surface for persisting child
// tasks. The scheduler store implements it; a sink without it keeps
// children in memory only.
type taskRecorder interface {
	SaveTask(ctx context.Context, task *types.Task) error
	UpdateStatus(ctx context.Context, id string, status types.TaskStatus, result, errText string) error
}

// child tracks one spawned sub-agent until its parent joins it.
type child struct {
	handle *types.SubAgentHandle
	done   chan struct{}
}

// Orchestrator spawns sub-agent loops and joins them back to their
// parents. Each child runs with a fresh short-term buffer, a
// non-renewable budget, and a namespaced view of long-term memory.
type Orchestrator struct {
	cfg     Config
	sem     chan struct{}
	presets map[string]types.Budget
	logger  *zap.Logger

	mu       sync.Mutex
	children map[string]map[string]*child // parent task ID -> child task ID
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	presets := cfg.Presets
	if presets == nil {
		presets = DefaultPresets()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		presets:  presets,
		logger:   logger,
		children: make(map[string]map[string]*child),
	}
}

// Delegate spawns a sub-agent working on spec. The child starts
// immediately (subject to the concurrency cap) and runs until terminal
// or budget exhaustion; the returned handle is live and must be
// collected through Join.
func (o *Orchestrator) Delegate(ctx context.Context, parent *types.Task, spec, agentType string) (*types.SubAgentHandle, error) {
	if parent.Origin == types.OriginSubAgent {
		return nil, fmt.Errorf("sub-agents cannot delegate further")
	}
	if spec == "" {
		return nil, fmt.Errorf("delegate spec is empty")
	}

	budget, ok := o.presets[agentType]
	if !ok {
		budget = o.presets["default"]
	}

	task := &types.Task{
		ID:        uuid.New().String(),
		Origin:    types.OriginSubAgent,
		Payload:   spec,
		ParentID:  parent.ID,
		Status:    types.TaskRunning,
		StartedAt: time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
		Metadata:  map[string]string{"agent_type": agentType},
	}
	// The child row must exist before any of its turns land in the
	// store.
	if rec, ok := o.cfg.Sink.(taskRecorder); ok {
		if err := rec.SaveTask(ctx, task); err != nil {
			return nil, fmt.Errorf("persist child task: %w", err)
		}
	}

	c := &child{
		handle: &types.SubAgentHandle{
			ParentTaskID: parent.ID,
			ChildTaskID:  task.ID,
			Budget:       budget,
			Status:       types.TaskRunning,
		},
		done: make(chan struct{}),
	}

	o.mu.Lock()
	if o.children[parent.ID] == nil {
		o.children[parent.ID] = make(map[string]*child)
	}
	o.children[parent.ID][task.ID] = c
	o.mu.Unlock()

	o.logger.Info("delegating sub-agent",
		zap.String("parent_task_id", parent.ID),
		zap.String("child_task_id", task.ID),
		zap.String("agent_type", agentType))

	go o.runChild(ctx, task, budget, c)
	return c.handle, nil
}

// Join blocks until every outstanding child of the parent is terminal,
// then returns and releases their handles.
func (o *Orchestrator) Join(ctx context.Context, parentTaskID string) ([]*types.SubAgentHandle, error) {
	o.mu.Lock()
	pending := make([]*child, 0, len(o.children[parentTaskID]))
	for _, c := range o.children[parentTaskID] {
		pending = append(pending, c)
	}
	delete(o.children, parentTaskID)
	o.mu.Unlock()

	handles := make([]*types.SubAgentHandle, 0, len(pending))
	for _, c := range pending {
		select {
		case <-c.done:
			handles = append(handles, c.handle)
		case <-ctx.Done():
			return handles, ctx.Err()
		}
	}
	return handles, nil
}

// Running returns the number of children currently tracked for the
// parent, for observability.
func (o *Orchestrator) Running(parentTaskID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.children[parentTaskID])
}

// runChild executes one sub-agent loop and records its outcome on the
// handle. The handle is safe to read once done is closed.
func (o *Orchestrator) runChild(ctx context.Context, task *types.Task, budget types.Budget, c *child) {
	defer close(c.done)

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		c.handle.Status = types.TaskCancelled
		c.handle.Error = ctx.Err().Error()
		o.recordOutcome(task.ID, c.handle)
		return
	}

	opts := []agent.Option{
		agent.WithBudget(budget),
		agent.AsDelegated(),
		agent.WithLogger(o.logger),
	}
	if o.cfg.Registry != nil {
		opts = append(opts, agent.WithTools(o.cfg.Registry))
	}
	if archive := o.childArchive(task); archive != nil {
		opts = append(opts, agent.WithMemory(
			memory.NewBuffer(memory.DefaultShortTermCapacity, nil), archive, o.cfg.Embedder))
	}
	if o.cfg.Sink != nil {
		opts = append(opts, agent.WithTurnSink(o.cfg.Sink))
	}
	if o.cfg.Events != nil {
		opts = append(opts, agent.WithEvents(o.cfg.Events))
	}
	if o.cfg.Ledger != nil {
		opts = append(opts, agent.WithLedger(o.cfg.Ledger))
	}

	loop := agent.New(o.cfg.Router, opts...)
	result, err := loop.Run(ctx, task)

	c.handle.Result = result
	switch {
	case err == nil:
		c.handle.Status = types.TaskCompleted
	case agent.IsCancellation(err):
		c.handle.Status = types.TaskCancelled
		c.handle.Error = err.Error()
	default:
		c.handle.Status = types.TaskFailed
		c.handle.Error = err.Error()
	}
	o.recordOutcome(task.ID, c.handle)

	o.logger.Info("sub-agent finished",
		zap.String("child_task_id", task.ID),
		zap.String("status", string(c.handle.Status)),
		zap.Error(err))
}

// recordOutcome persists the child's terminal status. Best-effort:
// the handle already carries the outcome for the joining parent. The
// run context may be cancelled, so the update gets its own deadline.
func (o *Orchestrator) recordOutcome(taskID string, handle *types.SubAgentHandle) {
	rec, ok := o.cfg.Sink.(taskRecorder)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.UpdateStatus(ctx, taskID, handle.Status, handle.Result, handle.Error); err != nil {
		o.logger.Warn("child task status update failed",
			zap.String("child_task_id", taskID), zap.Error(err))
	}
}

// childArchive gives a child read access to its parent's memory
// namespace and write access to its own.
func (o *Orchestrator) childArchive(task *types.Task) memory.Archive {
	if o.cfg.Store == nil {
		return nil
	}
	return &childArchive{
		reads:  o.cfg.Store.ReadOnly(),
		writes: o.cfg.Store.Namespace(task.ID),
	}
}

// childArchive splits reads and writes across two store views: queries
// see the parent's records, writes land in the child's namespace.
type childArchive struct {
	reads  memory.Archive
	writes memory.Archive
}

func (a *childArchive) Write(ctx context.Context, rec *types.MemoryRecord) error {
	return a.writes.Write(ctx, rec)
}

func (a *childArchive) Query(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]memory.ScoredRecord, error) {
	return a.reads.Query(ctx, embedding, k, filter)
}

func (a *childArchive) QueryText(ctx context.Context, keyword string, k int) ([]types.MemoryRecord, error) {
	return a.reads.QueryText(ctx, keyword, k)
}
