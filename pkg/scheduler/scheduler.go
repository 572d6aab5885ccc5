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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/agent"
	"github.com/teradata-labs/warp/pkg/types"
)

// Autonomy modes gate trigger-originated tasks.
const (
	// AutonomyFull enqueues autonomous tasks directly.
	AutonomyFull = "full"

	// AutonomyAsk holds autonomous tasks in waiting_approval until a
	// human approves them.
	AutonomyAsk = "ask"

	// AutonomyManual drops autonomous tasks entirely.
	AutonomyManual = "manual"
)

// DefaultWorkers is the worker pool size when unconfigured.
const DefaultWorkers = 2

// Runner drives one task to a terminal outcome. *agent.Loop implements
// it; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, task *types.Task) (string, error)
}

// Config tunes the scheduler.
type Config struct {
	// Workers is the worker pool size.
	Workers int `mapstructure:"workers"`

	// Autonomy gates trigger-originated tasks (full, ask, manual).
	Autonomy string `mapstructure:"autonomy"`

	// DailyCap bounds autonomous tasks per UTC day; 0 means unlimited.
	DailyCap int `mapstructure:"daily_cap"`

	Logger *zap.Logger `mapstructure:"-"`
}

// Scheduler owns the queue and the worker pool: tasks go in through
// Submit (users) or SubmitAutonomous (triggers), workers claim them and
// run the agent loop, terminal outcomes land in the store.
type Scheduler struct {
	queue  *Queue
	store  *Store
	runner Runner

	workers  int
	autonomy string
	dailyCap int
	logger   *zap.Logger

	running atomic.Int64

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewScheduler wires the queue, store, and runner.
func NewScheduler(queue *Queue, store *Store, runner Runner, cfg Config) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	autonomy := cfg.Autonomy
	if autonomy == "" {
		autonomy = AutonomyAsk
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		queue:    queue,
		store:    store,
		runner:   runner,
		workers:  workers,
		autonomy: autonomy,
		dailyCap: cfg.DailyCap,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start requeues tasks interrupted by a crash and launches the worker
// pool. Workers stop when ctx is cancelled; call Wait to drain.
func (s *Scheduler) Start(ctx context.Context) error {
	recovered, err := s.store.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted tasks: %w", err)
	}
	for _, task := range recovered {
		s.queue.Enqueue(task)
	}

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.logger.Info("scheduler started",
		zap.Int("workers", s.workers),
		zap.String("autonomy", s.autonomy),
		zap.Int("recovered", len(recovered)))
	return nil
}

// Wait blocks until all workers have exited.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Submit persists and enqueues a user-originated task. Missing fields
// are defaulted.
func (s *Scheduler) Submit(ctx context.Context, task *types.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Origin == "" {
		task.Origin = types.OriginChat
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.Status = types.TaskQueued

	if err := s.store.SaveTask(ctx, task); err != nil {
		return err
	}
	s.queue.Enqueue(task)
	return nil
}

// SubmitAutonomous routes a trigger-originated task through the
// autonomy gate and daily cap. Returns whether the task was accepted
// onto the queue (or parked for approval).
func (s *Scheduler) SubmitAutonomous(ctx context.Context, task *types.Task) (bool, error) {
	if s.autonomy == AutonomyManual {
		s.logger.Info("autonomy manual: dropping autonomous task",
			zap.String("trigger", task.Trigger))
		return false, nil
	}

	if s.dailyCap > 0 {
		dayStart := time.Now().UTC().Truncate(24 * time.Hour)
		n, err := s.store.CountOriginSince(ctx, types.OriginScheduler, dayStart)
		if err != nil {
			return false, err
		}
		if n >= s.dailyCap {
			s.logger.Warn("daily autonomous task cap reached",
				zap.String("trigger", task.Trigger),
				zap.Int("cap", s.dailyCap))
			return false, nil
		}
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.Origin = types.OriginScheduler
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	if s.autonomy == AutonomyAsk {
		task.NeedsApproval = true
		task.Status = types.TaskWaitingApproval
		if err := s.store.SaveTask(ctx, task); err != nil {
			return false, err
		}
		s.logger.Info("autonomous task held for approval",
			zap.String("task_id", task.ID),
			zap.String("trigger", task.Trigger))
		return true, nil
	}

	task.Status = types.TaskQueued
	if err := s.store.SaveTask(ctx, task); err != nil {
		return false, err
	}
	s.queue.Enqueue(task)
	return true, nil
}

// Approve releases a waiting_approval task onto the queue.
func (s *Scheduler) Approve(ctx context.Context, id string) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != types.TaskWaitingApproval {
		return fmt.Errorf("task %s is %s, not waiting_approval", id, task.Status)
	}

	task.Status = types.TaskQueued
	task.NeedsApproval = false
	if err := s.store.SaveTask(ctx, task); err != nil {
		return err
	}
	s.queue.Enqueue(task)
	return nil
}

// Cancel stops a task: queued tasks are removed and marked cancelled
// immediately, running tasks get their context cancelled and reach
// cancelled at the loop's next step boundary.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	if removed := s.queue.Remove(id); removed != nil {
		return s.store.UpdateStatus(ctx, id, types.TaskCancelled, "", "cancelled before start")
	}

	s.mu.Lock()
	cancel, running := s.cancels[id]
	s.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == types.TaskWaitingApproval {
		return s.store.UpdateStatus(ctx, id, types.TaskCancelled, "", "cancelled before approval")
	}
	return fmt.Errorf("task %s is %s and cannot be cancelled", id, task.Status)
}

// RunningCount returns the number of tasks currently being worked.
func (s *Scheduler) RunningCount() int64 { return s.running.Load() }

// QueueDepth returns the number of queued tasks.
func (s *Scheduler) QueueDepth() int { return s.queue.Len() }

// worker claims tasks from the queue and runs them to terminal status.
func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		task, err := s.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		s.execute(ctx, task)
	}
}

// execute runs one claimed task through the agent loop and records the
// terminal outcome.
func (s *Scheduler) execute(ctx context.Context, task *types.Task) {
	if err := s.store.MarkStarted(ctx, task.ID); err != nil {
		s.logger.Error("failed to mark task started",
			zap.String("task_id", task.ID), zap.Error(err))
	}
	task.Status = types.TaskRunning
	s.running.Add(1)
	defer s.running.Add(-1)

	taskCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[task.ID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, task.ID)
		s.mu.Unlock()
	}()

	result, err := s.runner.Run(taskCtx, task)

	var status types.TaskStatus
	errText := ""
	switch {
	case err == nil:
		status = types.TaskCompleted
	case agent.IsCancellation(err):
		status = types.TaskCancelled
		errText = err.Error()
	default:
		status = types.TaskFailed
		errText = err.Error()
	}

	if err := s.store.UpdateStatus(ctx, task.ID, status, result, errText); err != nil {
		s.logger.Error("failed to record task outcome",
			zap.String("task_id", task.ID), zap.Error(err))
	}
	s.logger.Info("task finished",
		zap.String("task_id", task.ID),
		zap.String("status", string(status)))
}
