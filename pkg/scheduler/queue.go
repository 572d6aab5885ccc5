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

// Package scheduler turns queued tasks and firing triggers into agent
// loop runs: a priority queue, a bounded worker pool, durable task and
// turn storage, and a trigger evaluator.
package scheduler

import (
	"container/heap"
	"context"
	"sync"

	"github.com/teradata-labs/warp/pkg/types"
)

// Queue is the single in-process task queue. Higher priority dequeues
// first, ties break oldest-first. Dequeue is the claim point: a task
// leaves the queue exactly once.
type Queue struct {
	mu     sync.Mutex
	items  taskHeap
	notify chan struct{}
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue adds a task and wakes one waiting worker.
func (q *Queue) Enqueue(task *types.Task) {
	q.mu.Lock()
	heap.Push(&q.items, task)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a task is available or ctx is done. The returned
// task has been atomically removed; no other caller can receive it.
func (q *Queue) Dequeue(ctx context.Context) (*types.Task, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			task := heap.Pop(&q.items).(*types.Task)
			remaining := q.items.Len()
			q.mu.Unlock()
			// Other tasks may still be waiting; keep workers awake.
			if remaining > 0 {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return task, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Remove takes a still-queued task out of the queue. Returns the task
// when found; nil means it was already claimed (or never queued).
func (q *Queue) Remove(id string) *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, task := range q.items {
		if task.ID == id {
			removed := heap.Remove(&q.items, i).(*types.Task)
			return removed
		}
	}
	return nil
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// taskHeap orders by priority descending, then CreatedAt ascending.
type taskHeap []*types.Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*types.Task))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}
