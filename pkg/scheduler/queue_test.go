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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/types"
)

func queuedTask(id string, priority int, createdAt time.Time) *types.Task {
	return &types.Task{
		ID:        id,
		Origin:    types.OriginChat,
		Payload:   "work on " + id,
		Priority:  priority,
		Status:    types.TaskQueued,
		CreatedAt: createdAt,
	}
}

func TestQueueOrdersByPriorityThenAge(t *testing.T) {
	q := NewQueue()
	base := time.Now()
	q.Enqueue(queuedTask("low-old", 1, base))
	q.Enqueue(queuedTask("high", 5, base.Add(time.Second)))
	q.Enqueue(queuedTask("low-new", 1, base.Add(2*time.Second)))

	ctx := context.Background()
	var got []string
	for i := 0; i < 3; i++ {
		task, err := q.Dequeue(ctx)
		require.NoError(t, err)
		got = append(got, task.ID)
	}
	assert.Equal(t, []string{"high", "low-old", "low-new"}, got)
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue()

	got := make(chan *types.Task, 1)
	go func() {
		task, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		got <- task
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned from an empty queue")
	case <-time.After(30 * time.Millisecond):
	}

	q.Enqueue(queuedTask("late", 0, time.Now()))
	select {
	case task := <-got:
		assert.Equal(t, "late", task.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueNoDoubleClaim(t *testing.T) {
	const tasks = 100
	const workers = 8

	q := NewQueue()
	for i := 0; i < tasks; i++ {
		q.Enqueue(queuedTask(fmt.Sprintf("task-%03d", i), i%3, time.Now()))
	}

	var mu sync.Mutex
	claims := make(map[string]int)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				claims[task.ID]++
				done := len(claims) == tasks
				mu.Unlock()
				if done {
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, claims, tasks, "every task must be claimed")
	for id, n := range claims {
		assert.Equal(t, 1, n, "task %s claimed %d times", id, n)
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	q.Enqueue(queuedTask("keep", 0, time.Now()))
	q.Enqueue(queuedTask("drop", 0, time.Now().Add(time.Second)))

	removed := q.Remove("drop")
	require.NotNil(t, removed)
	assert.Equal(t, "drop", removed.ID)
	assert.Nil(t, q.Remove("drop"), "second remove must miss")
	assert.Equal(t, 1, q.Len())

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "keep", task.ID)
}
