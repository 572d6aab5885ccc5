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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "tasks.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGetTaskRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	task := &types.Task{
		ID:        "t1",
		Origin:    types.OriginScheduler,
		Payload:   "check the mail",
		Priority:  3,
		Status:    types.TaskQueued,
		Trigger:   "mail-watch",
		Metadata:  map[string]string{"uid": "42"},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.SaveTask(ctx, task))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.Payload, got.Payload)
	assert.Equal(t, types.OriginScheduler, got.Origin)
	assert.Equal(t, "mail-watch", got.Trigger)
	assert.Equal(t, "42", got.Metadata["uid"])
	assert.True(t, got.StartedAt.IsZero())

	_, err = store.GetTask(ctx, "missing")
	require.Error(t, err)
}

func TestUpdateStatusSetsTerminalFields(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	task := &types.Task{ID: "t1", Origin: types.OriginChat, Payload: "x",
		Status: types.TaskQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveTask(ctx, task))
	require.NoError(t, store.MarkStarted(ctx, "t1"))
	require.NoError(t, store.UpdateStatus(ctx, "t1", types.TaskCompleted, "the answer", ""))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
	assert.Equal(t, "the answer", got.Result)
	assert.False(t, got.StartedAt.IsZero())
	assert.False(t, got.FinishedAt.IsZero())
}

func TestTurnsArePersistedInCommitOrder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for seq := 0; seq < 3; seq++ {
		require.NoError(t, store.AppendTurn(ctx, types.ConversationTurn{
			ID:        string(rune('a' + seq)),
			TaskID:    "t1",
			Seq:       seq,
			Role:      types.RoleAssistant,
			Content:   "turn",
			CreatedAt: time.Now().UTC(),
			ToolCalls: []types.ToolCall{{ID: "tc", Name: "echo"}},
		}))
	}

	turns, err := store.Turns(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i, turn := range turns {
		assert.Equal(t, i, turn.Seq)
		require.Len(t, turn.ToolCalls, 1)
		assert.Equal(t, "echo", turn.ToolCalls[0].Name)
	}

	// Duplicate (task_id, seq) is rejected: turns are append-only.
	err = store.AppendTurn(ctx, types.ConversationTurn{
		ID: "dup", TaskID: "t1", Seq: 0, Role: types.RoleTool, CreatedAt: time.Now().UTC(),
	})
	require.Error(t, err)
}

func TestRecoverInterruptedRequeuesRunningTasks(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	running := &types.Task{ID: "crashed", Origin: types.OriginChat, Payload: "x",
		Status: types.TaskRunning, CreatedAt: time.Now().UTC()}
	done := &types.Task{ID: "done", Origin: types.OriginChat, Payload: "y",
		Status: types.TaskCompleted, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveTask(ctx, running))
	require.NoError(t, store.SaveTask(ctx, done))

	recovered, err := store.RecoverInterrupted(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "crashed", recovered[0].ID)
	assert.Equal(t, types.TaskQueued, recovered[0].Status)

	got, err := store.GetTask(ctx, "crashed")
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, got.Status)
}

func TestTriggerCursorRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	cursor, err := store.TriggerCursor(ctx, "mail-watch")
	require.NoError(t, err)
	assert.Empty(t, cursor)

	require.NoError(t, store.SetTriggerCursor(ctx, "mail-watch", "uid:100"))
	require.NoError(t, store.SetTriggerCursor(ctx, "mail-watch", "uid:200"))

	cursor, err = store.TriggerCursor(ctx, "mail-watch")
	require.NoError(t, err)
	assert.Equal(t, "uid:200", cursor)
}

func TestHasActiveTaskForTrigger(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	busy, err := store.HasActiveTaskForTrigger(ctx, "nightly")
	require.NoError(t, err)
	assert.False(t, busy)

	task := &types.Task{ID: "t1", Origin: types.OriginScheduler, Payload: "x",
		Trigger: "nightly", Status: types.TaskRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveTask(ctx, task))

	busy, err = store.HasActiveTaskForTrigger(ctx, "nightly")
	require.NoError(t, err)
	assert.True(t, busy)

	require.NoError(t, store.UpdateStatus(ctx, "t1", types.TaskCompleted, "", ""))
	busy, err = store.HasActiveTaskForTrigger(ctx, "nightly")
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestCountOriginSince(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &types.Task{ID: "old", Origin: types.OriginScheduler, Payload: "x",
		Status: types.TaskCompleted, CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &types.Task{ID: "fresh", Origin: types.OriginScheduler, Payload: "y",
		Status: types.TaskQueued, CreatedAt: now}
	chat := &types.Task{ID: "chat", Origin: types.OriginChat, Payload: "z",
		Status: types.TaskQueued, CreatedAt: now}
	for _, task := range []*types.Task{old, fresh, chat} {
		require.NoError(t, store.SaveTask(ctx, task))
	}

	n, err := store.CountOriginSince(ctx, types.OriginScheduler, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
