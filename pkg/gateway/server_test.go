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
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/memory"
	"github.com/teradata-labs/warp/pkg/scheduler"
	"github.com/teradata-labs/warp/pkg/types"
)

type fixture struct {
	server *Server
	store  *scheduler.Store
	sched  *scheduler.Scheduler
}

func newFixture(t *testing.T, extra func(*Config)) *fixture {
	t.Helper()

	store, err := scheduler.NewStore(filepath.Join(t.TempDir(), "tasks.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// No workers: submitted tasks stay queued, which keeps handler
	// behavior deterministic.
	sched := scheduler.NewScheduler(scheduler.NewQueue(), store, runnerFunc(nil), scheduler.Config{})

	cfg := Config{Scheduler: sched, Store: store}
	if extra != nil {
		extra(&cfg)
	}
	return &fixture{server: NewServer(cfg), store: store, sched: sched}
}

type runnerFunc func(ctx context.Context, task *types.Task) (string, error)

func (f runnerFunc) Run(ctx context.Context, task *types.Task) (string, error) {
	if f == nil {
		return "", nil
	}
	return f(ctx, task)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitTaskQueuesAndPersists(t *testing.T) {
	f := newFixture(t, nil)

	rec := doJSON(t, f.server.Handler(), http.MethodPost, "/v1/tasks", submitRequest{
		Payload:  "summarize my inbox",
		Priority: 2,
		Metadata: map[string]string{"capability": "search"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var task types.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&task))
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, types.OriginChat, task.Origin)
	assert.Equal(t, types.TaskQueued, task.Status)

	got, err := f.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "summarize my inbox", got.Payload)
	assert.Equal(t, "search", got.Metadata["capability"])
	assert.Equal(t, 1, f.sched.QueueDepth())
}

func TestSubmitRejectsEmptyPayloadAndBadOrigin(t *testing.T) {
	f := newFixture(t, nil)

	rec := doJSON(t, f.server.Handler(), http.MethodPost, "/v1/tasks", submitRequest{Payload: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/v1/tasks", submitRequest{
		Payload: "x", Origin: "scheduler",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "callers cannot forge scheduler origin")
}

func TestGetTaskAndNotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	task := &types.Task{ID: "t1", Origin: types.OriginChat, Payload: "x",
		Status: types.TaskCompleted, Result: "42", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.SaveTask(ctx, task))

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/v1/tasks/t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "42", got.Result)

	rec = doJSON(t, f.server.Handler(), http.MethodGet, "/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasksNewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, id := range []string{"old", "new"} {
		require.NoError(t, f.store.SaveTask(ctx, &types.Task{
			ID: id, Origin: types.OriginChat, Payload: id,
			Status: types.TaskQueued, CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/v1/tasks?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []*types.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tasks))
	require.Len(t, tasks, 2)
	assert.Equal(t, "new", tasks[0].ID)
}

func TestTurnsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.SaveTask(ctx, &types.Task{
		ID: "t1", Origin: types.OriginChat, Payload: "x",
		Status: types.TaskCompleted, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, f.store.AppendTurn(ctx, types.ConversationTurn{
		ID: "turn-1", TaskID: "t1", Seq: 0, Role: types.RoleAssistant,
		Content: "thinking", CreatedAt: time.Now().UTC(),
	}))

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/v1/tasks/t1/turns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var turns []types.ConversationTurn
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&turns))
	require.Len(t, turns, 1)
	assert.Equal(t, "thinking", turns[0].Content)

	rec = doJSON(t, f.server.Handler(), http.MethodGet, "/v1/tasks/missing/turns", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelQueuedTaskViaAPI(t *testing.T) {
	f := newFixture(t, nil)

	rec := doJSON(t, f.server.Handler(), http.MethodPost, "/v1/tasks", submitRequest{Payload: "x"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var task types.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&task))

	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/v1/tasks/"+task.ID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	got, err := f.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, got.Status)

	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/v1/tasks/"+task.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "terminal task cannot be cancelled again")
}

func TestApproveEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	held := &types.Task{ID: "held", Origin: types.OriginScheduler, Payload: "x",
		Status: types.TaskWaitingApproval, NeedsApproval: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.SaveTask(ctx, held))

	rec := doJSON(t, f.server.Handler(), http.MethodPost, "/v1/tasks/held/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.store.GetTask(ctx, "held")
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, got.Status)

	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/v1/tasks/held/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMemoryQueryFallsBackToText(t *testing.T) {
	archive, err := memory.NewStore(filepath.Join(t.TempDir(), "memory.db"), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	ctx := context.Background()
	require.NoError(t, archive.Write(ctx, &types.MemoryRecord{
		ID: "m1", Namespace: "root", Text: "the deploy broke on tuesday",
	}))

	f := newFixture(t, func(cfg *Config) { cfg.Archive = archive })

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/v1/memory/records?q=deploy&k=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var matches []memoryMatch
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&matches))
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Record.Text, "deploy")

	rec = doJSON(t, f.server.Handler(), http.MethodGet, "/v1/memory/records", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemoryQueryDisabledWithoutArchive(t *testing.T) {
	f := newFixture(t, nil)
	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/v1/memory/records?q=x", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzReportsQueueState(t *testing.T) {
	f := newFixture(t, nil)

	rec := doJSON(t, f.server.Handler(), http.MethodPost, "/v1/tasks", submitRequest{Payload: "x"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, f.server.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.QueueDepth)
	assert.Equal(t, int64(0), health.Running)
}
