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
package orchestration

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/memory"
	"github.com/teradata-labs/warp/pkg/scheduler"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
)

// gatedProvider blocks each Chat call until release is closed.
type gatedProvider struct {
	release  chan struct{}
	calls    atomic.Int64
	response *types.LLMResponse
}

func (p *gatedProvider) Chat(ctx context.Context, messages []types.Message, toolset []tools.Tool) (*types.LLMResponse, error) {
	p.calls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.response, nil
}

func (p *gatedProvider) Name() string  { return "gated" }
func (p *gatedProvider) Model() string { return "gated-model" }

func newOrchestratorRouter(t *testing.T, provider types.Provider) *llm.Router {
	t.Helper()
	r := llm.NewRouter(llm.Config{})
	require.NoError(t, r.Register(&types.ProviderProfile{
		Name:         "gated",
		Model:        "gated-model",
		Capabilities: []types.Capability{types.CapReasoning, types.CapToolUse},
		CostWeight:   1,
		LatencyClass: types.LatencyFast,
	}, provider))
	return r
}

func parentTask() *types.Task {
	return &types.Task{
		ID:        "parent-1",
		Origin:    types.OriginChat,
		Payload:   "coordinate some research",
		Status:    types.TaskRunning,
		CreatedAt: time.Now(),
	}
}

func TestJoinBlocksUntilAllChildrenTerminal(t *testing.T) {
	release := make(chan struct{})
	provider := &gatedProvider{
		release:  release,
		response: &types.LLMResponse{Content: "child done", Usage: types.Usage{TotalTokens: 5}},
	}
	o := New(Config{Router: newOrchestratorRouter(t, provider)})
	parent := parentTask()

	ctx := context.Background()
	h1, err := o.Delegate(ctx, parent, "first subtask", "research")
	require.NoError(t, err)
	h2, err := o.Delegate(ctx, parent, "second subtask", "summary")
	require.NoError(t, err)
	assert.NotEqual(t, h1.ChildTaskID, h2.ChildTaskID)

	joined := make(chan []*types.SubAgentHandle, 1)
	go func() {
		handles, err := o.Join(ctx, parent.ID)
		require.NoError(t, err)
		joined <- handles
	}()

	select {
	case <-joined:
		t.Fatal("join returned while children were still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case handles := <-joined:
		require.Len(t, handles, 2)
		for _, h := range handles {
			assert.Equal(t, types.TaskCompleted, h.Status)
			assert.Equal(t, "child done", h.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("join did not return after children finished")
	}
}

func TestChildBudgetExhaustionIsRecordedOnHandle(t *testing.T) {
	// Model always asks for a tool, so the child can never finalize.
	provider := &gatedProvider{
		response: &types.LLMResponse{
			ToolCalls: []types.ToolCall{{ID: "tc", Name: "missing", Input: map[string]interface{}{}}},
			Usage:     types.Usage{TotalTokens: 5},
		},
	}
	o := New(Config{
		Router:  newOrchestratorRouter(t, provider),
		Presets: map[string]types.Budget{"default": {MaxSteps: 1}},
	})
	parent := parentTask()

	_, err := o.Delegate(context.Background(), parent, "never finishes", "")
	require.NoError(t, err)

	handles, err := o.Join(context.Background(), parent.ID)
	require.NoError(t, err)
	require.Len(t, handles, 1)

	assert.Equal(t, types.TaskFailed, handles[0].Status)
	assert.Contains(t, handles[0].Error, "budget exhausted: steps")
}

func TestSubAgentsCannotDelegateFurther(t *testing.T) {
	provider := &gatedProvider{response: &types.LLMResponse{Content: "ok"}}
	o := New(Config{Router: newOrchestratorRouter(t, provider)})

	child := parentTask()
	child.Origin = types.OriginSubAgent

	_, err := o.Delegate(context.Background(), child, "recurse", "")
	require.Error(t, err)
}

func TestConcurrencyCapSerializesChildren(t *testing.T) {
	release := make(chan struct{})
	provider := &gatedProvider{
		release:  release,
		response: &types.LLMResponse{Content: "done", Usage: types.Usage{TotalTokens: 5}},
	}
	o := New(Config{Router: newOrchestratorRouter(t, provider), MaxConcurrent: 1})
	parent := parentTask()

	ctx := context.Background()
	_, err := o.Delegate(ctx, parent, "first", "")
	require.NoError(t, err)
	_, err = o.Delegate(ctx, parent, "second", "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), provider.calls.Load(),
		"second child must wait for the concurrency slot")

	close(release)
	handles, err := o.Join(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	for _, h := range handles {
		assert.Equal(t, types.TaskCompleted, h.Status)
	}
}

func TestChildArchiveSplitsReadsAndWrites(t *testing.T) {
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "mem.db"), 0, nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, &types.MemoryRecord{Text: "parent knows the deploy schedule"}))

	archive := &childArchive{
		reads:  store.ReadOnly(),
		writes: store.Namespace("child-1"),
	}

	// Reads see the parent namespace.
	records, err := archive.QueryText(ctx, "deploy", 5)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// Writes land in the child namespace, invisible to the parent view.
	require.NoError(t, archive.Write(ctx, &types.MemoryRecord{Text: "child scratch deploy note"}))
	records, err = store.QueryText(ctx, "scratch", 5)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = store.Namespace("child-1").QueryText(ctx, "scratch", 5)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestDelegatePersistsChildTask(t *testing.T) {
	store, err := scheduler.NewStore(filepath.Join(t.TempDir(), "tasks.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	parent := parentTask()
	require.NoError(t, store.SaveTask(ctx, parent))

	provider := &gatedProvider{
		response: &types.LLMResponse{Content: "summary ready", Usage: types.Usage{TotalTokens: 5}},
	}
	orch := New(Config{
		Router: newOrchestratorRouter(t, provider),
		Sink:   store,
	})

	handle, err := orch.Delegate(ctx, parent, "summarize the findings", "summary")
	require.NoError(t, err)

	handles, err := orch.Join(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	require.Equal(t, types.TaskCompleted, handles[0].Status)

	// The child row exists, carries its lineage, and reached its
	// terminal status; its turns reference a findable task.
	child, err := store.GetTask(ctx, handle.ChildTaskID)
	require.NoError(t, err)
	assert.Equal(t, types.OriginSubAgent, child.Origin)
	assert.Equal(t, parent.ID, child.ParentID)
	assert.Equal(t, types.TaskCompleted, child.Status)
	assert.Equal(t, "summary ready", child.Result)

	turns, err := store.Turns(ctx, handle.ChildTaskID)
	require.NoError(t, err)
	assert.NotEmpty(t, turns)
}
