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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/scheduler/trigger"
	"github.com/teradata-labs/warp/pkg/types"
)

// fakeSource fires the scripted events once, then goes quiet.
type fakeSource struct {
	name   string
	events []trigger.Event
	polls  int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Poll(ctx context.Context, cursor string) ([]trigger.Event, string, error) {
	s.polls++
	if cursor != "" {
		return nil, cursor, nil
	}
	return s.events, "fired", nil
}

func TestEvaluatorEnqueuesFirings(t *testing.T) {
	store := testStore(t)
	s := NewScheduler(NewQueue(), store, &fakeRunner{}, Config{Autonomy: AutonomyFull})
	e := NewEvaluator(s, store, 0, nil)

	src := &fakeSource{name: "nightly", events: []trigger.Event{
		{Payload: "run the nightly sweep", Metadata: map[string]string{"k": "v"}},
	}}
	e.SetSources([]trigger.Source{src}, map[string]int{"nightly": 7})

	ctx := context.Background()
	e.Tick(ctx)

	assert.Equal(t, 1, s.QueueDepth())
	task, err := s.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.OriginScheduler, task.Origin)
	assert.Equal(t, "nightly", task.Trigger)
	assert.Equal(t, 7, task.Priority)
	assert.Equal(t, "v", task.Metadata["k"])

	// Cursor persisted: next tick is a no-op.
	cursor, err := store.TriggerCursor(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, "fired", cursor)

	e.Tick(ctx)
	assert.Equal(t, 0, s.QueueDepth())
}

func TestEvaluatorSkipsWhilePreviousTaskLive(t *testing.T) {
	store := testStore(t)
	s := NewScheduler(NewQueue(), store, &fakeRunner{}, Config{Autonomy: AutonomyFull})
	e := NewEvaluator(s, store, 0, nil)

	ctx := context.Background()

	// The trigger's previous task is still running.
	busyTask := &types.Task{ID: "busy", Origin: types.OriginScheduler, Payload: "x",
		Trigger: "mail-watch", Status: types.TaskRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveTask(ctx, busyTask))

	src := &fakeSource{name: "mail-watch", events: []trigger.Event{{Payload: "new mail"}}}
	e.SetSources([]trigger.Source{src}, nil)

	e.Tick(ctx)

	assert.Equal(t, 0, s.QueueDepth(), "firing must be skipped while busy")
	assert.Equal(t, int64(1), e.Skips()["mail-watch"])

	// Cursor still advances so the same event does not refire later.
	cursor, err := store.TriggerCursor(ctx, "mail-watch")
	require.NoError(t, err)
	assert.Equal(t, "fired", cursor)
}

func TestEvaluatorSurvivesFailingSource(t *testing.T) {
	store := testStore(t)
	s := NewScheduler(NewQueue(), store, &fakeRunner{}, Config{Autonomy: AutonomyFull})
	e := NewEvaluator(s, store, 0, nil)

	e.SetSources([]trigger.Source{
		&errorSource{},
		&fakeSource{name: "ok", events: []trigger.Event{{Payload: "fine"}}},
	}, nil)

	e.Tick(context.Background())
	assert.Equal(t, 1, s.QueueDepth(), "healthy source must still fire")
}

type errorSource struct{}

func (s *errorSource) Name() string { return "broken" }

func (s *errorSource) Poll(ctx context.Context, cursor string) ([]trigger.Event, string, error) {
	return nil, cursor, assert.AnError
}
