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
package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/types"
)

func turn(taskID string, seq int) types.ConversationTurn {
	return types.ConversationTurn{
		ID:      fmt.Sprintf("%s-%d", taskID, seq),
		TaskID:  taskID,
		Seq:     seq,
		Role:    types.RoleUser,
		Content: fmt.Sprintf("turn %d", seq),
	}
}

func TestBufferFIFOEviction(t *testing.T) {
	const capacity = 5
	buf := NewBuffer(capacity, nil)

	for i := 0; i < capacity+1; i++ {
		buf.Append(turn("task-1", i))
	}

	recent := buf.Recent("task-1", capacity)
	require.Len(t, recent, capacity)
	for _, tr := range recent {
		assert.NotEqual(t, 0, tr.Seq, "oldest turn must be evicted first")
	}
	assert.Equal(t, 1, recent[0].Seq)
	assert.Equal(t, capacity, recent[len(recent)-1].Seq)
}

func TestBufferRecentMostRecentLast(t *testing.T) {
	buf := NewBuffer(10, nil)
	for i := 0; i < 6; i++ {
		buf.Append(turn("task-1", i))
	}

	recent := buf.Recent("task-1", 3)
	require.Len(t, recent, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{recent[0].Seq, recent[1].Seq, recent[2].Seq})

	all := buf.Recent("task-1", 0)
	assert.Len(t, all, 6)
}

func TestBufferEvictionHook(t *testing.T) {
	var evicted []types.ConversationTurn
	buf := NewBuffer(2, func(tr types.ConversationTurn) {
		evicted = append(evicted, tr)
	})

	for i := 0; i < 4; i++ {
		buf.Append(turn("task-1", i))
	}

	require.Len(t, evicted, 2)
	assert.Equal(t, 0, evicted[0].Seq)
	assert.Equal(t, 1, evicted[1].Seq)
}

func TestBufferSegmentsAreIsolated(t *testing.T) {
	buf := NewBuffer(3, nil)
	buf.Append(turn("task-a", 0))
	buf.Append(turn("task-b", 0))
	buf.Append(turn("task-a", 1))

	assert.Equal(t, 2, buf.Len("task-a"))
	assert.Equal(t, 1, buf.Len("task-b"))

	buf.Drop("task-a")
	assert.Equal(t, 0, buf.Len("task-a"))
	assert.Equal(t, 1, buf.Len("task-b"))
}
