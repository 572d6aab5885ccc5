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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/internal/pubsub"
	"github.com/teradata-labs/warp/pkg/types"
)

func wsDial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) types.StepEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt types.StepEvent
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func TestWebSocketStreamsStepEvents(t *testing.T) {
	broker := pubsub.NewBroker[types.StepEvent]()
	f := newFixture(t, func(cfg *Config) { cfg.Events = broker })

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	conn := wsDial(t, srv, "/v1/events/ws")

	// Subscription races the dial; give the handler a beat to attach.
	time.Sleep(50 * time.Millisecond)
	broker.Publish(types.StepEvent{TaskID: "t1", Type: types.EventThinking, Payload: "planning", Step: 1})

	evt := readEvent(t, conn)
	assert.Equal(t, "t1", evt.TaskID)
	assert.Equal(t, types.EventThinking, evt.Type)
	assert.Equal(t, "planning", evt.Payload)
}

func TestWebSocketFiltersByTaskID(t *testing.T) {
	broker := pubsub.NewBroker[types.StepEvent]()
	f := newFixture(t, func(cfg *Config) { cfg.Events = broker })

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	conn := wsDial(t, srv, "/v1/events/ws?task_id=wanted")

	time.Sleep(50 * time.Millisecond)
	broker.Publish(types.StepEvent{TaskID: "other", Type: types.EventResponse, Payload: "noise"})
	broker.Publish(types.StepEvent{TaskID: "wanted", Type: types.EventDone})

	evt := readEvent(t, conn)
	assert.Equal(t, "wanted", evt.TaskID)
	assert.Equal(t, types.EventDone, evt.Type)
}
