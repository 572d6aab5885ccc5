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
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/internal/pubsub"
	"github.com/teradata-labs/warp/pkg/types"
)

// allStream carries every step event; per-task streams are created on
// demand as clients subscribe.
const allStream = "tasks"

// eventStream fans step events out to SSE and WebSocket clients.
type eventStream struct {
	broker *pubsub.Broker[types.StepEvent]
	server *sse.Server
	logger *zap.Logger

	upgrader websocket.Upgrader
}

func newEventStream(broker *pubsub.Broker[types.StepEvent], logger *zap.Logger) *eventStream {
	server := sse.New()
	server.AutoStream = true
	server.AutoReplay = false
	server.CreateStream(allStream)

	return &eventStream{
		broker: broker,
		server: server,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// pump drains the broker into the SSE server until ctx ends. Each event
// goes to the firehose stream and, when clients are listening, to the
// task's own stream.
func (es *eventStream) pump(ctx context.Context) {
	events, unsubscribe := es.broker.Subscribe()
	defer unsubscribe()
	defer es.server.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				es.logger.Warn("marshal step event", zap.Error(err))
				continue
			}
			msg := &sse.Event{Event: []byte(string(evt.Type)), Data: data}
			es.server.Publish(allStream, msg)
			if evt.TaskID != "" && es.server.StreamExists(evt.TaskID) {
				es.server.Publish(evt.TaskID, msg)
			}
		}
	}
}

// serveSSE hands the request to the SSE server. ?stream= selects a
// task ID or the "tasks" firehose (the default).
func (es *eventStream) serveSSE(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") == "" {
		q := r.URL.Query()
		q.Set("stream", allStream)
		r.URL.RawQuery = q.Encode()
	}
	es.server.ServeHTTP(w, r)
}

// serveWS upgrades to a WebSocket and forwards step events as JSON
// frames. ?task_id= narrows the feed to one task.
func (es *eventStream) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := es.upgrader.Upgrade(w, r, nil)
	if err != nil {
		es.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	taskID := r.URL.Query().Get("task_id")
	events, unsubscribe := es.broker.Subscribe()
	defer unsubscribe()

	// Drain client frames so pings and close frames are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if taskID != "" && evt.TaskID != taskID {
				continue
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
