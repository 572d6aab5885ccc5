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
package trigger

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

// mqttBufferCap bounds messages held between polls. Overflow drops the
// oldest message.
const mqttBufferCap = 100

// MQTTConfig describes one broker subscription.
type MQTTConfig struct {
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	ClientID string `yaml:"client_id,omitempty" mapstructure:"client_id"`
}

// MQTT buffers messages from a broker subscription and surfaces them
// through Poll. autopaho owns reconnection.
type MQTT struct {
	name    string
	payload string
	cfg     MQTTConfig
	logger  *zap.Logger

	mu     sync.Mutex
	buffer []Event
	cm     *autopaho.ConnectionManager
}

// NewMQTT creates the source but does not connect; call Start.
func NewMQTT(name string, cfg MQTTConfig, payload string, logger *zap.Logger) *MQTT {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTT{name: name, payload: payload, cfg: cfg, logger: logger}
}

func (t *MQTT) Name() string { return t.name }

// Start connects to the broker and subscribes. Returns once the
// connection manager is running; reconnects happen in the background.
func (t *MQTT) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(t.cfg.Broker)
	if err != nil {
		return fmt.Errorf("trigger %s: parse broker URL: %w", t.name, err)
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "warp-trigger-" + t.name
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: t.cfg.Username,
		ConnectPassword: []byte(t.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: t.cfg.Topic, QoS: 1}},
			}); err != nil {
				t.logger.Warn("mqtt trigger subscribe failed",
					zap.String("trigger", t.name),
					zap.String("topic", t.cfg.Topic),
					zap.Error(err))
				return
			}
			t.logger.Info("mqtt trigger subscribed",
				zap.String("trigger", t.name),
				zap.String("topic", t.cfg.Topic))
		},
		OnConnectError: func(err error) {
			t.logger.Warn("mqtt trigger connection error",
				zap.String("trigger", t.name), zap.Error(err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					t.receive(pr.Packet)
					return true, nil
				},
			},
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("trigger %s: mqtt connect: %w", t.name, err)
	}
	t.mu.Lock()
	t.cm = cm
	t.mu.Unlock()
	return nil
}

// Stop disconnects from the broker.
func (t *MQTT) Stop(ctx context.Context) error {
	t.mu.Lock()
	cm := t.cm
	t.cm = nil
	t.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Disconnect(ctx)
}

// Poll drains the message buffer. MQTT delivery is push, so the cursor
// is unused and echoed back.
func (t *MQTT) Poll(ctx context.Context, cursor string) ([]Event, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := t.buffer
	t.buffer = nil
	return events, cursor, nil
}

func (t *MQTT) receive(msg *paho.Publish) {
	event := Event{
		Payload: fmt.Sprintf("%s\n\nMQTT message on %s:\n%s", t.payload, msg.Topic, string(msg.Payload)),
		Metadata: map[string]string{
			"topic": msg.Topic,
		},
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buffer) >= mqttBufferCap {
		t.buffer = t.buffer[1:]
	}
	t.buffer = append(t.buffer, event)
}
