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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/warp/pkg/scheduler/trigger"
)

// reloadDebounce coalesces bursts of filesystem events into one reload.
const reloadDebounce = 500 * time.Millisecond

// Definition is one trigger declared in a YAML file.
type Definition struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // cron, mqtt, imap, github
	Payload  string `yaml:"payload"`
	Priority int    `yaml:"priority,omitempty"`

	Schedule string                `yaml:"schedule,omitempty"`
	MQTT     *trigger.MQTTConfig   `yaml:"mqtt,omitempty"`
	IMAP     *trigger.IMAPConfig   `yaml:"imap,omitempty"`
	GitHub   *trigger.GitHubConfig `yaml:"github,omitempty"`
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("trigger definition missing name")
	}
	if d.Payload == "" {
		return fmt.Errorf("trigger %s: missing payload", d.Name)
	}
	switch d.Kind {
	case "cron":
		if d.Schedule == "" {
			return fmt.Errorf("trigger %s: cron kind requires schedule", d.Name)
		}
	case "mqtt":
		if d.MQTT == nil || d.MQTT.Broker == "" || d.MQTT.Topic == "" {
			return fmt.Errorf("trigger %s: mqtt kind requires broker and topic", d.Name)
		}
	case "imap":
		if d.IMAP == nil || d.IMAP.Host == "" {
			return fmt.Errorf("trigger %s: imap kind requires host", d.Name)
		}
	case "github":
		if d.GitHub == nil || d.GitHub.Owner == "" || d.GitHub.Repo == "" {
			return fmt.Errorf("trigger %s: github kind requires owner and repo", d.Name)
		}
	default:
		return fmt.Errorf("trigger %s: unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

// BuildSource constructs the trigger source for a definition. MQTT
// sources still need Start called with a long-lived context.
func BuildSource(def Definition, logger *zap.Logger) (trigger.Source, error) {
	switch def.Kind {
	case "cron":
		return trigger.NewCron(def.Name, def.Schedule, def.Payload)
	case "mqtt":
		return trigger.NewMQTT(def.Name, *def.MQTT, def.Payload, logger), nil
	case "imap":
		return trigger.NewIMAP(def.Name, *def.IMAP, def.Payload, logger), nil
	case "github":
		return trigger.NewGitHub(def.Name, *def.GitHub, def.Payload, logger), nil
	}
	return nil, fmt.Errorf("trigger %s: unknown kind %q", def.Name, def.Kind)
}

// Loader reads trigger definitions from a directory of YAML files and
// hot-reloads them on change.
type Loader struct {
	dir    string
	logger *zap.Logger

	hashes map[string]string // path -> SHA-256 of last loaded content
}

// NewLoader creates a loader over dir.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{dir: dir, logger: logger, hashes: make(map[string]string)}
}

// Load parses every .yaml/.yml file in the directory. Files that fail
// to parse or validate are skipped with a warning so one bad file
// cannot take down the rest. Returns whether anything changed since the
// previous Load.
func (l *Loader) Load() ([]Definition, bool, error) {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read trigger directory %s: %w", l.dir, err)
	}

	var defs []Definition
	changed := false
	seen := make(map[string]bool)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		seen[path] = true

		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("failed to read trigger file",
				zap.String("path", path), zap.Error(err))
			continue
		}

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		if l.hashes[path] != hash {
			changed = true
			l.hashes[path] = hash
		}

		fileDefs, err := parseDefinitions(data)
		if err != nil {
			l.logger.Warn("skipping malformed trigger file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		defs = append(defs, fileDefs...)
	}

	// A deleted file is a change too.
	for path := range l.hashes {
		if !seen[path] {
			delete(l.hashes, path)
			changed = true
		}
	}

	return defs, changed, nil
}

// Watch reloads definitions whenever the directory changes, debounced,
// and calls onChange with the new set. Blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context, onChange func([]Definition)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create trigger watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch trigger directory %s: %w", l.dir, err)
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("trigger watcher error", zap.Error(err))

		case <-reload:
			defs, changed, err := l.Load()
			if err != nil {
				l.logger.Warn("trigger reload failed", zap.Error(err))
				continue
			}
			if changed {
				l.logger.Info("trigger definitions reloaded",
					zap.Int("count", len(defs)))
				onChange(defs)
			}
		}
	}
}

// parseDefinitions decodes one YAML file: either a single definition or
// a `triggers:` list.
func parseDefinitions(data []byte) ([]Definition, error) {
	var file struct {
		Triggers []Definition `yaml:"triggers"`
	}
	if err := yaml.Unmarshal(data, &file); err == nil && len(file.Triggers) > 0 {
		for i := range file.Triggers {
			if err := file.Triggers[i].validate(); err != nil {
				return nil, err
			}
		}
		return file.Triggers, nil
	}

	var single Definition
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parse trigger yaml: %w", err)
	}
	if err := single.validate(); err != nil {
		return nil, err
	}
	return []Definition{single}, nil
}
