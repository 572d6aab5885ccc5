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

// Package trigger implements the event sources the scheduler polls:
// cron schedules, MQTT topics, IMAP mailboxes, and GitHub repos. All
// sources share one pull contract so the evaluator treats them
// uniformly; push transports buffer internally.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Event is one firing produced by a source.
type Event struct {
	// Payload is the task text handed to the agent.
	Payload string

	// Metadata carries source-specific context (message topic, mail
	// UID, issue number).
	Metadata map[string]string
}

// Source is one trigger the evaluator polls. cursor is the opaque
// dedupe state persisted between polls (last fire time, last UID,
// last-updated timestamp); an empty cursor means first poll.
type Source interface {
	Name() string

	// Poll returns events since cursor plus the new cursor. A source
	// with nothing new returns no events and echoes (or advances) the
	// cursor.
	Poll(ctx context.Context, cursor string) ([]Event, string, error)
}

// Cron fires on a standard cron schedule.
type Cron struct {
	name     string
	payload  string
	schedule cron.Schedule
}

// NewCron parses a standard 5-field cron spec.
func NewCron(name, spec, payload string) (*Cron, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: parse cron spec %q: %w", name, spec, err)
	}
	return &Cron{name: name, payload: payload, schedule: schedule}, nil
}

func (c *Cron) Name() string { return c.name }

// Poll fires at most once per call: when the next activation after the
// cursor has passed. The first poll only anchors the cursor, so a
// restart never replays missed activations.
func (c *Cron) Poll(ctx context.Context, cursor string) ([]Event, string, error) {
	now := time.Now()
	if cursor == "" {
		return nil, now.Format(time.RFC3339), nil
	}
	last, err := time.Parse(time.RFC3339, cursor)
	if err != nil {
		return nil, now.Format(time.RFC3339), nil
	}

	next := c.schedule.Next(last)
	if next.After(now) {
		return nil, cursor, nil
	}
	return []Event{{
		Payload:  c.payload,
		Metadata: map[string]string{"scheduled_for": next.Format(time.RFC3339)},
	}}, now.Format(time.RFC3339), nil
}
