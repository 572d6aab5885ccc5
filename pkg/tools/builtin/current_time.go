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
// Package builtin provides the tools every deployment registers by
// default: clock, HTTP fetch, long-term memory search, and read-only
// database queries.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/teradata-labs/warp/pkg/tools"
)

// CurrentTime reports the current time, optionally in a named zone.
type CurrentTime struct{}

// NewCurrentTime creates the clock tool.
func NewCurrentTime() *CurrentTime { return &CurrentTime{} }

func (t *CurrentTime) Name() string { return "current_time" }

func (t *CurrentTime) Description() string {
	return "Returns the current date and time. Accepts an optional IANA timezone name (e.g. Europe/Berlin); defaults to UTC."
}

func (t *CurrentTime) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("current_time arguments", map[string]*tools.JSONSchema{
		"timezone": tools.NewStringSchema("IANA timezone name").WithDefault("UTC"),
	}, nil)
}

func (t *CurrentTime) OutputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("current_time result", map[string]*tools.JSONSchema{
		"iso":      tools.NewStringSchema("RFC 3339 timestamp"),
		"unix":     tools.NewNumberSchema("seconds since the epoch"),
		"timezone": tools.NewStringSchema("resolved zone name"),
		"weekday":  tools.NewStringSchema("day of the week"),
	}, []string{"iso", "unix", "timezone", "weekday"})
}

func (t *CurrentTime) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	start := time.Now()

	zone := "UTC"
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		zone = tz
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:       "invalid_timezone",
				Message:    fmt.Sprintf("unknown timezone %q", zone),
				Suggestion: "use an IANA zone name such as UTC or America/New_York",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	now := time.Now().In(loc)
	return &tools.Result{
		Success: true,
		Data: map[string]interface{}{
			"iso":      now.Format(time.RFC3339),
			"unix":     now.Unix(),
			"timezone": zone,
			"weekday":  now.Weekday().String(),
		},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
