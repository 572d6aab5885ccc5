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
package budget

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/pkg/types"
)

// Caps bounds token spend at three horizons. Zero disables a cap.
type Caps struct {
	PerRun  int `json:"per_run" mapstructure:"per_run"`
	Daily   int `json:"daily" mapstructure:"daily"`
	Monthly int `json:"monthly" mapstructure:"monthly"`
}

// Snapshot is a point-in-time view of ledger state for health reporting.
type Snapshot struct {
	Killed       bool `json:"killed"`
	DayTokens    int  `json:"day_tokens"`
	DailyCap     int  `json:"daily_cap,omitempty"`
	MonthTokens  int  `json:"month_tokens"`
	MonthlyCap   int  `json:"monthly_cap,omitempty"`
	ActiveRuns   int  `json:"active_runs"`
	PerRunCap    int  `json:"per_run_cap,omitempty"`
}

// ledgerState is the persisted shape. Day and month windows roll over
// automatically when the date changes.
type ledgerState struct {
	Day         string         `json:"day"`
	DayTokens   int            `json:"day_tokens"`
	Month       string         `json:"month"`
	MonthTokens int            `json:"month_tokens"`
	Runs        map[string]int `json:"runs"`
	Killed      bool           `json:"killed"`
}

// Ledger gates token spend before every provider call. Reservations are
// made with an estimate ahead of the call and reconciled with actual
// usage afterwards, so a cap can never be blown past by more than one
// call's worth of estimation error.
type Ledger struct {
	mu      sync.Mutex
	path    string
	caps    Caps
	state   ledgerState
	pending map[string]int // runID -> outstanding reserved amount

	now func() time.Time // overridable for tests
}

// NewLedger opens (or creates) a ledger persisted at path.
func NewLedger(path string, caps Caps) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		caps:    caps,
		pending: make(map[string]int),
		now:     time.Now,
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &l.state); err != nil {
			return nil, fmt.Errorf("parse ledger state %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Fresh ledger
	default:
		return nil, fmt.Errorf("read ledger state %s: %w", path, err)
	}

	if l.state.Runs == nil {
		l.state.Runs = make(map[string]int)
	}
	l.rollover(l.now())
	return l, nil
}

// CheckAndReserve atomically reserves estimated tokens for a run,
// failing with BudgetExhausted if any cap would be exceeded or the
// kill switch is engaged. A successful reservation must be reconciled
// with Commit once actual usage is known.
func (l *Ledger) CheckAndReserve(runID string, estimated int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(l.now())

	if l.state.Killed {
		return &types.BudgetExhausted{Resource: "kill_switch", Detail: "spending halted by operator"}
	}
	if l.caps.PerRun > 0 && l.state.Runs[runID]+estimated > l.caps.PerRun {
		return &types.BudgetExhausted{
			Resource: "run_tokens",
			Detail:   fmt.Sprintf("run %s at %d of %d", runID, l.state.Runs[runID], l.caps.PerRun),
		}
	}
	if l.caps.Daily > 0 && l.state.DayTokens+estimated > l.caps.Daily {
		return &types.BudgetExhausted{
			Resource: "daily_tokens",
			Detail:   fmt.Sprintf("day at %d of %d", l.state.DayTokens, l.caps.Daily),
		}
	}
	if l.caps.Monthly > 0 && l.state.MonthTokens+estimated > l.caps.Monthly {
		return &types.BudgetExhausted{
			Resource: "monthly_tokens",
			Detail:   fmt.Sprintf("month at %d of %d", l.state.MonthTokens, l.caps.Monthly),
		}
	}

	l.state.Runs[runID] += estimated
	l.state.DayTokens += estimated
	l.state.MonthTokens += estimated
	l.pending[runID] += estimated
	l.persistLocked()
	return nil
}

// Commit reconciles the run's outstanding reservation against actual
// usage. Actual may exceed the estimate; the overshoot is charged.
func (l *Ledger) Commit(runID string, actual int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reserved := l.pending[runID]
	delete(l.pending, runID)

	delta := actual - reserved
	l.state.Runs[runID] += delta
	l.state.DayTokens += delta
	l.state.MonthTokens += delta
	if l.state.Runs[runID] < 0 {
		l.state.Runs[runID] = 0
	}
	if l.state.DayTokens < 0 {
		l.state.DayTokens = 0
	}
	if l.state.MonthTokens < 0 {
		l.state.MonthTokens = 0
	}
	l.persistLocked()
}

// EndRun drops per-run accounting once a task reaches a terminal
// status. Daily and monthly totals are unaffected.
func (l *Ledger) EndRun(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.state.Runs, runID)
	delete(l.pending, runID)
	l.persistLocked()
}

// SetKillSwitch halts (or resumes) all reservations.
func (l *Ledger) SetKillSwitch(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Killed = on
	l.persistLocked()
}

// Status returns a snapshot of current ledger state.
func (l *Ledger) Status() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(l.now())
	return Snapshot{
		Killed:      l.state.Killed,
		DayTokens:   l.state.DayTokens,
		DailyCap:    l.caps.Daily,
		MonthTokens: l.state.MonthTokens,
		MonthlyCap:  l.caps.Monthly,
		ActiveRuns:  len(l.state.Runs),
		PerRunCap:   l.caps.PerRun,
	}
}

// rollover resets day/month windows when the date changes.
// Caller must hold l.mu.
func (l *Ledger) rollover(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	month := now.UTC().Format("2006-01")

	if l.state.Day != day {
		l.state.Day = day
		l.state.DayTokens = 0
	}
	if l.state.Month != month {
		l.state.Month = month
		l.state.MonthTokens = 0
	}
}

// persistLocked writes state to disk with atomic tmp+rename. Persist
// failures are logged, not fatal: the in-memory ledger stays
// authoritative for the process lifetime.
// Caller must hold l.mu.
func (l *Ledger) persistLocked() {
	if l.path == "" {
		return
	}

	data, err := json.MarshalIndent(&l.state, "", "  ")
	if err != nil {
		log.Warn("failed to marshal budget ledger", zap.Error(err))
		return
	}

	tmp := l.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		log.Warn("failed to create budget ledger directory", zap.Error(err))
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warn("failed to write budget ledger", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, l.path); err != nil {
		log.Warn("failed to replace budget ledger", zap.Error(err))
	}
}
