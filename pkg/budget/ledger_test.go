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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/types"
)

func setupTestLedger(t *testing.T, caps Caps) *Ledger {
	t.Helper()
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "ledger.json"), caps)
	require.NoError(t, err)
	return ledger
}

func TestLedger_ReserveWithinCaps(t *testing.T) {
	ledger := setupTestLedger(t, Caps{PerRun: 1000, Daily: 5000, Monthly: 50000})

	require.NoError(t, ledger.CheckAndReserve("run-1", 400))
	require.NoError(t, ledger.CheckAndReserve("run-2", 400))

	status := ledger.Status()
	assert.Equal(t, 800, status.DayTokens)
	assert.Equal(t, 2, status.ActiveRuns)
}

func TestLedger_PerRunCap(t *testing.T) {
	ledger := setupTestLedger(t, Caps{PerRun: 500})

	require.NoError(t, ledger.CheckAndReserve("run-1", 400))
	ledger.Commit("run-1", 400)

	err := ledger.CheckAndReserve("run-1", 200)
	require.Error(t, err)

	var exhausted *types.BudgetExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "run_tokens", exhausted.Resource)

	// A different run is unaffected
	assert.NoError(t, ledger.CheckAndReserve("run-2", 200))
}

func TestLedger_DailyCap(t *testing.T) {
	ledger := setupTestLedger(t, Caps{Daily: 1000})

	require.NoError(t, ledger.CheckAndReserve("run-1", 900))

	err := ledger.CheckAndReserve("run-2", 200)
	var exhausted *types.BudgetExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "daily_tokens", exhausted.Resource)
}

func TestLedger_KillSwitch(t *testing.T) {
	ledger := setupTestLedger(t, Caps{})

	require.NoError(t, ledger.CheckAndReserve("run-1", 10))

	ledger.SetKillSwitch(true)
	err := ledger.CheckAndReserve("run-1", 10)
	var exhausted *types.BudgetExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "kill_switch", exhausted.Resource)

	ledger.SetKillSwitch(false)
	assert.NoError(t, ledger.CheckAndReserve("run-1", 10))
}

func TestLedger_CommitReconciles(t *testing.T) {
	ledger := setupTestLedger(t, Caps{Daily: 1000})

	// Estimate 600, actually use 100: the difference is returned
	require.NoError(t, ledger.CheckAndReserve("run-1", 600))
	ledger.Commit("run-1", 100)

	assert.Equal(t, 100, ledger.Status().DayTokens)
	assert.NoError(t, ledger.CheckAndReserve("run-2", 800))
}

func TestLedger_CommitOvershoot(t *testing.T) {
	ledger := setupTestLedger(t, Caps{Daily: 1000})

	// Actual exceeded the estimate; overshoot is charged
	require.NoError(t, ledger.CheckAndReserve("run-1", 100))
	ledger.Commit("run-1", 300)

	assert.Equal(t, 300, ledger.Status().DayTokens)
}

func TestLedger_EndRunDropsRunNotTotals(t *testing.T) {
	ledger := setupTestLedger(t, Caps{PerRun: 500, Daily: 10000})

	require.NoError(t, ledger.CheckAndReserve("run-1", 400))
	ledger.Commit("run-1", 400)
	ledger.EndRun("run-1")

	status := ledger.Status()
	assert.Equal(t, 0, status.ActiveRuns)
	assert.Equal(t, 400, status.DayTokens, "daily total survives run end")

	// Same run id starts fresh
	assert.NoError(t, ledger.CheckAndReserve("run-1", 400))
}

func TestLedger_DayRollover(t *testing.T) {
	ledger := setupTestLedger(t, Caps{Daily: 1000})

	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return base }

	require.NoError(t, ledger.CheckAndReserve("run-1", 900))
	assert.Error(t, ledger.CheckAndReserve("run-2", 200))

	// Next day: daily window resets, monthly carries
	ledger.now = func() time.Time { return base.Add(24 * time.Hour) }
	assert.NoError(t, ledger.CheckAndReserve("run-2", 200))
	assert.Equal(t, 200, ledger.Status().DayTokens)
}

func TestLedger_MonthRollover(t *testing.T) {
	ledger := setupTestLedger(t, Caps{Monthly: 1000})

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return base }

	require.NoError(t, ledger.CheckAndReserve("run-1", 900))
	assert.Error(t, ledger.CheckAndReserve("run-2", 200))

	ledger.now = func() time.Time { return base.Add(48 * time.Hour) }
	assert.NoError(t, ledger.CheckAndReserve("run-2", 200))
	assert.Equal(t, 200, ledger.Status().MonthTokens)
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")

	ledger, err := NewLedger(path, Caps{Daily: 1000})
	require.NoError(t, err)
	require.NoError(t, ledger.CheckAndReserve("run-1", 700))
	ledger.Commit("run-1", 700)

	reopened, err := NewLedger(path, Caps{Daily: 1000})
	require.NoError(t, err)
	assert.Equal(t, 700, reopened.Status().DayTokens)

	err = reopened.CheckAndReserve("run-2", 500)
	assert.Error(t, err, "cap state survives restart")
}

func TestTokenCounter_CountTokens(t *testing.T) {
	tc := GetTokenCounter()

	assert.Zero(t, tc.CountTokens(""))
	assert.Greater(t, tc.CountTokens("hello world, this is a sentence about agents"), 0)
}

func TestTokenCounter_EstimateMessages(t *testing.T) {
	tc := GetTokenCounter()

	messages := []types.Message{
		{Role: types.RoleSystem, Content: "You are a helpful assistant."},
		{Role: types.RoleUser, Content: "What's the weather like today?"},
	}

	estimate := tc.EstimateMessages(messages)
	// At least the per-message overhead
	assert.GreaterOrEqual(t, estimate, 20)
}
