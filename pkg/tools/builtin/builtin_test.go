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
package builtin

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/memory"
	"github.com/teradata-labs/warp/pkg/types"
)

func TestCurrentTime(t *testing.T) {
	tool := NewCurrentTime()

	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	require.True(t, result.Success)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, "UTC", data["timezone"])
	assert.NotEmpty(t, data["iso"])

	result, err = tool.Execute(context.Background(), map[string]interface{}{"timezone": "Not/AZone"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "invalid_timezone", result.Error.Code)
}

func TestHTTPFetchCapsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	tool := NewHTTPFetch(10)
	result, err := tool.Execute(context.Background(), map[string]interface{}{"url": server.URL})
	require.NoError(t, err)
	require.True(t, result.Success)

	data := result.Data.(map[string]interface{})
	assert.Len(t, data["body"], 10)
	assert.Equal(t, true, data["truncated"])
	assert.Equal(t, http.StatusOK, data["status"])
}

func TestHTTPFetchRejectsBadURL(t *testing.T) {
	tool := NewHTTPFetch(0)
	for _, raw := range []string{"", "ftp://host/file", "not a url", "/relative"} {
		result, err := tool.Execute(context.Background(), map[string]interface{}{"url": raw})
		require.NoError(t, err)
		assert.False(t, result.Success, "url %q must be rejected", raw)
		assert.Equal(t, "invalid_url", result.Error.Code)
	}
}

func TestHTTPFetchUnreachableIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	tool := NewHTTPFetch(0)
	result, err := tool.Execute(context.Background(), map[string]interface{}{"url": server.URL})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Error.Retryable)
}

func TestMemorySearchKeywordFallback(t *testing.T) {
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "mem.db"), 0, nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, &types.MemoryRecord{Text: "the deploy key rotates on fridays"}))
	require.NoError(t, store.Write(ctx, &types.MemoryRecord{Text: "unrelated note"}))

	tool := NewMemorySearch(store, nil)
	result, err := tool.Execute(ctx, map[string]interface{}{"query": "deploy"})
	require.NoError(t, err)
	require.True(t, result.Success)

	data := result.Data.(map[string]interface{})
	assert.Equal(t, 1, data["count"])
}

func TestDBQueryReadOnlyEnforcement(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT);
		INSERT INTO notes (body) VALUES ('alpha'), ('beta')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	tool := NewDBQuery(map[string]string{"app": dbPath})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"backend": "app",
		"sql":     "SELECT body FROM notes ORDER BY id",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, 2, data["row_count"])

	for _, stmt := range []string{
		"DELETE FROM notes",
		"INSERT INTO notes (body) VALUES ('x')",
		"SELECT 1; DROP TABLE notes",
		"UPDATE notes SET body = 'x'",
	} {
		result, err := tool.Execute(context.Background(), map[string]interface{}{
			"backend": "app",
			"sql":     stmt,
		})
		require.NoError(t, err)
		assert.False(t, result.Success, "statement %q must be rejected", stmt)
		assert.Equal(t, "not_read_only", result.Error.Code)
	}
}

func TestDBQueryUnknownBackend(t *testing.T) {
	tool := NewDBQuery(map[string]string{})
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"backend": "missing",
		"sql":     "SELECT 1",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "unknown_backend", result.Error.Code)
}
