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
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql://
	_ "github.com/lib/pq"              // postgres://

	_ "github.com/teradata-labs/warp/internal/sqlitedriver" // registers "sqlite3" driver
	"github.com/teradata-labs/warp/pkg/tools"
)

const (
	// dbQueryMaxRows caps result size handed back to the model.
	dbQueryMaxRows = 200

	// dbQueryTimeout bounds one statement.
	dbQueryTimeout = 30 * time.Second
)

// DBQuery runs read-only SQL against operator-configured backends.
// Backends are named in config; the model picks by name, never by DSN,
// so credentials stay out of the conversation.
type DBQuery struct {
	backends map[string]string // name -> DSN
}

// NewDBQuery creates the query tool over the named backends.
func NewDBQuery(backends map[string]string) *DBQuery {
	return &DBQuery{backends: backends}
}

func (t *DBQuery) Name() string { return "db_query" }

func (t *DBQuery) Description() string {
	names := make([]string, 0, len(t.backends))
	for name := range t.backends {
		names = append(names, name)
	}
	return fmt.Sprintf("Runs a read-only SQL query (SELECT or WITH) against a configured database. Available backends: %s.",
		strings.Join(names, ", "))
}

func (t *DBQuery) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("db_query arguments", map[string]*tools.JSONSchema{
		"backend": tools.NewStringSchema("name of the configured database backend"),
		"sql":     tools.NewStringSchema("a single read-only SQL statement"),
	}, []string{"backend", "sql"})
}

func (t *DBQuery) OutputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("db_query result", map[string]*tools.JSONSchema{
		"columns":   tools.NewArraySchema("column names", tools.NewStringSchema("")),
		"rows":      tools.NewArraySchema("result rows, capped", nil),
		"row_count": tools.NewNumberSchema("number of returned rows"),
		"truncated": tools.NewBooleanSchema("whether the row cap was hit"),
	}, []string{"columns", "rows", "row_count"})
}

func (t *DBQuery) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	start := time.Now()
	fail := func(code, msg, suggestion string, retryable bool) (*tools.Result, error) {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:       code,
				Message:    msg,
				Retryable:  retryable,
				Suggestion: suggestion,
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	backend, _ := args["backend"].(string)
	dsn, ok := t.backends[backend]
	if !ok {
		return fail("unknown_backend", fmt.Sprintf("no backend named %q", backend),
			"use one of the backends listed in the tool description", false)
	}

	query, _ := args["sql"].(string)
	if !isReadOnlySQL(query) {
		return fail("not_read_only", "only SELECT and WITH statements are allowed",
			"rewrite the statement as a read-only query", false)
	}

	driver, dataSource := splitDSN(dsn)
	db, err := sql.Open(driver, dataSource)
	if err != nil {
		return fail("open_failed", err.Error(), "", false)
	}
	defer db.Close()

	queryCtx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	rows, err := db.QueryContext(queryCtx, query)
	if err != nil {
		return fail("query_failed", err.Error(), "check the SQL against the backend's schema", false)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fail("query_failed", err.Error(), "", false)
	}

	results := []map[string]interface{}{}
	truncated := false
	for rows.Next() {
		if len(results) == dbQueryMaxRows {
			truncated = true
			break
		}
		values := make([]interface{}, len(columns))
		scanners := make([]interface{}, len(columns))
		for i := range values {
			scanners[i] = &values[i]
		}
		if err := rows.Scan(scanners...); err != nil {
			return fail("scan_failed", err.Error(), "", false)
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return fail("query_failed", err.Error(), "", true)
	}

	return &tools.Result{
		Success: true,
		Data: map[string]interface{}{
			"columns":   columns,
			"rows":      results,
			"row_count": len(results),
			"truncated": truncated,
		},
		Metadata: map[string]interface{}{
			"backend": backend,
		},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// isReadOnlySQL accepts a single SELECT or WITH statement.
func isReadOnlySQL(query string) bool {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if strings.ContainsRune(trimmed, ';') {
		return false
	}
	upper := strings.ToUpper(trimmed)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

// splitDSN maps a DSN to its database/sql driver. mysql:// and
// postgres:// select their drivers; anything else is a sqlite path.
func splitDSN(dsn string) (driver, dataSource string) {
	switch {
	case strings.HasPrefix(dsn, "mysql://"):
		return "mysql", strings.TrimPrefix(dsn, "mysql://")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn
	default:
		return "sqlite3", strings.TrimPrefix(dsn, "sqlite://")
	}
}
