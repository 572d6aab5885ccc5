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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/teradata-labs/warp/internal/sqlitedriver" // registers "sqlite3"
	"github.com/teradata-labs/warp/pkg/types"
)

const taskSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	origin         TEXT NOT NULL,
	payload        TEXT NOT NULL,
	priority       INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	trigger_name   TEXT NOT NULL DEFAULT '',
	parent_id      TEXT NOT NULL DEFAULT '',
	needs_approval INTEGER NOT NULL DEFAULT 0,
	result         TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	metadata       TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	started_at     TIMESTAMP,
	finished_at    TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_trigger ON tasks(trigger_name, status);

CREATE TABLE IF NOT EXISTS turns (
	id            TEXT PRIMARY KEY,
	task_id       TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	tool_calls    TEXT NOT NULL DEFAULT '',
	tool_call_id  TEXT NOT NULL DEFAULT '',
	is_error      INTEGER NOT NULL DEFAULT 0,
	token_count   INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	UNIQUE(task_id, seq)
);

CREATE TABLE IF NOT EXISTS trigger_state (
	trigger_name TEXT PRIMARY KEY,
	cursor       TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMP NOT NULL
);
`

// Store persists tasks, committed turns, and trigger dedupe state in
// SQLite. It is the dashboard's query surface and the source of truth
// for crash-restart recovery. Implements agent.TurnSink.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (or creates) the task store at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open task store %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(taskSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create task store schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports store reachability for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// SaveTask inserts or replaces the task row.
func (s *Store) SaveTask(ctx context.Context, task *types.Task) error {
	metadata := ""
	if len(task.Metadata) > 0 {
		raw, err := json.Marshal(task.Metadata)
		if err != nil {
			return fmt.Errorf("marshal task metadata: %w", err)
		}
		metadata = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, origin, payload, priority, status, trigger_name,
			parent_id, needs_approval, result, error, metadata,
			created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			needs_approval = excluded.needs_approval,
			result = excluded.result,
			error = excluded.error,
			metadata = excluded.metadata,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		task.ID, string(task.Origin), task.Payload, task.Priority, string(task.Status),
		task.Trigger, task.ParentID, boolInt(task.NeedsApproval), task.Result, task.Error,
		metadata, task.CreatedAt, nullTime(task.StartedAt), nullTime(task.FinishedAt))
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

// UpdateStatus transitions the task's status and terminal fields.
func (s *Store) UpdateStatus(ctx context.Context, id string, status types.TaskStatus, result, errText string) error {
	finished := sql.NullTime{}
	if status.IsTerminal() {
		finished = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		string(status), result, errText, finished, id)
	if err != nil {
		return fmt.Errorf("update task %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update task %s status: not found", id)
	}
	return nil
}

// MarkStarted records the claim time and flips the task to running.
func (s *Store) MarkStarted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, started_at = ? WHERE id = ?`,
		string(types.TaskRunning), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark task %s started: %w", id, err)
	}
	return nil
}

// GetTask loads one task.
func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, origin, payload, priority, status, trigger_name, parent_id,
			needs_approval, result, error, metadata, created_at, started_at, finished_at
		FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s not found", id)
	}
	return task, err
}

// ListTasks returns the most recent tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, origin, payload, priority, status, trigger_name, parent_id,
			needs_approval, result, error, metadata, created_at, started_at, finished_at
		FROM tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// AppendTurn persists one committed turn. Part of the agent loop's
// commit path; a failure here fails the commit.
func (s *Store) AppendTurn(ctx context.Context, turn types.ConversationTurn) error {
	toolCalls := ""
	if len(turn.ToolCalls) > 0 {
		raw, err := json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, task_id, seq, role, content, tool_calls,
			tool_call_id, is_error, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.TaskID, turn.Seq, turn.Role, turn.Content, toolCalls,
		turn.ToolCallID, boolInt(turn.IsError), turn.TokenCount, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("append turn %d of task %s: %w", turn.Seq, turn.TaskID, err)
	}
	return nil
}

// Turns returns a task's transcript in commit order.
func (s *Store) Turns(ctx context.Context, taskID string) ([]types.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, seq, role, content, tool_calls, tool_call_id,
			is_error, token_count, created_at
		FROM turns WHERE task_id = ? ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load turns of task %s: %w", taskID, err)
	}
	defer rows.Close()

	var turns []types.ConversationTurn
	for rows.Next() {
		var turn types.ConversationTurn
		var toolCalls string
		var isError int
		if err := rows.Scan(&turn.ID, &turn.TaskID, &turn.Seq, &turn.Role, &turn.Content,
			&toolCalls, &turn.ToolCallID, &isError, &turn.TokenCount, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.IsError = isError != 0
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &turn.ToolCalls); err != nil {
				s.logger.Warn("corrupt tool_calls column",
					zap.String("turn_id", turn.ID), zap.Error(err))
			}
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// TriggerCursor returns the persisted dedupe cursor for a trigger,
// empty when the trigger has never polled.
func (s *Store) TriggerCursor(ctx context.Context, name string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM trigger_state WHERE trigger_name = ?`, name).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load cursor for trigger %s: %w", name, err)
	}
	return cursor, nil
}

// SetTriggerCursor persists the trigger's dedupe cursor.
func (s *Store) SetTriggerCursor(ctx context.Context, name, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_state (trigger_name, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(trigger_name) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at`,
		name, cursor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save cursor for trigger %s: %w", name, err)
	}
	return nil
}

// HasActiveTaskForTrigger reports whether the trigger's previous task
// is still non-terminal, for skip-if-busy.
func (s *Store) HasActiveTaskForTrigger(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE trigger_name = ? AND status IN (?, ?, ?)`,
		name, string(types.TaskQueued), string(types.TaskWaitingApproval),
		string(types.TaskRunning)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check active tasks for trigger %s: %w", name, err)
	}
	return n > 0, nil
}

// CountOriginSince counts tasks from one origin created at or after
// since, for the daily autonomous-task cap.
func (s *Store) CountOriginSince(ctx context.Context, origin types.TaskOrigin, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks WHERE origin = ? AND created_at >= ?`,
		string(origin), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s tasks: %w", origin, err)
	}
	return n, nil
}

// RecoverInterrupted requeues tasks left running by a crash and
// returns them for re-enqueue. Their committed turns survive, so the
// loop re-plans from the last committed turn.
func (s *Store) RecoverInterrupted(ctx context.Context) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, origin, payload, priority, status, trigger_name, parent_id,
			needs_approval, result, error, metadata, created_at, started_at, finished_at
		FROM tasks WHERE status = ?`, string(types.TaskRunning))
	if err != nil {
		return nil, fmt.Errorf("find interrupted tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, task := range tasks {
		task.Status = types.TaskQueued
		if _, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ? WHERE id = ?`,
			string(types.TaskQueued), task.ID); err != nil {
			return nil, fmt.Errorf("requeue task %s: %w", task.ID, err)
		}
		s.logger.Info("requeued interrupted task", zap.String("task_id", task.ID))
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var task types.Task
	var origin, status, metadata string
	var needsApproval int
	var started, finished sql.NullTime

	err := row.Scan(&task.ID, &origin, &task.Payload, &task.Priority, &status,
		&task.Trigger, &task.ParentID, &needsApproval, &task.Result, &task.Error,
		&metadata, &task.CreatedAt, &started, &finished)
	if err != nil {
		return nil, err
	}

	task.Origin = types.TaskOrigin(origin)
	task.Status = types.TaskStatus(status)
	task.NeedsApproval = needsApproval != 0
	if started.Valid {
		task.StartedAt = started.Time
	}
	if finished.Valid {
		task.FinishedAt = finished.Time
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &task.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata of task %s: %w", task.ID, err)
		}
	}
	return &task, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
