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
package memory

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	_ "github.com/teradata-labs/warp/internal/sqlitedriver" // registers "sqlite3" driver
	"github.com/teradata-labs/warp/pkg/types"
)

const (
	// compressThreshold is the text size above which records are
	// zstd-compressed at rest.
	compressThreshold = 1024

	// textScanLimit bounds how many recent rows a keyword fallback
	// scan decompresses.
	textScanLimit = 1000
)

// Package-level codec; zstd encoders are expensive to construct.
var (
	zstdEnc, _ = zstd.NewWriter(nil)
	zstdDec, _ = zstd.NewReader(nil)
)

// ScoredRecord pairs a record with its similarity to the query vector.
type ScoredRecord struct {
	types.MemoryRecord
	Similarity float64 `json:"similarity"`
}

// Archive is the long-term memory contract the agent loop and gateway
// consume. Store implements it; namespace-bound and read-only views
// share the underlying database.
type Archive interface {
	Write(ctx context.Context, rec *types.MemoryRecord) error
	Query(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]ScoredRecord, error)
	QueryText(ctx context.Context, keyword string, k int) ([]types.MemoryRecord, error)
}

// Store is the SQLite-backed long-term archive. Records are
// write-once: superseded by new records, never updated in place.
// Reads need no application lock; writes are single-row inserts.
type Store struct {
	db        *sql.DB
	dims      int
	namespace string
	readOnly  bool
	logger    *zap.Logger
}

// NewStore opens (or creates) the archive at path. dims fixes the
// embedding dimensionality; 0 disables the check (keyword-only
// deployments).
func NewStore(path string, dims int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open memory store %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure memory store: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS memory_records (
		id         TEXT PRIMARY KEY,
		namespace  TEXT NOT NULL,
		text       BLOB NOT NULL,
		compressed INTEGER NOT NULL DEFAULT 0,
		embedding  BLOB,
		metadata   TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_ns_created
		ON memory_records(namespace, created_at DESC);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create memory schema: %w", err)
	}

	return &Store{db: db, dims: dims, namespace: "default", logger: logger}, nil
}

// Close releases the database handle. Views share it; close once.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports store reachability for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Namespace returns a view of the store scoped to ns. Views share the
// underlying database.
func (s *Store) Namespace(ns string) *Store {
	view := *s
	view.namespace = ns
	return &view
}

// ReadOnly returns a view that rejects writes. Delegated children get
// a read-only view of their parent's namespace.
func (s *Store) ReadOnly() *Store {
	view := *s
	view.readOnly = true
	return &view
}

// Write appends one record. Records are immutable once written;
// failures surface as MemoryWriteFailure.
func (s *Store) Write(ctx context.Context, rec *types.MemoryRecord) error {
	if s.readOnly {
		return &types.MemoryWriteFailure{Err: fmt.Errorf("namespace %s is read-only", s.namespace)}
	}
	if rec.Text == "" {
		return &types.MemoryWriteFailure{Err: fmt.Errorf("record text is empty")}
	}
	if len(rec.Embedding) > 0 && s.dims > 0 && len(rec.Embedding) != s.dims {
		return &types.MemoryWriteFailure{
			Err: fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(rec.Embedding), s.dims),
		}
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Namespace == "" {
		rec.Namespace = s.namespace
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	text := []byte(rec.Text)
	compressed := 0
	if len(text) > compressThreshold {
		text = zstdEnc.EncodeAll(text, nil)
		compressed = 1
	}

	var metadata []byte
	if len(rec.Metadata) > 0 {
		metadata, _ = json.Marshal(rec.Metadata)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_records (id, namespace, text, compressed, embedding, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Namespace, text, compressed, encodeVector(rec.Embedding), metadata, rec.CreatedAt)
	if err != nil {
		return &types.MemoryWriteFailure{Err: fmt.Errorf("insert record %s: %w", rec.ID, err)}
	}
	return nil
}

// Query returns the k records most similar to the query embedding
// within this namespace, descending cosine similarity, ties broken by
// newest first. The similarity scan is brute-force over the namespace;
// at personal-agent scale this outruns index maintenance.
func (s *Store) Query(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]ScoredRecord, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding is empty")
	}
	if s.dims > 0 && len(embedding) != s.dims {
		return nil, fmt.Errorf("query dimension mismatch: got %d, want %d", len(embedding), s.dims)
	}
	if k <= 0 {
		k = 5
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, namespace, text, compressed, embedding, metadata, created_at
		 FROM memory_records WHERE namespace = ? AND embedding IS NOT NULL`,
		s.namespace)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var scored []ScoredRecord
	for rows.Next() {
		rec, vec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		scored = append(scored, ScoredRecord{
			MemoryRecord: rec,
			Similarity:   cosine(embedding, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		if !scored[i].CreatedAt.Equal(scored[j].CreatedAt) {
			return scored[i].CreatedAt.After(scored[j].CreatedAt)
		}
		return scored[i].ID < scored[j].ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// QueryText is the degraded path for deployments without an embedder:
// a case-insensitive keyword scan over recent records, newest first.
func (s *Store) QueryText(ctx context.Context, keyword string, k int) ([]types.MemoryRecord, error) {
	if k <= 0 {
		k = 5
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, namespace, text, compressed, embedding, metadata, created_at
		 FROM memory_records WHERE namespace = ?
		 ORDER BY created_at DESC LIMIT ?`,
		s.namespace, textScanLimit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	needle := strings.ToLower(keyword)
	var out []types.MemoryRecord
	for rows.Next() {
		rec, _, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if needle != "" && !strings.Contains(strings.ToLower(rec.Text), needle) {
			continue
		}
		out = append(out, rec)
		if len(out) == k {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (types.MemoryRecord, []float32, error) {
	var rec types.MemoryRecord
	var text []byte
	var compressed int
	var embedding, metadata []byte

	if err := rows.Scan(&rec.ID, &rec.Namespace, &text, &compressed, &embedding, &metadata, &rec.CreatedAt); err != nil {
		return rec, nil, fmt.Errorf("scan record: %w", err)
	}

	if compressed == 1 {
		plain, err := zstdDec.DecodeAll(text, nil)
		if err != nil {
			return rec, nil, fmt.Errorf("decompress record %s: %w", rec.ID, err)
		}
		text = plain
	}
	rec.Text = string(text)

	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &rec.Metadata)
	}
	return rec, decodeVector(embedding), nil
}

func matchesFilter(metadata, filter map[string]string) bool {
	for key, want := range filter {
		if metadata[key] != want {
			return false
		}
	}
	return true
}

// encodeVector packs a float32 vector as a little-endian blob.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := bytes.NewBuffer(make([]byte, 0, len(vec)*4))
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

func decodeVector(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	_ = binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vec)
	return vec
}

// cosine returns the cosine similarity of two vectors; 0 when lengths
// differ or either vector is zero.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
