// Package memory is the vector half of the dual-write substrate: an
// SQLite table of embedded records with k-NN search. When built with
// the sqlite_vec tag the distance runs inside SQLite; otherwise a Go
// cosine scan serves the same queries.
package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ain/internal/embedding"
	"ain/internal/logging"
	"ain/internal/types"
)

// Store owns the on-disk vector table. Safe for concurrent use; SQLite
// is opened single-connection.
type Store struct {
	db       *sql.DB
	dim      int
	capacity int
	engine   embedding.Engine
}

// SearchResult pairs a record with its cosine similarity to the query.
type SearchResult struct {
	Record     types.MemoryRecord
	Similarity float64
}

// Open creates or opens the store at path with a fixed dimension. A
// store created at a different dimension is dropped and rebuilt.
func Open(path string, dim, capacity int, eng embedding.Engine) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryVector, "Open")
	defer timer.Stop()

	if dim <= 0 {
		return nil, fmt.Errorf("vector store dimension must be positive, got %d", dim)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create vector store dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dim: dim, capacity: capacity, engine: eng}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Vector("vector store open: %s dim=%d capacity=%d vec_sql=%v", path, dim, capacity, vecSQLAvailable)
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS store_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	var stored string
	err := s.db.QueryRow(`SELECT value FROM store_meta WHERE key = 'dimension'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		// fresh store
	case err != nil:
		return fmt.Errorf("read stored dimension: %w", err)
	case stored != fmt.Sprintf("%d", s.dim):
		logging.Get(logging.CategoryVector).Warn("dimension mismatch (stored %s, declared %d): dropping table", stored, s.dim)
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS memories`); err != nil {
			return fmt.Errorf("drop mismatched table: %w", err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id          TEXT PRIMARY KEY,
			text        TEXT NOT NULL,
			vector      BLOB NOT NULL,
			memory_type TEXT NOT NULL,
			source      TEXT,
			timestamp   TEXT NOT NULL,
			metadata    TEXT
		);
	`); err != nil {
		return fmt.Errorf("create memories table: %w", err)
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type)`); err != nil {
		return fmt.Errorf("create type index: %w", err)
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO store_meta (key, value) VALUES ('dimension', ?)`, fmt.Sprintf("%d", s.dim)); err != nil {
		return fmt.Errorf("record dimension: %w", err)
	}
	return nil
}

// Remember embeds text and inserts a record, returning its id. Vectors
// are padded or truncated to the declared dimension.
func (s *Store) Remember(ctx context.Context, text string, mtype types.MemoryType, source, metadata string) (string, error) {
	vec, err := s.engine.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embed: %w", err)
	}
	vec = embedding.FitDimension(vec, s.dim)

	id := types.NewEventID()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, text, vector, memory_type, source, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, text, serializeVector(vec), string(mtype), source, now, metadata)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}

	if err := s.prune(ctx); err != nil {
		logging.Get(logging.CategoryVector).Warn("capacity prune failed: %v", err)
	}
	logging.VectorDebug("remembered %s type=%s len=%d", id, mtype, len(text))
	return id, nil
}

// Search embeds the query and returns the k nearest records, most
// similar first, optionally restricted to the given memory types.
func (s *Store) Search(ctx context.Context, query string, k int, filter ...types.MemoryType) ([]SearchResult, error) {
	timer := logging.StartTimer(logging.CategoryVector, "Search")
	defer timer.StopWithThreshold(200 * time.Millisecond)

	if k <= 0 {
		k = 5
	}
	qvec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qvec = embedding.FitDimension(qvec, s.dim)

	if vecSQLAvailable {
		return s.searchSQL(ctx, qvec, k, filter)
	}
	return s.searchScan(ctx, qvec, k, filter)
}

// searchSQL pushes the distance into SQLite via sqlite-vec.
func (s *Store) searchSQL(ctx context.Context, qvec []float32, k int, filter []types.MemoryType) ([]SearchResult, error) {
	where, args := typeFilter(filter)
	args = append([]interface{}{serializeVector(qvec)}, args...)
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, vector, memory_type, source, timestamp, metadata,
		       vec_distance_cosine(vector, ?) AS dist
		FROM memories `+where+`
		ORDER BY dist ASC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		rec, dist, err := scanRecordWithDistance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, SearchResult{Record: rec, Similarity: 1 - dist})
	}
	return out, rows.Err()
}

// searchScan is the pure-Go path: full scan plus cosine sort.
func (s *Store) searchScan(ctx context.Context, qvec []float32, k int, filter []types.MemoryType) ([]SearchResult, error) {
	where, args := typeFilter(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, vector, memory_type, source, timestamp, metadata
		FROM memories `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		sim, err := embedding.CosineSimilarity(qvec, rec.Vector)
		if err != nil {
			continue
		}
		out = append(out, SearchResult{Record: rec, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Recent returns the newest n records, newest first. Empty mtype means
// all types.
func (s *Store) Recent(ctx context.Context, n int, mtype types.MemoryType) ([]types.MemoryRecord, error) {
	if n <= 0 {
		n = 10
	}
	query := `SELECT id, text, vector, memory_type, source, timestamp, metadata FROM memories`
	var args []interface{}
	if mtype != "" {
		query += ` WHERE memory_type = ?`
		args = append(args, string(mtype))
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent scan: %w", err)
	}
	defer rows.Close()

	var out []types.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count reports stored rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// Dimension is the declared vector length.
func (s *Store) Dimension() int {
	return s.dim
}

func (s *Store) Close() error {
	return s.db.Close()
}

// prune deletes the oldest rows above capacity.
func (s *Store) prune(ctx context.Context) error {
	if s.capacity <= 0 {
		return nil
	}
	n, err := s.Count(ctx)
	if err != nil || n <= s.capacity {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM memories WHERE id IN (
			SELECT id FROM memories ORDER BY timestamp ASC, id ASC LIMIT ?
		)`, n-s.capacity)
	if err == nil {
		logging.Vector("pruned %d rows over capacity %d", n-s.capacity, s.capacity)
	}
	return err
}

func typeFilter(filter []types.MemoryType) (string, []interface{}) {
	if len(filter) == 0 {
		return "", nil
	}
	marks := make([]string, len(filter))
	args := make([]interface{}, len(filter))
	for i, t := range filter {
		marks[i] = "?"
		args[i] = string(t)
	}
	return "WHERE memory_type IN (" + strings.Join(marks, ",") + ") ", args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(rows rowScanner) (types.MemoryRecord, error) {
	var rec types.MemoryRecord
	var blob []byte
	var source, stamp, metadata sql.NullString
	var mtype string

	if err := rows.Scan(&rec.ID, &rec.Text, &blob, &mtype, &source, &stamp, &metadata); err != nil {
		return rec, fmt.Errorf("scan memory row: %w", err)
	}
	return finishRecord(rec, blob, mtype, source, stamp, metadata)
}

func scanRecordWithDistance(rows rowScanner) (types.MemoryRecord, float64, error) {
	var rec types.MemoryRecord
	var blob []byte
	var source, stamp, metadata sql.NullString
	var mtype string
	var dist float64

	if err := rows.Scan(&rec.ID, &rec.Text, &blob, &mtype, &source, &stamp, &metadata, &dist); err != nil {
		return rec, 0, fmt.Errorf("scan memory row: %w", err)
	}
	rec, err := finishRecord(rec, blob, mtype, source, stamp, metadata)
	return rec, dist, err
}

func finishRecord(rec types.MemoryRecord, blob []byte, mtype string, source, stamp, metadata sql.NullString) (types.MemoryRecord, error) {
	vec, err := deserializeVector(blob)
	if err != nil {
		return rec, err
	}
	rec.Vector = vec
	rec.Type = types.MemoryType(mtype)
	rec.Source = source.String
	rec.Metadata = metadata.String
	if stamp.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, stamp.String); err == nil {
			rec.Timestamp = ts
		}
	}
	return rec, nil
}

// serializeVector encodes little-endian float32s, the layout sqlite-vec
// reads natively.
func serializeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func deserializeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
