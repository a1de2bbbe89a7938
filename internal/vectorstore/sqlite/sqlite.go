// Package sqlite stores chunk vectors in a SQLite table and searches them
// with brute-force cosine similarity.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunk_vectors (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	namespace   TEXT NOT NULL,
	origin      TEXT NOT NULL,
	idx         INTEGER NOT NULL,
	start       INTEGER NOT NULL,
	text        TEXT NOT NULL,
	vector      TEXT NOT NULL,
	inserted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chunk_vectors_namespace ON chunk_vectors(namespace);
`

// Store is a vectorstore.Storage backed by a single SQLite database. Rows
// are keyed by an insertion sequence, so the same chunk ID may live in
// several namespaces without one write touching another.
type Store struct {
	db *sql.DB
}

var _ vectorstore.Storage = (*Store)(nil)

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", domain.ErrVectorStoreUnavailable, err)
	}
	// one connection keeps ":memory:" a single database and serialises writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", domain.ErrVectorStoreUnavailable, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Upsert(ctx context.Context, namespace string, chunks []domain.Chunk, vectors [][]float64) error {
	if err := vectorstore.ValidateUpsert(namespace, chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVectorStoreUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk_vectors(id, namespace, origin, idx, start, text, vector, inserted_at) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVectorStoreUnavailable, err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for i, c := range chunks {
		vec, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("encoding vector %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, namespace, c.Origin, c.Index, c.Start, c.Text, string(vec), now); err != nil {
			return fmt.Errorf("%w: inserting chunk %s: %v", domain.ErrVectorStoreUnavailable, c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVectorStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, namespace string, vector []float64, topK int) ([]domain.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, origin, idx, start, text, vector FROM chunk_vectors WHERE namespace = ? ORDER BY seq`, namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVectorStoreUnavailable, err)
	}
	defer rows.Close()

	var candidates []vectorstore.Candidate
	for rows.Next() {
		var (
			c   vectorstore.Candidate
			vec string
		)
		if err := rows.Scan(&c.Chunk.ID, &c.Chunk.Origin, &c.Chunk.Index, &c.Chunk.Start, &c.Chunk.Text, &vec); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrVectorStoreUnavailable, err)
		}
		if err := json.Unmarshal([]byte(vec), &c.Vector); err != nil {
			return nil, fmt.Errorf("decoding vector %s: %w", c.Chunk.ID, err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVectorStoreUnavailable, err)
	}
	return vectorstore.Rank(candidates, vector, topK), nil
}

func (s *Store) DeletePartition(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE namespace = ?`, namespace)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVectorStoreUnavailable, err)
	}
	return nil
}

// Namespaces lists every namespace that still holds vectors.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM chunk_vectors ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVectorStoreUnavailable, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}
