// Package pg implements the vector store over PostgreSQL with the pgvector
// extension. Metadata lives in a JSONB column so filters run server-side.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	apierrors "github.com/defensa-digital/contratos-rag/errors"
	"github.com/defensa-digital/contratos-rag/vector"
)

// Store is a pgvector-backed vector store.
type Store struct {
	db        *sql.DB
	dimension int
	tableName string
}

// Config holds the connection parameters.
type Config struct {
	DSN       string
	Dimension int
	TableName string
}

// Open connects to PostgreSQL, enables pgvector, and ensures the table
// exists.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: postgres DSN is required", apierrors.ErrInvalidInput)
	}
	if cfg.TableName == "" {
		cfg.TableName = "chunks"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 3072
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping PostgreSQL: %w", err)
	}

	s := &Store{db: db, dimension: cfg.Dimension, tableName: cfg.TableName}
	if err := s.setup(context.Background()); err != nil {
		return nil, fmt.Errorf("setup pgvector: %w", err)
	}
	return s, nil
}

func (s *Store) setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		text TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.tableName, s.dimension)

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, embedding *vector.Embedding) error {
	if embedding == nil || embedding.ID == "" {
		return fmt.Errorf("%w: embedding requires an id", apierrors.ErrInvalidInput)
	}
	if len(embedding.Vector) != s.dimension {
		return fmt.Errorf("%w: embedding dimension mismatch: expected %d, got %d",
			apierrors.ErrInvalidInput, s.dimension, len(embedding.Vector))
	}
	if err := vector.ValidateMetadata(embedding.Metadata); err != nil {
		return fmt.Errorf("%w: %v", apierrors.ErrInvalidInput, err)
	}

	metaJSON, err := json.Marshal(embedding.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, text, embedding, metadata)
	VALUES ($1, $2, $3::vector, $4::jsonb)
	ON CONFLICT (id) DO UPDATE SET
		text = EXCLUDED.text,
		embedding = EXCLUDED.embedding,
		metadata = EXCLUDED.metadata,
		created_at = CURRENT_TIMESTAMP
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, embedding.ID, embedding.Text, vectorToString(embedding.Vector), metaJSON); err != nil {
		return fmt.Errorf("add embedding: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, queryVector []float32, topK int, filter *vector.Filter) ([]*vector.Result, error) {
	if len(queryVector) != s.dimension {
		return nil, fmt.Errorf("%w: query vector dimension mismatch: expected %d, got %d",
			apierrors.ErrInvalidInput, s.dimension, len(queryVector))
	}
	if topK <= 0 {
		topK = 10
	}

	where, args := buildFilter(filter, 3)

	query := fmt.Sprintf(`
	SELECT id, text, metadata, embedding <=> $1::vector AS distance
	FROM %s
	%s
	ORDER BY distance ASC, id ASC
	LIMIT $2
	`, s.tableName, where)

	allArgs := append([]any{vectorToString(queryVector), topK}, args...)
	rows, err := s.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}
	defer rows.Close()

	results := make([]*vector.Result, 0, topK)
	for rows.Next() {
		var id, text string
		var metaJSON []byte
		var distance float64
		if err := rows.Scan(&id, &text, &metaJSON, &distance); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		meta := map[string]any{}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &meta); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
			}
		}
		results = append(results, &vector.Result{
			Embedding: &vector.Embedding{ID: id, Text: text, Metadata: meta},
			Distance:  distance,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return results, nil
}

// buildFilter renders the metadata filter as a WHERE clause. Placeholders
// start at startIdx because $1/$2 carry the vector and limit.
func buildFilter(filter *vector.Filter, startIdx int) (string, []any) {
	if filter.Empty() {
		return "", nil
	}

	var conds []string
	var args []any
	idx := startIdx

	for key, val := range filter.Eq {
		conds = append(conds, fmt.Sprintf("metadata @> jsonb_build_object($%d::text, $%d::jsonb)", idx, idx+1))
		raw, _ := json.Marshal(val)
		args = append(args, key, string(raw))
		idx += 2
	}
	for key, options := range filter.In {
		raw, _ := json.Marshal(options)
		conds = append(conds, fmt.Sprintf("metadata->$%d::text <@ $%d::jsonb", idx, idx+1))
		args = append(args, key, string(raw))
		idx += 2
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) Get(ctx context.Context, id string) (*vector.Embedding, error) {
	query := fmt.Sprintf(`SELECT id, text, embedding, metadata FROM %s WHERE id = $1`, s.tableName)

	var embID, text, vecStr string
	var metaJSON []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&embID, &text, &vecStr, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: embedding %q", apierrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}

	vec, err := stringToVector(vecStr)
	if err != nil {
		return nil, fmt.Errorf("parse vector for %s: %w", id, err)
	}
	meta := map[string]any{}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}
	return &vector.Embedding{ID: embID, Text: text, Vector: vec, Metadata: meta}, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName), id)
	if err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: embedding %q", apierrors.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", s.tableName)); err != nil {
		return fmt.Errorf("clear embeddings: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func vectorToString(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func stringToVector(str string) ([]float32, error) {
	str = strings.TrimPrefix(str, "[")
	str = strings.TrimSuffix(str, "]")
	parts := strings.Split(str, ",")

	vec := make([]float32, 0, len(parts))
	for i, part := range parts {
		var v float32
		n, err := fmt.Sscanf(strings.TrimSpace(part), "%f", &v)
		if err != nil || n != 1 {
			return nil, fmt.Errorf("parse vector component at index %d: %q", i, part)
		}
		vec = append(vec, v)
	}
	return vec, nil
}
