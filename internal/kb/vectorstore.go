package kb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ScoredChunk is a search hit; higher scores are closer.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// VectorStore holds embedded chunks.
type VectorStore interface {
	// Replace swaps the whole index for chunks.
	Replace(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, embedding []float64, k int) ([]ScoredChunk, error)
	Count(ctx context.Context) (int, error)
}

// MemoryVectorStore ranks by cosine similarity with a linear scan.
type MemoryVectorStore struct {
	mu     sync.RWMutex
	chunks []Chunk
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{}
}

func (s *MemoryVectorStore) Replace(_ context.Context, chunks []Chunk) error {
	cp := make([]Chunk, len(chunks))
	copy(cp, chunks)

	s.mu.Lock()
	s.chunks = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryVectorStore) Search(_ context.Context, embedding []float64, k int) ([]ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]ScoredChunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		hits = append(hits, ScoredChunk{Chunk: c, Score: cosine(embedding, c.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *MemoryVectorStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// PgVectorStore keeps chunks in Postgres with the pgvector extension.
type PgVectorStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgVectorStore connects and creates the table. dimensions must match
// the embedding model (1536 for text-embedding-3-small).
func NewPgVectorStore(ctx context.Context, connStr string, dimensions int) (*PgVectorStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PgVectorStore{pool: pool, dimensions: dimensions}
	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgVectorStore) initialize(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS guideline_chunks (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			heading TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)
	`, s.dimensions))
	if err != nil {
		return fmt.Errorf("failed to create guideline_chunks table: %w", err)
	}
	return nil
}

func (s *PgVectorStore) Replace(ctx context.Context, chunks []Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM guideline_chunks`); err != nil {
		return fmt.Errorf("failed to clear guideline chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO guideline_chunks (id, source, heading, content, embedding)
			VALUES ($1, $2, $3, $4, $5::vector)
		`, c.ID, c.Source, c.Heading, c.Text, vectorLiteral(c.Embedding))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store guideline chunks: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PgVectorStore) Search(ctx context.Context, embedding []float64, k int) ([]ScoredChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, heading, content, 1 - (embedding <=> $1::vector) AS score
		FROM guideline_chunks
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, vectorLiteral(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	defer rows.Close()

	var hits []ScoredChunk
	for rows.Next() {
		var h ScoredChunk
		if err := rows.Scan(&h.ID, &h.Source, &h.Heading, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PgVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM guideline_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (s *PgVectorStore) Close() {
	s.pool.Close()
}

// vectorLiteral formats an embedding in pgvector's text form, e.g. [1,2,3].
func vectorLiteral(v []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}
