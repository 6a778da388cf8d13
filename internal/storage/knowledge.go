package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// KnowledgeEntry is one remembered fact with its embedding vector.
type KnowledgeEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredEntry is a search hit with its cosine similarity.
type ScoredEntry struct {
	KnowledgeEntry
	Score float64 `json:"score"`
}

// KnowledgeStore persists facts with embeddings and ranks them by cosine
// similarity. Vectors are scanned in Go rather than via an index, which
// is fine for the single-user scale this serves.
type KnowledgeStore struct {
	db *sql.DB
}

func NewKnowledgeStore(db *sql.DB) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

// Add stores a fact and returns its id. The embedding may be nil when no
// embedding model is configured; the entry is then invisible to Search.
func (s *KnowledgeStore) Add(ctx context.Context, content, source string, embedding []float32) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge (id, content, source, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, content, nullString(source), encodeEmbedding(embedding), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to store knowledge: %w", err)
	}
	return id, nil
}

// Search returns up to limit entries ranked by similarity to the query
// embedding. Entries without an embedding are skipped.
func (s *KnowledgeStore) Search(ctx context.Context, embedding []float32, limit int) ([]ScoredEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, source, embedding, created_at FROM knowledge`)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge: %w", err)
	}
	defer rows.Close()

	var hits []ScoredEntry
	for rows.Next() {
		var e KnowledgeEntry
		var source sql.NullString
		var blob []byte
		if err := rows.Scan(&e.ID, &e.Content, &source, &blob, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge: %w", err)
		}
		e.Source = source.String
		stored := decodeEmbedding(blob)
		if len(stored) == 0 {
			continue
		}
		hits = append(hits, ScoredEntry{
			KnowledgeEntry: e,
			Score:          cosineSimilarity(embedding, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// List returns all entries, newest first.
func (s *KnowledgeStore) List(ctx context.Context) ([]KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, source, created_at FROM knowledge ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge: %w", err)
	}
	defer rows.Close()

	var entries []KnowledgeEntry
	for rows.Next() {
		var e KnowledgeEntry
		var source sql.NullString
		if err := rows.Scan(&e.ID, &e.Content, &source, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Source = source.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *KnowledgeStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge: %w", err)
	}
	return requireRow(res)
}

func (s *KnowledgeStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count knowledge: %w", err)
	}
	return n, nil
}

func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding
}

func cosineSimilarity(a, b []float32) float64 {
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
