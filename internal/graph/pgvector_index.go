package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGVectorIndex is a VectorIndex backed by the pgvector extension, storing
// one row per concept keyed by concept id and ontology.
type PGVectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPGVectorIndex(ctx context.Context, pool *pgxpool.Pool, dimension int) (*PGVectorIndex, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("graph: enabling pgvector extension: %w", err)
	}
	vecType := "vector"
	if dimension > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimension)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS concept_embeddings (
  concept_id TEXT PRIMARY KEY,
  ontology TEXT NOT NULL,
  embedding %s NOT NULL
);
`, vecType)); err != nil {
		return nil, fmt.Errorf("graph: creating concept_embeddings table: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS concept_embeddings_ontology ON concept_embeddings(ontology)`); err != nil {
		return nil, fmt.Errorf("graph: indexing concept_embeddings: %w", err)
	}
	return &PGVectorIndex{pool: pool, dimension: dimension}, nil
}

func (p *PGVectorIndex) Upsert(ctx context.Context, conceptID, ontology string, embedding []float32) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO concept_embeddings(concept_id, ontology, embedding) VALUES ($1, $2, $3::vector)
ON CONFLICT (concept_id) DO UPDATE SET ontology = EXCLUDED.ontology, embedding = EXCLUDED.embedding
`, conceptID, ontology, toVectorLiteral(embedding))
	return err
}

func (p *PGVectorIndex) Delete(ctx context.Context, conceptID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM concept_embeddings WHERE concept_id = $1`, conceptID)
	return err
}

// TopK orders by cosine distance (pgvector's <=> operator) and converts to
// similarity as 1 - distance, matching the definition MATCH_THRESHOLD is
// compared against.
func (p *PGVectorIndex) TopK(ctx context.Context, embedding []float32, k int, ontology string) ([]VectorMatch, error) {
	if k <= 0 {
		k = 10
	}
	vecLit := toVectorLiteral(embedding)
	where := ""
	args := []any{vecLit, k}
	if ontology != "" {
		where = "WHERE ontology = $3"
		args = append(args, ontology)
	}
	query := fmt.Sprintf(`
SELECT concept_id, 1 - (embedding <=> $1::vector) AS similarity
FROM concept_embeddings
%s
ORDER BY embedding <=> $1::vector
LIMIT $2
`, where)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]VectorMatch, 0, k)
	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.ConceptID, &m.Similarity); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}
