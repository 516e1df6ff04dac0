package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable property graph, extending the teacher's
// generic nodes/edges schema (postgres_graph.go) into first-class
// Concept/Source/Instance/Relationship tables so identity-resolution queries
// (search-term Jaccard overlap) and the APPEARS_IN/EVIDENCED_BY/FROM_SOURCE
// invariants of §3 are enforceable with plain SQL constraints rather than a
// generic JSONB props blob.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS concepts (
			id TEXT PRIMARY KEY,
			ontology TEXT NOT NULL,
			label TEXT NOT NULL,
			search_terms TEXT[] NOT NULL DEFAULT '{}',
			documents TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS concepts_ontology ON concepts(ontology)`,
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			ontology TEXT NOT NULL,
			job_id TEXT NOT NULL,
			filename TEXT NOT NULL DEFAULT '',
			full_text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			concept_id TEXT NOT NULL REFERENCES concepts(id),
			source_id TEXT NOT NULL REFERENCES sources(id),
			quote TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS instances_concept ON instances(concept_id)`,
		`CREATE INDEX IF NOT EXISTS instances_source ON instances(source_id)`,
		`CREATE TABLE IF NOT EXISTS concept_relationships (
			from_concept_id TEXT NOT NULL REFERENCES concepts(id),
			to_concept_id TEXT NOT NULL REFERENCES concepts(id),
			type TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (from_concept_id, to_concept_id, type)
		)`,
		`CREATE TABLE IF NOT EXISTS concept_appears_in (
			concept_id TEXT NOT NULL REFERENCES concepts(id),
			source_id TEXT NOT NULL REFERENCES sources(id),
			PRIMARY KEY (concept_id, source_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("graph: bootstrapping schema: %w", err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetConceptByID(ctx context.Context, id string) (Concept, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, ontology, label, search_terms, documents, created_at, updated_at
FROM concepts WHERE id = $1`, id)
	var c Concept
	if err := row.Scan(&c.ID, &c.Ontology, &c.Label, &c.SearchTerms, &c.Documents, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Concept{}, false, nil
		}
		return Concept{}, false, err
	}
	return c, true, nil
}

func (s *PostgresStore) FindBySearchTermOverlap(ctx context.Context, ontology string, terms []string, minOverlap float64) ([]Concept, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	// cardinality(array intersection) / cardinality(array union) >= minOverlap,
	// computed with array_agg(DISTINCT ...) over the concatenation.
	rows, err := s.pool.Query(ctx, `
SELECT id, ontology, label, search_terms, documents, created_at, updated_at
FROM concepts
WHERE ontology = $1
AND cardinality(ARRAY(SELECT UNNEST(search_terms) INTERSECT SELECT UNNEST($2::text[]))) >= (
	$3 * GREATEST(cardinality(ARRAY(SELECT UNNEST(search_terms) UNION SELECT UNNEST($2::text[])))), 1)
`, ontology, terms, minOverlap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Concept
	for rows.Next() {
		var c Concept
		if err := rows.Scan(&c.ID, &c.Ontology, &c.Label, &c.SearchTerms, &c.Documents, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateConcept(ctx context.Context, c Concept) error {
	now := c.CreatedAt
	if now.IsZero() {
		now = c.UpdatedAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO concepts(id, ontology, label, search_terms, documents, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING
`, c.ID, c.Ontology, c.Label, c.SearchTerms, c.Documents, c.CreatedAt, c.UpdatedAt)
	return err
}

// CommitChunk writes everything for one chunk inside a single transaction,
// so no partial chunk write is ever observable (§4.E write semantics).
func (s *PostgresStore) CommitChunk(ctx context.Context, write ChunkWrite) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		src := write.Source
		if src.CreatedAt.IsZero() {
			src.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO sources(id, ontology, job_id, filename, full_text, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING
`, src.ID, src.Ontology, src.JobID, src.Filename, src.FullText, src.CreatedAt); err != nil {
			return fmt.Errorf("inserting source: %w", err)
		}

		for _, conceptID := range write.AppearsIn {
			if _, err := tx.Exec(ctx, `
INSERT INTO concept_appears_in(concept_id, source_id) VALUES ($1,$2)
ON CONFLICT DO NOTHING
`, conceptID, src.ID); err != nil {
				return fmt.Errorf("inserting appears_in: %w", err)
			}
			if _, err := tx.Exec(ctx, `
UPDATE concepts
SET documents = CASE WHEN $2 = ANY(documents) THEN documents ELSE array_append(documents, $2) END,
    updated_at = now()
WHERE id = $1
`, conceptID, src.JobID); err != nil {
				return fmt.Errorf("linking concept %q to job: %w", conceptID, err)
			}
		}

		for _, inst := range write.Instances {
			createdAt := inst.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO instances(id, concept_id, source_id, quote, created_at)
VALUES ($1,$2,$3,$4,$5)
`, inst.ID, inst.ConceptID, inst.SourceID, inst.Quote, createdAt); err != nil {
				return fmt.Errorf("inserting instance: %w", err)
			}
		}

		for _, rel := range write.Relationships {
			if _, err := tx.Exec(ctx, `
INSERT INTO concept_relationships(from_concept_id, to_concept_id, type, confidence)
VALUES ($1,$2,$3,$4)
ON CONFLICT (from_concept_id, to_concept_id, type)
DO UPDATE SET confidence = GREATEST(concept_relationships.confidence, EXCLUDED.confidence)
`, rel.FromConceptID, rel.ToConceptID, rel.Type, rel.Confidence); err != nil {
				return fmt.Errorf("merging relationship: %w", err)
			}
		}
		return nil
	})
}
