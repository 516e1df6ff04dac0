// Package graph implements the Graph Upsert Engine and Concept Resolver
// (Component E): idempotent writes of concepts, sources, instances, and
// inter-concept relationships, plus vector-backed concept identity
// resolution.
package graph

import "time"

// Concept is a durable, embedding-keyed node representing an abstract idea.
type Concept struct {
	ID          string
	Ontology    string
	Label       string
	SearchTerms []string
	Embedding   []float32
	Documents   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Source is created once per job per document chunk boundary and never
// mutated thereafter.
type Source struct {
	ID       string
	Ontology string
	JobID    string
	Filename string
	FullText string
	CreatedAt time.Time
}

// Instance is an EVIDENCED_BY/FROM_SOURCE edge pair: a verbatim quote tying
// a Concept to the Source it was extracted from. No dedup — two identical
// quotes from the same source are two distinct instances (provenance
// counting).
type Instance struct {
	ID        string
	ConceptID string
	SourceID  string
	Quote     string
	CreatedAt time.Time
}

// Relationship is a directed Concept-Concept edge. A given
// (FromConceptID, ToConceptID, Type) triple is unique; re-asserting it
// upgrades Confidence to max(existing, new).
type Relationship struct {
	FromConceptID string
	ToConceptID   string
	Type          string
	Confidence    float64
}

// ChunkWrite is the batched, transactional unit of work for one chunk: a
// Source plus every Instance/Relationship produced from it, and the ids of
// every Concept resolved for the chunk (created or matched), which are
// linked via APPEARS_IN. All of it
// commits or none of it does (§4.E "partial chunk writes must not be
// observable").
type ChunkWrite struct {
	Source            Source
	AppearsIn         []string // concept ids that gained an APPEARS_IN edge to Source
	Instances         []Instance
	Relationships     []Relationship
}
