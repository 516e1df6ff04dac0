package graph

import "context"

// Store is the property-graph backend: idempotent node/edge upserts over
// Concept/Source/Instance nodes and their edges (§3 invariants). A chunk's
// source, edges, instances and relationships go through CommitChunk as a
// single transactional unit; new concepts are written earlier by the
// resolver through CreateConcept, outside that transaction, and stay in
// place if the chunk later fails.
type Store interface {
	// GetConceptByID returns a concept by id, ok=false if absent.
	GetConceptByID(ctx context.Context, id string) (Concept, bool, error)
	// FindBySearchTermOverlap returns concepts in ontology whose search_terms
	// set has Jaccard overlap >= minOverlap with terms (§4.E step 5).
	FindBySearchTermOverlap(ctx context.Context, ontology string, terms []string, minOverlap float64) ([]Concept, error)
	// CreateConcept inserts a brand-new concept. Callers must hold the
	// resolver's global create lock when calling this (§4.E, §5).
	CreateConcept(ctx context.Context, c Concept) error

	// CommitChunk atomically writes one chunk's Source, APPEARS_IN edges,
	// Concept.documents set extensions, Instances, and Relationship merges
	// (§4.E write semantics: "partial chunk writes must not be observable").
	// The documents-set extension lives here rather than as a standalone
	// call so a failure anywhere in the chunk (a later concept, embedding,
	// or the commit itself) rolls the whole chunk back instead of leaving
	// an already-linked concept/document pair behind.
	CommitChunk(ctx context.Context, write ChunkWrite) error
}
