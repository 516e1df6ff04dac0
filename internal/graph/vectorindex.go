package graph

import "context"

// VectorMatch is one hit from a VectorIndex top-K query.
type VectorMatch struct {
	ConceptID  string
	Similarity float64 // cosine similarity, higher is closer
}

// VectorIndex is cosine top-K search over concept embeddings, scoped by
// ontology when the caller asks for it. Backends: qdrant and pgvector,
// selected the same way the teacher's persistence manager picks a backend
// from a config string (factory.go).
type VectorIndex interface {
	Upsert(ctx context.Context, conceptID, ontology string, embedding []float32) error
	Delete(ctx context.Context, conceptID string) error
	// TopK returns the k nearest concepts to embedding. When ontology is
	// non-empty the search is restricted to that ontology (§4.E step 3
	// ontology_scoped_match).
	TopK(ctx context.Context, embedding []float32, k int, ontology string) ([]VectorMatch, error)
}
