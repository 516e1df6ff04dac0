package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryVectorIndex_TopKOrdersBySimilarity(t *testing.T) {
	idx := NewMemoryVectorIndex()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "close", "cs", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, "far", "cs", []float32{0, 1, 0}))

	matches, err := idx.TopK(ctx, []float32{0.9, 0.1, 0}, 2, "cs")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "close", matches[0].ConceptID)
}

func TestMemoryVectorIndex_ScopesByOntology(t *testing.T) {
	idx := NewMemoryVectorIndex()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "a", "ontology-1", []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, "b", "ontology-2", []float32{1, 0}))

	matches, err := idx.TopK(ctx, []float32{1, 0}, 10, "ontology-1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "a", matches[0].ConceptID)
}

func TestMemoryVectorIndex_DeleteRemovesFromSearch(t *testing.T) {
	idx := NewMemoryVectorIndex()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "a", "cs", []float32{1, 0}))
	require.NoError(t, idx.Delete(ctx, "a"))

	matches, err := idx.TopK(ctx, []float32{1, 0}, 10, "")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestCosineSimilarity_OrthogonalIsZero(t *testing.T) {
	require.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}))
}

func TestCosineSimilarity_MismatchedLengthIsZero(t *testing.T) {
	require.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1}))
}
