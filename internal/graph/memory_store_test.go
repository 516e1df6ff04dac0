package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CommitChunkIsAtomicAndIdempotentOnSource(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateConcept(ctx, Concept{ID: "c1", Ontology: "cs"}))

	write := ChunkWrite{
		Source:    Source{ID: "src1", Ontology: "cs", JobID: "job1", FullText: "text"},
		AppearsIn: []string{"c1"},
		Instances: []Instance{{ID: "i1", ConceptID: "c1", SourceID: "src1", Quote: "text"}},
	}
	require.NoError(t, s.CommitChunk(ctx, write))
	require.NoError(t, s.CommitChunk(ctx, write)) // idempotent re-commit must not duplicate documents

	c, ok, err := s.GetConceptByID(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"job1"}, c.Documents)
}

func TestMemoryStore_RelationshipMergeTakesMaxConfidence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	write1 := ChunkWrite{
		Source:        Source{ID: "src1"},
		Relationships: []Relationship{{FromConceptID: "a", ToConceptID: "b", Type: "IMPLIES", Confidence: 0.4}},
	}
	write2 := ChunkWrite{
		Source:        Source{ID: "src2"},
		Relationships: []Relationship{{FromConceptID: "a", ToConceptID: "b", Type: "IMPLIES", Confidence: 0.9}},
	}
	require.NoError(t, s.CommitChunk(ctx, write1))
	require.NoError(t, s.CommitChunk(ctx, write2))

	require.Equal(t, 0.9, s.relationships["a|b|IMPLIES"].Confidence)
}

func TestMemoryStore_FindBySearchTermOverlap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateConcept(ctx, Concept{ID: "c1", Ontology: "cs", SearchTerms: []string{"a", "b", "c"}}))
	require.NoError(t, s.CreateConcept(ctx, Concept{ID: "c2", Ontology: "cs", SearchTerms: []string{"x", "y", "z"}}))

	matches, err := s.FindBySearchTermOverlap(ctx, "cs", []string{"a", "b", "d"}, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "c1", matches[0].ID)
}
