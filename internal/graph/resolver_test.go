package graph

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolver_ProposedIDAlreadyExists(t *testing.T) {
	store := NewMemoryStore()
	index := NewMemoryVectorIndex()
	require.NoError(t, store.CreateConcept(context.Background(), Concept{ID: "linear-scanning", Ontology: "cs"}))

	r := NewResolver(store, index, DefaultResolveConfig())
	res, err := r.Resolve(context.Background(), Proposal{ProposedConceptID: "linear-scanning", Ontology: "cs"})
	require.NoError(t, err)
	require.Equal(t, "linear-scanning", res.ConceptID)
	require.False(t, res.Created)
}

func TestResolver_CreatesNewConceptWhenNoMatch(t *testing.T) {
	store := NewMemoryStore()
	index := NewMemoryVectorIndex()
	r := NewResolver(store, index, DefaultResolveConfig())

	res, err := r.Resolve(context.Background(), Proposal{
		Ontology:  "cs",
		Label:     "Linear Scanning",
		Embedding: []float32{1, 0, 0},
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, "linear-scanning", res.ConceptID)
}

func TestResolver_MatchesByCosineSimilarityAboveThreshold(t *testing.T) {
	store := NewMemoryStore()
	index := NewMemoryVectorIndex()
	require.NoError(t, store.CreateConcept(context.Background(), Concept{ID: "existing", Ontology: "cs"}))
	require.NoError(t, index.Upsert(context.Background(), "existing", "cs", []float32{1, 0, 0}))

	r := NewResolver(store, index, DefaultResolveConfig())
	res, err := r.Resolve(context.Background(), Proposal{
		Ontology:  "cs",
		Label:     "Basically the same thing",
		Embedding: []float32{0.99, 0.01, 0},
	})
	require.NoError(t, err)
	require.Equal(t, "existing", res.ConceptID)
	require.False(t, res.Created)
}

func TestResolver_FallsBackToSearchTermOverlap(t *testing.T) {
	store := NewMemoryStore()
	index := NewMemoryVectorIndex()
	require.NoError(t, store.CreateConcept(context.Background(), Concept{
		ID: "existing", Ontology: "cs", SearchTerms: []string{"alpha", "beta", "gamma"},
	}))
	require.NoError(t, index.Upsert(context.Background(), "existing", "cs", []float32{1, 0, 0}))

	r := NewResolver(store, index, DefaultResolveConfig())
	res, err := r.Resolve(context.Background(), Proposal{
		Ontology:    "cs",
		Label:       "Unrelated vector but same idea",
		SearchTerms: []string{"alpha", "beta", "delta"},
		Embedding:   []float32{0, 1, 0}, // far from existing's embedding
	})
	require.NoError(t, err)
	require.Equal(t, "existing", res.ConceptID)
}

func TestResolver_DeCollidesSlugOnSecondConceptWithSameLabel(t *testing.T) {
	store := NewMemoryStore()
	index := NewMemoryVectorIndex()
	r := NewResolver(store, index, DefaultResolveConfig())

	res1, err := r.Resolve(context.Background(), Proposal{Ontology: "cs", Label: "Recursion", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	res2, err := r.Resolve(context.Background(), Proposal{Ontology: "cs", Label: "Recursion", Embedding: []float32{0, 1, 0}})
	require.NoError(t, err)

	require.Equal(t, "recursion", res1.ConceptID)
	require.Equal(t, "recursion-2", res2.ConceptID)
}

func TestResolver_ConcurrentCreatesUnderSameOntologyDoNotDuplicate(t *testing.T) {
	store := NewMemoryStore()
	index := NewMemoryVectorIndex()
	cfg := DefaultResolveConfig()
	r := NewResolver(store, index, cfg)

	var wg sync.WaitGroup
	results := make([]Resolution, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), Proposal{
				Ontology:  "cs",
				Label:     "Shared Concept",
				Embedding: []float32{1, 0, 0},
			})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for _, r := range results {
		ids[r.ConceptID] = true
	}
	require.Len(t, ids, 1, "expected exactly one concept id across all concurrent resolutions")
}
