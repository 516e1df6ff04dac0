package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ingestctl/internal/config"
	"ingestctl/internal/embedder"
	"ingestctl/internal/extractor"
	"ingestctl/internal/graph"
	"ingestctl/internal/jobstore"
	jobstorememory "ingestctl/internal/jobstore/memory"
)

// stubExtractor returns one concept per call, named after the chunk's first
// word, so a multi-chunk job exercises concept reuse across chunks.
type stubExtractor struct {
	concept func(chunkText string) extractor.ExtractionResult
}

func (s stubExtractor) Extract(ctx context.Context, chunkText string, existing []extractor.ConceptRef, profile config.Profile) (extractor.ExtractionResult, extractor.Usage, error) {
	return s.concept(chunkText), extractor.Usage{TokensIn: 10, TokensOut: 5}, nil
}

func newTestJob(t *testing.T, jobs jobstore.Store, text string) jobstore.Job {
	t.Helper()
	job := jobstore.Job{
		Ontology: "cs",
		Input:    jobstore.Input{Text: text},
		Options:  jobstore.Options{TargetWords: 50, OverlapWords: 0},
	}
	id, err := jobs.Create(context.Background(), job)
	require.NoError(t, err)
	require.NoError(t, jobs.UpdateStatus(context.Background(), id, []jobstore.Status{jobstore.StatusQueued}, jobstore.StatusAwaitingApproval, "test setup"))
	require.NoError(t, jobs.UpdateStatus(context.Background(), id, []jobstore.Status{jobstore.StatusAwaitingApproval}, jobstore.StatusApproved, "test setup"))

	claimed, ok, err := jobs.ClaimNext(context.Background(), "worker-1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, claimed.ID)
	return claimed
}

func TestWorker_RunCompletesSimpleJob(t *testing.T) {
	jobs := jobstorememory.New()
	job := newTestJob(t, jobs, "linear scanning is a simple technique that reads every element once")

	extr := stubExtractor{concept: func(text string) extractor.ExtractionResult {
		return extractor.ExtractionResult{
			Concepts:  []extractor.ExtractedConcept{{ConceptID: "linear-scanning", Label: "Linear scanning", Confidence: 0.9}},
			Instances: []extractor.ExtractedInstance{{ConceptID: "linear-scanning", Quote: "linear scanning is a simple technique that reads every element once"}},
		}
	}}

	store := graph.NewMemoryStore()
	index := graph.NewMemoryVectorIndex()
	resolver := graph.NewResolver(store, index, graph.DefaultResolveConfig())

	w := New(Deps{
		Jobs:                jobs,
		Extractor:           extr,
		Embedder:            embedder.NewDeterministic(16, 1),
		Resolver:            resolver,
		GraphStore:          store,
		Profiles:            map[string]config.Profile{"default": {ModelID: "test-model"}},
		MaxChunkConcurrency: 2,
		MaxAttempts:         3,
	}, "worker-1")

	err := w.Run(context.Background(), job)
	require.NoError(t, err)

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusCompleted, got.Status)
	require.Equal(t, 1, got.Result.ChunksProcessed)
	require.Equal(t, 1, got.Result.ConceptsCreated)
	require.Equal(t, 1, got.Result.InstancesCreated)

	c, ok, err := store.GetConceptByID(context.Background(), "linear-scanning")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, c.Documents, job.ID)
}

func TestWorker_EmptyInputYieldsTriviallySuccessfulJob(t *testing.T) {
	jobs := jobstorememory.New()
	job := newTestJob(t, jobs, "")

	w := New(Deps{Jobs: jobs}, "worker-1")
	err := w.Run(context.Background(), job)
	require.NoError(t, err)

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusCompleted, got.Status)
	require.Equal(t, 0, got.Result.ChunksProcessed)
}

func TestWorker_StrictModeFailsJobOnChunkError(t *testing.T) {
	jobs := jobstorememory.New()
	job := newTestJob(t, jobs, "some words that will fail to extract cleanly today")

	extr := stubExtractor{concept: func(text string) extractor.ExtractionResult {
		return extractor.ExtractionResult{
			Instances: []extractor.ExtractedInstance{{ConceptID: "unknown-concept", Quote: "not a substring"}},
		}
	}}

	store := graph.NewMemoryStore()
	index := graph.NewMemoryVectorIndex()
	resolver := graph.NewResolver(store, index, graph.DefaultResolveConfig())

	w := New(Deps{
		Jobs:                jobs,
		Extractor:           extr,
		Embedder:            embedder.NewDeterministic(16, 1),
		Resolver:            resolver,
		GraphStore:          store,
		Profiles:            map[string]config.Profile{"default": {}},
		MaxChunkConcurrency: 1,
		MaxAttempts:         1,
	}, "worker-1")

	err := w.Run(context.Background(), job)
	require.Error(t, err)

	got, getErr := jobs.Get(context.Background(), job.ID)
	require.NoError(t, getErr)
	require.Equal(t, jobstore.StatusFailed, got.Status)
}

func TestWorker_EstimateCostCountsChunksWithoutCallingExtractor(t *testing.T) {
	jobs := jobstorememory.New()
	text := ""
	for i := 0; i < 200; i++ {
		text += "word "
	}
	job := newTestJob(t, jobs, text)

	called := false
	extr := stubExtractor{concept: func(string) extractor.ExtractionResult {
		called = true
		return extractor.ExtractionResult{}
	}}

	w := New(Deps{
		Jobs:      jobs,
		Extractor: extr,
		Profiles:  map[string]config.Profile{"default": {InputPricePerMTok: 3, OutputPricePerMTok: 15, ModelID: "test-model"}},
	}, "worker-1")

	estimate, err := w.EstimateCost(context.Background(), job)
	require.NoError(t, err)
	require.False(t, called)
	require.Greater(t, estimate.TokensIn, int64(0))
	require.Contains(t, estimate.ModelIDs, "test-model")
}
