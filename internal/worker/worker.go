// Package worker implements the Ingestion Worker (Component D): for one
// approved job, chunk the document, call the extractor per chunk, resolve
// each extracted concept via the Concept Resolver, emit instances and
// relationships, and report progress.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"ingestctl/internal/blobstore"
	"ingestctl/internal/chunk"
	"ingestctl/internal/config"
	"ingestctl/internal/embedder"
	"ingestctl/internal/extractor"
	"ingestctl/internal/graph"
	"ingestctl/internal/ingesterr"
	"ingestctl/internal/jobstore"
	"ingestctl/internal/obslog"
	"ingestctl/internal/obsmetrics"
	"ingestctl/internal/ratelimit"
)

// Deps are the collaborators a Worker needs, gathered once at startup and
// shared by every job a process runs (§9 "config structs captured at worker
// startup" applied to dependencies too).
type Deps struct {
	Jobs                jobstore.Store
	Blobs               blobstore.Resolver
	Extractor           extractor.Extractor
	Embedder            embedder.Embedder
	Resolver            *graph.Resolver
	GraphStore          graph.Store
	Limiter             ratelimit.Bucket
	Metrics             obsmetrics.Metrics
	Profiles            map[string]config.Profile
	MaxChunkConcurrency int
	MaxAttempts         int // chunk-level retry budget, §7 default 5
}

// Worker executes one job at a time end-to-end. A process typically runs
// several Worker values concurrently under the Scheduler's semaphore, one
// per in-flight job.
type Worker struct {
	deps     Deps
	workerID string
}

func New(deps Deps, workerID string) *Worker {
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 5
	}
	if deps.MaxChunkConcurrency <= 0 {
		deps.MaxChunkConcurrency = 4
	}
	if deps.Metrics == nil {
		deps.Metrics = obsmetrics.NewMock()
	}
	return &Worker{deps: deps, workerID: workerID}
}

// recentConceptsCap bounds how many already-known concepts are passed to the
// extractor as context (§6.2 "a capped list").
const recentConceptsCap = 50

// Run drives phases 1, 2, 4, and 5 of §4.D for an already-`processing` job.
// Phase 3 (cost estimation) is a separate entry point, EstimateCost, run by
// the Scheduler before approval.
func (w *Worker) Run(ctx context.Context, job jobstore.Job) error {
	logger := obslog.Job(ctx, job.ID, job.Ontology)

	text, err := w.loadInput(ctx, job)
	if err != nil {
		return w.fail(ctx, job, ingesterr.Permanent(fmt.Errorf("loading input: %w", err)))
	}

	chunks := chunk.Split(text, chunk.Options{TargetWords: job.Options.TargetWords, OverlapWords: job.Options.OverlapWords})
	if len(chunks) == 0 {
		return w.finalize(ctx, job, jobstore.Result{ChunksProcessed: 0})
	}

	profile := w.profileFor(job.Options.ExtractionProfile)

	state := &runState{
		job:     job,
		profile: profile,
		total:   len(chunks),
		concepts: newConceptMemo(),
	}
	state.progress.ChunksTotal = len(chunks)
	state.progress.Stage = "extracting"

	pool, err := ants.NewPool(w.deps.MaxChunkConcurrency)
	if err != nil {
		return w.fail(ctx, job, ingesterr.Permanent(fmt.Errorf("creating chunk worker pool: %w", err)))
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var fatalMu sync.Mutex
	var firstFatal error
	setFatal := func(err error) {
		fatalMu.Lock()
		defer fatalMu.Unlock()
		if firstFatal == nil {
			firstFatal = err
		}
	}
	getFatal := func() error {
		fatalMu.Lock()
		defer fatalMu.Unlock()
		return firstFatal
	}

	for _, c := range chunks {
		// In strict mode (PartialSuccess=false, the default) a fatal error
		// already dooms the job, so stop submitting the remaining chunks
		// instead of still extracting (and billing for) and resolving them.
		if state.cancelled(ctx, w.deps.Jobs, job.ID) || getFatal() != nil {
			break
		}
		c := c
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := w.processChunk(ctx, state, c); err != nil {
				if job.Options.PartialSuccess {
					state.recordPartialFailure(c.Index, err)
					return
				}
				setFatal(err)
			}
		})
		if submitErr != nil {
			wg.Done()
			setFatal(submitErr)
			break
		}
	}
	wg.Wait()

	if firstFatal := getFatal(); firstFatal != nil {
		logger.Error().Err(firstFatal).Msg("job failed during chunk extraction")
		return w.fail(ctx, job, firstFatal)
	}

	if state.cancelled(ctx, w.deps.Jobs, job.ID) {
		return w.cancel(ctx, job, state)
	}

	result := jobstore.Result{
		ChunksProcessed:      state.progress.ChunksProcessed,
		ConceptsCreated:      state.progress.ConceptsCreated,
		ConceptsLinked:       state.progress.ConceptsLinked,
		InstancesCreated:     state.progress.InstancesCreated,
		RelationshipsCreated: state.progress.RelationshipsCreated,
		SourcesCreated:       state.progress.SourcesCreated,
		USDTotal:             state.totalUSD(),
		PartialFailureNote:   state.partialFailureNote(),
	}
	return w.finalize(ctx, job, result)
}

func (w *Worker) profileFor(name string) config.Profile {
	if p, ok := w.deps.Profiles[name]; ok {
		return p
	}
	if p, ok := w.deps.Profiles["default"]; ok {
		return p
	}
	return config.Profile{}
}

func (w *Worker) loadInput(ctx context.Context, job jobstore.Job) (string, error) {
	if job.Input.Text != "" || job.Input.BlobRef == "" {
		return job.Input.Text, nil
	}
	data, err := w.deps.Blobs.Resolve(ctx, job.Input.BlobRef)
	if err != nil {
		return "", fmt.Errorf("resolving blob %q: %w", job.Input.BlobRef, err)
	}
	return string(data), nil
}

func (w *Worker) finalize(ctx context.Context, job jobstore.Job, result jobstore.Result) error {
	if err := w.deps.Jobs.SetResult(ctx, job.ID, result); err != nil {
		return fmt.Errorf("recording result: %w", err)
	}
	return w.deps.Jobs.UpdateStatus(ctx, job.ID, []jobstore.Status{jobstore.StatusProcessing}, jobstore.StatusCompleted, "worker finished")
}

func (w *Worker) fail(ctx context.Context, job jobstore.Job, cause error) error {
	kind := "ExtractionFailed"
	if ie, ok := cause.(*ingesterr.Error); ok {
		kind = string(ie.Kind)
	}
	_ = w.deps.Jobs.SetError(ctx, job.ID, kind, cause.Error())
	if err := w.deps.Jobs.UpdateStatus(ctx, job.ID, []jobstore.Status{jobstore.StatusProcessing}, jobstore.StatusFailed, cause.Error()); err != nil {
		return fmt.Errorf("transitioning to failed: %w", err)
	}
	return cause
}

func (w *Worker) cancel(ctx context.Context, job jobstore.Job, state *runState) error {
	result := jobstore.Result{
		ChunksProcessed:      state.progress.ChunksProcessed,
		ConceptsCreated:      state.progress.ConceptsCreated,
		ConceptsLinked:       state.progress.ConceptsLinked,
		InstancesCreated:     state.progress.InstancesCreated,
		RelationshipsCreated: state.progress.RelationshipsCreated,
		SourcesCreated:       state.progress.SourcesCreated,
		PartialFailureNote:   "cancelled before all chunks completed",
	}
	_ = w.deps.Jobs.SetResult(ctx, job.ID, result)
	return w.deps.Jobs.UpdateStatus(ctx, job.ID, []jobstore.Status{jobstore.StatusProcessing}, jobstore.StatusCancelled, "cancellation observed by worker")
}
