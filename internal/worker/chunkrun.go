package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ingestctl/internal/chunk"
	"ingestctl/internal/config"
	"ingestctl/internal/extractor"
	"ingestctl/internal/graph"
	"ingestctl/internal/ingesterr"
	"ingestctl/internal/jobstore"
	"ingestctl/internal/obslog"
)

// runState accumulates the mutable, cross-chunk bookkeeping for one job
// execution: the running progress counters, the memo of already-resolved
// concepts offered to the extractor as context, and any partial-failure
// notes. All fields are guarded by mu since chunks run concurrently.
type runState struct {
	job     jobstore.Job
	profile config.Profile
	total   int

	mu              sync.Mutex
	progress        jobstore.Progress
	partialFailures []string
	usdTotal        float64
	concepts        *conceptMemo
}

func (s *runState) cancelled(ctx context.Context, jobs jobstore.Store, id string) bool {
	current, err := jobs.Get(ctx, id)
	if err != nil {
		return false
	}
	return current.CancellationRequested
}

func (s *runState) recordPartialFailure(chunkIndex int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partialFailures = append(s.partialFailures, fmt.Sprintf("chunk %d: %v", chunkIndex, err))
}

func (s *runState) partialFailureNote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.partialFailures) == 0 {
		return ""
	}
	return strings.Join(s.partialFailures, "; ")
}

func (s *runState) addUSD(amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usdTotal += amount
}

func (s *runState) totalUSD() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usdTotal
}

// usageCostUSD prices a chunk's token usage against the profile's published
// per-million-token rates (§4.D.3's pricing model, applied post-hoc to the
// actual usage rather than the dry-run estimate).
func usageCostUSD(profile config.Profile, usage extractor.Usage) float64 {
	const million = 1_000_000.0
	return float64(usage.TokensIn)/million*profile.InputPricePerMTok +
		float64(usage.TokensOut)/million*profile.OutputPricePerMTok
}

func (s *runState) applyDelta(d progressDelta) jobstore.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.ChunksProcessed++
	s.progress.ConceptsCreated += d.conceptsCreated
	s.progress.ConceptsLinked += d.conceptsLinked
	s.progress.InstancesCreated += d.instancesCreated
	s.progress.RelationshipsCreated += d.relationshipsCreated
	s.progress.SourcesCreated++
	if s.total > 0 {
		s.progress.Percent = 100 * s.progress.ChunksProcessed / s.total
	}
	out := s.progress
	return out
}

type progressDelta struct {
	conceptsCreated      int
	conceptsLinked       int
	instancesCreated     int
	relationshipsCreated int
}

// conceptMemo is the capped, shared "recently resolved concepts" context
// handed to the extractor (§6.2); it is intentionally coarse (no per-chunk
// relevance ranking) since the spec only requires a capped list.
type conceptMemo struct {
	mu    sync.Mutex
	order []extractor.ConceptRef
}

func newConceptMemo() *conceptMemo {
	return &conceptMemo{}
}

func (m *conceptMemo) Snapshot() []extractor.ConceptRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]extractor.ConceptRef, len(m.order))
	copy(out, m.order)
	return out
}

func (m *conceptMemo) Add(ref extractor.ConceptRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.order {
		if existing.ConceptID == ref.ConceptID {
			return
		}
	}
	m.order = append(m.order, ref)
	if len(m.order) > recentConceptsCap {
		m.order = m.order[len(m.order)-recentConceptsCap:]
	}
}

// processChunk runs phase 4 steps a-g of §4.D for one chunk: create a
// Source, call the extractor with retry, resolve every concept, and commit
// the chunk's writes as one transaction.
func (w *Worker) processChunk(ctx context.Context, state *runState, c chunk.Chunk) error {
	job := state.job

	started := time.Now()
	defer func() {
		w.deps.Metrics.ObserveHistogram("chunk_process_duration_seconds", time.Since(started).Seconds(), map[string]string{"ontology": job.Ontology})
	}()

	rateLimitKey := w.deps.Profiles[job.Options.ExtractionProfile].ModelID
	if rateLimitKey == "" {
		rateLimitKey = "default"
	}

	extraction, usage, err := w.extractWithRetry(ctx, rateLimitKey, c.Text, state)
	if err != nil {
		w.deps.Metrics.IncCounter("chunk_extraction_failed_total", map[string]string{"ontology": job.Ontology})
		return fmt.Errorf("chunk %d extraction: %w", c.Index, err)
	}
	state.addUSD(usageCostUSD(state.profile, usage))

	source := graph.Source{
		ID:       uuid.NewString(),
		Ontology: job.Ontology,
		JobID:    job.ID,
		Filename: job.Input.Filename,
		FullText: c.Text,
	}

	embeddings, err := w.embedConcepts(ctx, extraction.Concepts)
	if err != nil {
		return fmt.Errorf("chunk %d embedding: %w", c.Index, err)
	}

	var delta progressDelta
	resolved := make(map[string]string, len(extraction.Concepts)) // extractor concept_id -> graph concept id
	appearsIn := make([]string, 0, len(extraction.Concepts))

	for _, ec := range extraction.Concepts {
		res, err := w.deps.Resolver.Resolve(ctx, graph.Proposal{
			ProposedConceptID: ec.ConceptID,
			Ontology:          job.Ontology,
			Label:             ec.Label,
			SearchTerms:       ec.SearchTerms,
			Embedding:         embeddings[ec.ConceptID],
		})
		if err != nil {
			return fmt.Errorf("resolving concept %q: %w", ec.ConceptID, err)
		}
		resolved[ec.ConceptID] = res.ConceptID
		appearsIn = append(appearsIn, res.ConceptID)
		if res.Created {
			delta.conceptsCreated++
		} else {
			delta.conceptsLinked++
		}
		state.concepts.Add(extractor.ConceptRef{ConceptID: res.ConceptID, Label: ec.Label, SearchTerms: ec.SearchTerms})
	}

	instances := make([]graph.Instance, 0, len(extraction.Instances))
	for _, inst := range extraction.Instances {
		conceptID, ok := resolved[inst.ConceptID]
		if !ok {
			continue
		}
		instances = append(instances, graph.Instance{
			ID:        uuid.NewString(),
			ConceptID: conceptID,
			SourceID:  source.ID,
			Quote:     inst.Quote,
		})
		delta.instancesCreated++
	}

	relationships := make([]graph.Relationship, 0, len(extraction.Relationships))
	for _, rel := range extraction.Relationships {
		from, okFrom := resolved[rel.FromConceptID]
		to, okTo := resolved[rel.ToConceptID]
		if !okFrom || !okTo || from == to {
			continue
		}
		relationships = append(relationships, graph.Relationship{
			FromConceptID: from,
			ToConceptID:   to,
			Type:          rel.Type,
			Confidence:    rel.Confidence,
		})
		delta.relationshipsCreated++
	}

	if err := w.deps.GraphStore.CommitChunk(ctx, graph.ChunkWrite{
		Source:        source,
		AppearsIn:     appearsIn,
		Instances:     instances,
		Relationships: relationships,
	}); err != nil {
		return fmt.Errorf("committing chunk %d: %w", c.Index, err)
	}

	for i := 0; i < delta.conceptsCreated; i++ {
		w.deps.Metrics.IncCounter("concepts_created_total", map[string]string{"ontology": job.Ontology})
	}
	for i := 0; i < delta.conceptsLinked; i++ {
		w.deps.Metrics.IncCounter("concepts_linked_total", map[string]string{"ontology": job.Ontology})
	}

	progress := state.applyDelta(delta)
	if err := w.deps.Jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		return fmt.Errorf("updating progress: %w", err)
	}
	return nil
}

func (w *Worker) embedConcepts(ctx context.Context, concepts []extractor.ExtractedConcept) (map[string][]float32, error) {
	if len(concepts) == 0 {
		return nil, nil
	}
	texts := make([]string, len(concepts))
	for i, c := range concepts {
		texts[i] = c.Label
	}
	vectors, err := w.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(concepts))
	for i, c := range concepts {
		out[c.ConceptID] = vectors[i]
	}
	return out, nil
}

// extractWithRetry implements §7's chunk-level retry policy: Transient and
// RateLimited errors are retried with exponential backoff and jitter up to
// MaxAttempts; InvalidOutput is retried once; Permanent is not retried.
func (w *Worker) extractWithRetry(ctx context.Context, rateLimitKey, text string, state *runState) (extractor.ExtractionResult, extractor.Usage, error) {
	logger := obslog.Job(ctx, state.job.ID, state.job.Ontology)
	existing := state.concepts.Snapshot()
	labels := map[string]string{"ontology": state.job.Ontology}

	invalidOutputRetried := false
	var lastErr error
	for attempt := 1; attempt <= w.deps.MaxAttempts; attempt++ {
		if w.deps.Limiter != nil {
			if err := w.deps.Limiter.Allow(ctx, rateLimitKey); err != nil {
				return extractor.ExtractionResult{}, extractor.Usage{}, err
			}
		}

		started := time.Now()
		result, usage, err := w.deps.Extractor.Extract(ctx, text, existing, state.profile)
		w.deps.Metrics.ObserveHistogram("extraction_call_duration_seconds", time.Since(started).Seconds(), labels)
		if err == nil {
			// §4.D.4.c: validate regardless of whether the backend already
			// did, since Extractor is an external-provider boundary.
			if verr := extractor.Validate(result, text); verr != nil {
				err = verr
			} else {
				return result, usage, nil
			}
		}
		lastErr = err

		switch {
		case ingesterr.Is(err, ingesterr.KindInvalid) && !invalidOutputRetried:
			invalidOutputRetried = true
			w.deps.Metrics.IncCounter("extraction_retries_total", labels)
			logger.Warn().Err(err).Msg("retrying extraction once after invalid output")
			continue
		case ingesterr.Retryable(err):
			if attempt == w.deps.MaxAttempts {
				break
			}
			delay := backoff(attempt)
			w.deps.Metrics.IncCounter("extraction_retries_total", labels)
			logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying transient extraction failure")
			select {
			case <-ctx.Done():
				return extractor.ExtractionResult{}, extractor.Usage{}, ctx.Err()
			case <-time.After(delay):
			}
			continue
		default:
			return extractor.ExtractionResult{}, extractor.Usage{}, err
		}
	}
	return extractor.ExtractionResult{}, extractor.Usage{}, ingesterr.Permanent(lastErr)
}

func backoff(attempt int) time.Duration {
	base := 200 * time.Millisecond
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	jitter := time.Duration(rand.Int63n(int64(base)))
	return d + jitter
}
