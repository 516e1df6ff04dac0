package graph

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"ingestctl/internal/obslog"
)

// ResolveConfig holds the tunables of §4.E's algorithm.
type ResolveConfig struct {
	MatchThreshold      float64 // default 0.85
	TopK                int     // default 5
	OntologyScopedMatch bool    // default true
	SearchTermOverlap   float64 // default 0.5
	ReuseOnOverlap      bool    // configurable: reuse vs. create on a Jaccard hit
}

func DefaultResolveConfig() ResolveConfig {
	return ResolveConfig{
		MatchThreshold:      0.85,
		TopK:                5,
		OntologyScopedMatch: true,
		SearchTermOverlap:   0.5,
		ReuseOnOverlap:      true,
	}
}

// Proposal is what the Worker hands the Resolver for one extracted concept.
type Proposal struct {
	ProposedConceptID string // non-empty if the extractor named an id (step 1)
	Ontology          string
	Label             string
	SearchTerms       []string
	Embedding         []float32
}

// Resolution is the Resolver's verdict: an existing id (match) or a newly
// allocated one (create).
type Resolution struct {
	ConceptID string
	Created   bool
}

// Resolver implements the Concept Resolver contract of §4.E: map a proposed
// concept to an existing concept id or allocate a new one, serializing
// create-decisions with a single process-wide lock so concurrent chunk
// workers never produce two concepts within MatchThreshold of each other.
//
// Concept ids are globally unique, not scoped to ontology (the id is the
// primary key of the concepts table; ontology is just a column on the row).
// A lock keyed by ontology therefore does not serialize two Resolve calls
// from different ontologies that happen to slugify to the same candidate
// id — both could pass allocateID's de-collision check before either has
// persisted, and the second CreateConcept either silently clobbers the
// first (memory backend) or silently no-ops behind an unsuspecting caller
// that still believes Created: true (postgres backend, ON CONFLICT DO
// NOTHING). One global lock across the whole create critical section,
// rather than a per-ontology or per-id one, closes that race at the cost
// of create throughput the workload doesn't need: concept creation is a
// small fraction of chunk processing, and the critical section already
// re-checks the vector index before allocating, so contention is rare.
type Resolver struct {
	store    Store
	index    VectorIndex
	cfg      ResolveConfig
	createMu sync.Mutex
}

func NewResolver(store Store, index VectorIndex, cfg ResolveConfig) *Resolver {
	return &Resolver{store: store, index: index, cfg: cfg}
}

// Resolve runs the six-step algorithm. Any extractor interaction happens
// before this function is called, and the first vector search and the
// search-term fallback run outside the lock; only the final
// re-check-then-create step is serialized, keeping the critical section
// narrow (§5).
func (r *Resolver) Resolve(ctx context.Context, p Proposal) (Resolution, error) {
	// Step 1: extractor-proposed id, if it already exists, wins outright.
	if p.ProposedConceptID != "" {
		if _, ok, err := r.store.GetConceptByID(ctx, p.ProposedConceptID); err != nil {
			return Resolution{}, err
		} else if ok {
			return Resolution{ConceptID: p.ProposedConceptID}, nil
		}
	}

	// Steps 2-4: embedding is already computed by the caller; query top-K by
	// cosine similarity, scoped to ontology unless disabled.
	scopeOntology := ""
	if r.cfg.OntologyScopedMatch {
		scopeOntology = p.Ontology
	}
	matches, err := r.index.TopK(ctx, p.Embedding, r.cfg.TopK, scopeOntology)
	if err != nil {
		return Resolution{}, fmt.Errorf("graph: vector top-k: %w", err)
	}
	if len(matches) > 0 && matches[0].Similarity >= r.cfg.MatchThreshold {
		return Resolution{ConceptID: matches[0].ConceptID}, nil
	}

	// Step 5: Jaccard overlap fallback on search_terms.
	if len(p.SearchTerms) > 0 {
		overlapping, err := r.store.FindBySearchTermOverlap(ctx, p.Ontology, p.SearchTerms, r.cfg.SearchTermOverlap)
		if err != nil {
			return Resolution{}, fmt.Errorf("graph: search-term overlap lookup: %w", err)
		}
		if len(overlapping) > 0 {
			obslog.WithTrace(ctx).Warn().
				Str("ontology", p.Ontology).
				Str("proposed_label", p.Label).
				Str("matched_concept_id", overlapping[0].ID).
				Msg("potential duplicate concept detected by search-term overlap")
			if r.cfg.ReuseOnOverlap {
				return Resolution{ConceptID: overlapping[0].ID}, nil
			}
		}
	}

	// Step 6: create, serialized process-wide with a re-check of step 4
	// inside the critical section (§4.E write semantics). The lock is global,
	// not per-ontology: concept ids are unique across the whole graph, so two
	// proposals from different ontologies can collide on the same candidate
	// id and must not be allowed to race each other's allocateID check.
	r.createMu.Lock()
	defer r.createMu.Unlock()

	matches, err = r.index.TopK(ctx, p.Embedding, r.cfg.TopK, scopeOntology)
	if err != nil {
		return Resolution{}, fmt.Errorf("graph: vector top-k re-check: %w", err)
	}
	if len(matches) > 0 && matches[0].Similarity >= r.cfg.MatchThreshold {
		return Resolution{ConceptID: matches[0].ConceptID}, nil
	}

	id, err := r.allocateID(ctx, p.Ontology, p.Label)
	if err != nil {
		return Resolution{}, err
	}
	now := time.Now().UTC()
	concept := Concept{
		ID:          id,
		Ontology:    p.Ontology,
		Label:       p.Label,
		SearchTerms: p.SearchTerms,
		Embedding:   p.Embedding,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateConcept(ctx, concept); err != nil {
		return Resolution{}, fmt.Errorf("graph: creating concept: %w", err)
	}
	if err := r.index.Upsert(ctx, id, p.Ontology, p.Embedding); err != nil {
		return Resolution{}, fmt.Errorf("graph: indexing new concept embedding: %w", err)
	}
	return Resolution{ConceptID: id, Created: true}, nil
}

var nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// allocateID slugifies the label and de-collides by numeric suffix.
func (r *Resolver) allocateID(ctx context.Context, ontology, label string) (string, error) {
	base := slugify(label)
	if base == "" {
		base = "concept"
	}
	candidate := base
	for i := 2; ; i++ {
		if _, ok, err := r.store.GetConceptByID(ctx, candidate); err != nil {
			return "", err
		} else if !ok {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}

func slugify(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = nonSlugRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
