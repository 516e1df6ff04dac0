// Package extractor defines the abstract boundary to LLM-backed concept
// extraction (§6.2) and the on-wire schema it must satisfy (§6.5).
package extractor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"ingestctl/internal/config"
	"ingestctl/internal/ingesterr"
)

// ConceptRef is a capped, already-known concept handed to the extractor as
// context (§6.2 existing_concepts_context).
type ConceptRef struct {
	ConceptID    string
	Label        string
	SearchTerms  []string
}

// ExtractedConcept is one element of ExtractionResult.Concepts.
type ExtractedConcept struct {
	ConceptID   string   `json:"concept_id"`
	Label       string   `json:"label"`
	Confidence  float64  `json:"confidence"`
	SearchTerms []string `json:"search_terms"`
}

// ExtractedInstance is one element of ExtractionResult.Instances.
type ExtractedInstance struct {
	ConceptID string `json:"concept_id"`
	Quote     string `json:"quote"`
}

// ExtractedRelationship is one element of ExtractionResult.Relationships.
type ExtractedRelationship struct {
	FromConceptID string  `json:"from_concept_id"`
	ToConceptID   string  `json:"to_concept_id"`
	Type          string  `json:"type"`
	Confidence    float64 `json:"confidence"`
}

// ExtractionResult is the exact shape of §6.5's on-wire schema.
type ExtractionResult struct {
	Concepts      []ExtractedConcept      `json:"concepts"`
	Instances     []ExtractedInstance     `json:"instances"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// Usage reports billed token counts for cost tracking (§3 cost_estimate).
type Usage struct {
	TokensIn  int64
	TokensOut int64
}

// Extractor is the interface every LLM provider backend satisfies.
type Extractor interface {
	Extract(ctx context.Context, chunkText string, existingConcepts []ConceptRef, profile config.Profile) (ExtractionResult, Usage, error)
}

var kebabRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Validate enforces §4.D.4.c and §6.5: concept ids referenced by instances
// and relationships must appear in the extracted set, quotes must be
// substrings of the chunk, and confidences must be in [0,1]. A failure here
// is an InvalidOutput error, which ingesterr.Retryable reports as not
// retryable; the worker's retry loop still retries it once.
func Validate(result ExtractionResult, chunkText string) error {
	known := make(map[string]bool, len(result.Concepts))
	for _, c := range result.Concepts {
		if !kebabRe.MatchString(c.ConceptID) {
			return ingesterr.InvalidOutput(fmt.Errorf("concept id %q is not kebab-case", c.ConceptID))
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			return ingesterr.InvalidOutput(fmt.Errorf("concept %q confidence %v out of [0,1]", c.ConceptID, c.Confidence))
		}
		known[c.ConceptID] = true
	}
	for _, inst := range result.Instances {
		if !known[inst.ConceptID] {
			return ingesterr.InvalidOutput(fmt.Errorf("instance references unknown concept id %q", inst.ConceptID))
		}
		if !strings.Contains(chunkText, inst.Quote) {
			return ingesterr.InvalidOutput(fmt.Errorf("instance quote is not a substring of the chunk: %q", inst.Quote))
		}
	}
	for _, rel := range result.Relationships {
		if !known[rel.FromConceptID] || !known[rel.ToConceptID] {
			return ingesterr.InvalidOutput(fmt.Errorf("relationship references unknown concept id(s) %q -> %q", rel.FromConceptID, rel.ToConceptID))
		}
		if rel.FromConceptID == rel.ToConceptID {
			return ingesterr.InvalidOutput(fmt.Errorf("relationship endpoints must be distinct, got %q", rel.FromConceptID))
		}
		if rel.Confidence < 0 || rel.Confidence > 1 {
			return ingesterr.InvalidOutput(fmt.Errorf("relationship %q->%q confidence %v out of [0,1]", rel.FromConceptID, rel.ToConceptID, rel.Confidence))
		}
	}
	return nil
}
