package graph

import (
	"context"
	"sync"
)

// MemoryStore is an in-process property graph for tests, mirroring the
// teacher's memory_graph.go shape (map-of-nodes guarded by a mutex).
type MemoryStore struct {
	mu            sync.Mutex
	concepts      map[string]Concept
	sources       map[string]Source
	instances     map[string]Instance
	relationships map[string]Relationship // keyed by from|to|type
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		concepts:      make(map[string]Concept),
		sources:       make(map[string]Source),
		instances:     make(map[string]Instance),
		relationships: make(map[string]Relationship),
	}
}

func (s *MemoryStore) GetConceptByID(ctx context.Context, id string) (Concept, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.concepts[id]
	return c, ok, nil
}

func (s *MemoryStore) FindBySearchTermOverlap(ctx context.Context, ontology string, terms []string, minOverlap float64) ([]Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := toSet(terms)
	var out []Concept
	for _, c := range s.concepts {
		if c.Ontology != ontology {
			continue
		}
		if jaccard(target, toSet(c.SearchTerms)) >= minOverlap {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateConcept(ctx context.Context, c Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concepts[c.ID] = c
	return nil
}

func (s *MemoryStore) CommitChunk(ctx context.Context, write ChunkWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sources[write.Source.ID] = write.Source
	for _, conceptID := range write.AppearsIn {
		c, ok := s.concepts[conceptID]
		if !ok {
			continue
		}
		c.Documents = appendUnique(c.Documents, write.Source.JobID)
		s.concepts[conceptID] = c
	}
	for _, inst := range write.Instances {
		s.instances[inst.ID] = inst
	}
	for _, rel := range write.Relationships {
		key := rel.FromConceptID + "|" + rel.ToConceptID + "|" + rel.Type
		if existing, ok := s.relationships[key]; ok {
			if rel.Confidence > existing.Confidence {
				existing.Confidence = rel.Confidence
				s.relationships[key] = existing
			}
			continue
		}
		s.relationships[key] = rel
	}
	return nil
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func toSet(terms []string) map[string]bool {
	m := make(map[string]bool, len(terms))
	for _, t := range terms {
		m[t] = true
	}
	return m
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
