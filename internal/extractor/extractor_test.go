package extractor

import "testing"

func TestValidate_HappyPath(t *testing.T) {
	result := ExtractionResult{
		Concepts: []ExtractedConcept{{ConceptID: "linear-scanning", Label: "Linear scanning", Confidence: 0.9}},
		Instances: []ExtractedInstance{{ConceptID: "linear-scanning", Quote: "a linear scanning system"}},
		Relationships: []ExtractedRelationship{},
	}
	if err := Validate(result, "This describes a linear scanning system in detail."); err != nil {
		t.Fatalf("expected valid result, got %v", err)
	}
}

func TestValidate_RejectsUnknownConceptInInstance(t *testing.T) {
	result := ExtractionResult{
		Concepts:  []ExtractedConcept{{ConceptID: "a", Confidence: 0.5}},
		Instances: []ExtractedInstance{{ConceptID: "b", Quote: "text"}},
	}
	if err := Validate(result, "some text"); err == nil {
		t.Fatal("expected error for unknown concept id")
	}
}

func TestValidate_RejectsQuoteNotInChunk(t *testing.T) {
	result := ExtractionResult{
		Concepts:  []ExtractedConcept{{ConceptID: "a", Confidence: 0.5}},
		Instances: []ExtractedInstance{{ConceptID: "a", Quote: "not present"}},
	}
	if err := Validate(result, "totally different text"); err == nil {
		t.Fatal("expected error for quote not a substring")
	}
}

func TestValidate_RejectsOutOfRangeConfidence(t *testing.T) {
	result := ExtractionResult{Concepts: []ExtractedConcept{{ConceptID: "a", Confidence: 1.5}}}
	if err := Validate(result, "text"); err == nil {
		t.Fatal("expected error for out-of-range confidence")
	}
}

func TestValidate_RejectsSelfRelationship(t *testing.T) {
	result := ExtractionResult{
		Concepts:      []ExtractedConcept{{ConceptID: "a", Confidence: 0.5}},
		Relationships: []ExtractedRelationship{{FromConceptID: "a", ToConceptID: "a", Type: "IMPLIES", Confidence: 0.5}},
	}
	if err := Validate(result, "text"); err == nil {
		t.Fatal("expected error for self relationship")
	}
}

func TestValidate_RejectsNonKebabConceptID(t *testing.T) {
	result := ExtractionResult{Concepts: []ExtractedConcept{{ConceptID: "Not_Kebab", Confidence: 0.5}}}
	if err := Validate(result, "text"); err == nil {
		t.Fatal("expected error for non-kebab concept id")
	}
}
