package anthropic

import (
	"errors"
	"testing"

	"ingestctl/internal/extractor"
	"ingestctl/internal/ingesterr"

	"github.com/stretchr/testify/require"
)

func TestBuildPrompt_IncludesExistingConceptsAndChunk(t *testing.T) {
	existing := []extractor.ConceptRef{{ConceptID: "linear-scanning", Label: "Linear scanning"}}
	prompt := buildPrompt("the chunk text", existing)
	require.Contains(t, prompt, "linear-scanning")
	require.Contains(t, prompt, "the chunk text")
}

func TestParseJSONObject_ExtractsEmbeddedObject(t *testing.T) {
	text := "Here is the result:\n```json\n{\"concepts\":[],\"instances\":[],\"relationships\":[]}\n```\nThanks."
	result, err := parseJSONObject(text)
	require.NoError(t, err)
	require.Empty(t, result.Concepts)
}

func TestParseJSONObject_NoObjectFound(t *testing.T) {
	_, err := parseJSONObject("no json here")
	require.Error(t, err)
}

func TestClassifyError_NonAPIErrorIsPermanent(t *testing.T) {
	err := classifyError(errors.New("boom"))
	require.True(t, ingesterr.Is(err, ingesterr.KindPermanent))
}
