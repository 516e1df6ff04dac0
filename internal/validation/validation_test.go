package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOntology_ValidAndInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		want  string
		errIs error
	}{
		{name: "simple", in: "research", want: "research", errIs: nil},
		{name: "with dashes and dots", in: "team-a.v2", want: "team-a.v2", errIs: nil},
		{name: "trimmed", in: "  research  ", want: "research", errIs: nil},
		{name: "empty", in: "", want: "", errIs: ErrInvalidOntology},
		{name: "uppercase rejected", in: "Research", want: "", errIs: ErrInvalidOntology},
		{name: "slash rejected", in: "a/b", want: "", errIs: ErrInvalidOntology},
		{name: "leading dot rejected", in: ".research", want: "", errIs: ErrInvalidOntology},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Ontology(tt.in)
			assert.Equal(t, tt.want, got)
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}

func TestJobID_ValidAndInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		errIs error
	}{
		{name: "uuid-shaped", in: "2f1e1c0a-9b1a-4e1a-8f1a-0a1b2c3d4e5f", errIs: nil},
		{name: "empty", in: "", errIs: ErrInvalidJobID},
		{name: "slash rejected", in: "a/b", errIs: ErrInvalidJobID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JobID(tt.in)
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}

func TestChunkWordOptions(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ChunkWordOptions(1000, 200))
	assert.ErrorIs(t, ChunkWordOptions(0, 0), ErrInvalidWordOpt)
	assert.ErrorIs(t, ChunkWordOptions(100, 100), ErrInvalidWordOpt)
	assert.ErrorIs(t, ChunkWordOptions(100, -1), ErrInvalidWordOpt)
}

func TestContent(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Content("hello world"))
	assert.ErrorIs(t, Content("   "), ErrEmptyContent)
}
