package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterministic_SameTextSameVector(t *testing.T) {
	e := NewDeterministic(32, 7)
	vecs, err := e.EmbedBatch(context.Background(), []string{"hello world", "hello world"})
	require.NoError(t, err)
	require.Equal(t, vecs[0], vecs[1])
}

func TestDeterministic_DifferentTextDifferentVector(t *testing.T) {
	e := NewDeterministic(32, 7)
	vecs, err := e.EmbedBatch(context.Background(), []string{"alpha concept", "beta concept"})
	require.NoError(t, err)
	require.NotEqual(t, vecs[0], vecs[1])
}

func TestDeterministic_NormalizedUnitLength(t *testing.T) {
	e := NewDeterministic(16, 1)
	vecs, err := e.EmbedBatch(context.Background(), []string{"some reasonably long text to hash"})
	require.NoError(t, err)
	var sum float64
	for _, x := range vecs[0] {
		sum += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, sum, 1e-4)
}

func TestDeterministic_ActiveConfig(t *testing.T) {
	e := NewDeterministic(768, 0)
	cfg := e.ActiveConfig()
	require.Equal(t, 768, cfg.Dimension)
	require.Equal(t, "deterministic", cfg.Provider)
}

func TestDeterministic_EmptyBatch(t *testing.T) {
	e := NewDeterministic(16, 0)
	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vecs)
}
