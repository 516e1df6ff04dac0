package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ingestctl/internal/config"
)

func TestBuildJobStore_MemoryRequiresAllowNonDurable(t *testing.T) {
	_, _, err := buildJobStore(context.Background(), config.JobStoreConfig{Backend: "memory"})
	require.Error(t, err)

	store, closeFn, err := buildJobStore(context.Background(), config.JobStoreConfig{Backend: "memory", AllowNonDurable: true})
	require.NoError(t, err)
	defer closeFn()
	require.False(t, store.Durable())
}

func TestBuildJobStore_UnknownBackend(t *testing.T) {
	_, _, err := buildJobStore(context.Background(), config.JobStoreConfig{Backend: "bogus"})
	require.Error(t, err)
}

func TestBuildGraph_MemoryBackends(t *testing.T) {
	store, index, closeFn, err := buildGraph(context.Background(), config.GraphConfig{Backend: "memory", VectorBackend: "memory"})
	require.NoError(t, err)
	defer closeFn()
	require.NotNil(t, store)
	require.NotNil(t, index)
}

func TestBuildEmbedder_Deterministic(t *testing.T) {
	emb := buildEmbedder(config.EmbedderConfig{Provider: "deterministic", Dimension: 8})
	require.NotNil(t, emb)
}

func TestBuildRateLimiter_Memory(t *testing.T) {
	limiter, closeFn, err := buildRateLimiter(config.RateLimitConfig{Backend: "memory", RefillPerS: 1, BucketSize: 1})
	require.NoError(t, err)
	defer closeFn()
	require.NoError(t, limiter.Allow(context.Background(), "test"))
}

func TestHostnameOrDefault(t *testing.T) {
	require.NotEmpty(t, hostnameOrDefault())
}
