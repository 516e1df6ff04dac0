package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_AllowsUpToBucketSizeImmediately(t *testing.T) {
	b := NewMemory(Config{RefillPerS: 1, BucketSize: 3})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow(ctx, "anthropic:claude-opus-4"))
	}
}

func TestMemory_BlocksBeyondBucketSize(t *testing.T) {
	b := NewMemory(Config{RefillPerS: 100, BucketSize: 1})
	ctx := context.Background()
	require.NoError(t, b.Allow(ctx, "k"))

	start := time.Now()
	require.NoError(t, b.Allow(ctx, "k"))
	require.Greater(t, time.Since(start), time.Duration(0))
}

func TestMemory_RespectsContextCancellation(t *testing.T) {
	b := NewMemory(Config{RefillPerS: 0.001, BucketSize: 1})
	require.NoError(t, b.Allow(context.Background(), "k2"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Allow(ctx, "k2")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemory_KeysAreIndependent(t *testing.T) {
	b := NewMemory(Config{RefillPerS: 0.001, BucketSize: 1})
	ctx := context.Background()
	require.NoError(t, b.Allow(ctx, "provider-a"))
	require.NoError(t, b.Allow(ctx, "provider-b"))
}
