package memory

import (
	"context"
	"testing"
	"time"

	"ingestctl/internal/ingesterr"
	"ingestctl/internal/jobstore"

	"github.com/stretchr/testify/require"
)

func newJob() jobstore.Job {
	return jobstore.Job{Ontology: "research"}
}

func TestCreate_StartsQueuedWithoutEstimate(t *testing.T) {
	s := New()
	id, err := s.Create(context.Background(), newJob())
	require.NoError(t, err)

	job, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusQueued, job.Status)
}

func TestCreate_StartsAwaitingApprovalWithEstimate(t *testing.T) {
	s := New()
	job := newJob()
	job.CostEstimate = &jobstore.CostEstimate{USDTotal: 1.5}
	id, err := s.Create(context.Background(), job)
	require.NoError(t, err)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusAwaitingApproval, got.Status)
}

func TestUpdateStatus_RejectsWrongFromSet(t *testing.T) {
	s := New()
	id, err := s.Create(context.Background(), newJob())
	require.NoError(t, err)

	err = s.UpdateStatus(context.Background(), id, []jobstore.Status{jobstore.StatusApproved}, jobstore.StatusProcessing, "bad")
	require.Error(t, err)
	require.True(t, ingesterr.Is(err, ingesterr.KindStaleState))
}

func TestUpdateStatus_ApproveRequiresCostEstimate(t *testing.T) {
	s := New()
	id, err := s.Create(context.Background(), newJob())
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(context.Background(), id, []jobstore.Status{jobstore.StatusQueued}, jobstore.StatusAwaitingApproval, "estimator finished"))

	err = s.UpdateStatus(context.Background(), id, []jobstore.Status{jobstore.StatusAwaitingApproval}, jobstore.StatusApproved, "approve")
	require.Error(t, err, "cost estimate not yet set")

	require.NoError(t, s.SetCostEstimate(context.Background(), id, jobstore.CostEstimate{USDTotal: 2}))
	require.NoError(t, s.UpdateStatus(context.Background(), id, []jobstore.Status{jobstore.StatusAwaitingApproval}, jobstore.StatusApproved, "approve"))
}

func TestUpdateProgress_RejectsRegression(t *testing.T) {
	s := New()
	id, _ := s.Create(context.Background(), newJob())
	require.NoError(t, s.UpdateProgress(context.Background(), id, jobstore.Progress{ChunksProcessed: 3}))
	err := s.UpdateProgress(context.Background(), id, jobstore.Progress{ChunksProcessed: 2})
	require.Error(t, err)
}

func TestClaimNext_FIFOAndAtMostOnce(t *testing.T) {
	s := New()
	var ids []string
	for i := 0; i < 3; i++ {
		job := newJob()
		job.CostEstimate = &jobstore.CostEstimate{}
		id, _ := s.Create(context.Background(), job)
		require.NoError(t, s.UpdateStatus(context.Background(), id, []jobstore.Status{jobstore.StatusAwaitingApproval}, jobstore.StatusApproved, "auto"))
		ids = append(ids, id)
		time.Sleep(time.Millisecond)
	}

	claimed, ok, err := s.ClaimNext(context.Background(), "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ids[0], claimed.ID)

	// The same job cannot be claimed again: it is now Processing.
	claimed2, ok2, err := s.ClaimNext(context.Background(), "worker-2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok2, "another approved job should still be claimable")
	require.NotEqual(t, ids[0], claimed2.ID)
}

func TestReapExpiredLeases_RetryThenWorkerLost(t *testing.T) {
	s := New()
	job := newJob()
	job.CostEstimate = &jobstore.CostEstimate{}
	id, _ := s.Create(context.Background(), job)
	require.NoError(t, s.UpdateStatus(context.Background(), id, []jobstore.Status{jobstore.StatusAwaitingApproval}, jobstore.StatusApproved, "auto"))
	_, _, err := s.ClaimNext(context.Background(), "worker-1", -time.Minute) // already expired
	require.NoError(t, err)

	reclaimed, lost, err := s.ReapExpiredLeases(context.Background(), time.Now(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)
	require.Equal(t, 0, lost)

	got, _ := s.Get(context.Background(), id)
	require.Equal(t, jobstore.StatusApproved, got.Status)

	_, _, err = s.ClaimNext(context.Background(), "worker-2", -time.Minute)
	require.NoError(t, err)
	reclaimed2, lost2, err := s.ReapExpiredLeases(context.Background(), time.Now(), 1)
	require.NoError(t, err)
	require.Equal(t, 0, reclaimed2)
	require.Equal(t, 1, lost2)

	got2, _ := s.Get(context.Background(), id)
	require.Equal(t, jobstore.StatusFailed, got2.Status)
	require.Equal(t, "WorkerLost", got2.Error.Kind)
}

func TestDurable_IsFalse(t *testing.T) {
	require.False(t, New().Durable())
}
