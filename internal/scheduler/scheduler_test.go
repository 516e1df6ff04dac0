package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ingestctl/internal/config"
	"ingestctl/internal/jobstore"
	jobstorememory "ingestctl/internal/jobstore/memory"
	"ingestctl/internal/obsmetrics"
	"ingestctl/internal/worker"
)

func newTestScheduler() (*Scheduler, jobstore.Store) {
	store := jobstorememory.New()
	sched := New(store, func(string) *worker.Worker { return nil }, config.SchedulerConfig{}, obsmetrics.NewMock(), "test")
	return sched, store
}

func TestSubmitIngestion_CreatesQueuedJob(t *testing.T) {
	sched, _ := newTestScheduler()
	job, duplicateOf, err := sched.SubmitIngestion(context.Background(), jobstore.Input{Text: "hello world"}, "research", jobstore.Options{TargetWords: 800, OverlapWords: 80})
	require.NoError(t, err)
	require.Empty(t, duplicateOf)
	require.Equal(t, jobstore.StatusQueued, job.Status)
	require.Equal(t, "research", job.Ontology)
}

func TestSubmitIngestion_DetectsDuplicate(t *testing.T) {
	sched, _ := newTestScheduler()
	first, _, err := sched.SubmitIngestion(context.Background(), jobstore.Input{Text: "same content"}, "research", jobstore.Options{TargetWords: 800, OverlapWords: 80})
	require.NoError(t, err)

	second, duplicateOf, err := sched.SubmitIngestion(context.Background(), jobstore.Input{Text: "same content"}, "research", jobstore.Options{TargetWords: 800, OverlapWords: 80})
	require.NoError(t, err)
	require.Equal(t, first.ID, duplicateOf)
	require.Equal(t, first.ID, second.ID)
}

func TestSubmitIngestion_ForceBypassesDuplicate(t *testing.T) {
	sched, _ := newTestScheduler()
	first, _, err := sched.SubmitIngestion(context.Background(), jobstore.Input{Text: "same content"}, "research", jobstore.Options{TargetWords: 800, OverlapWords: 80})
	require.NoError(t, err)

	second, duplicateOf, err := sched.SubmitIngestion(context.Background(), jobstore.Input{Text: "same content"}, "research", jobstore.Options{TargetWords: 800, OverlapWords: 80, Force: true})
	require.NoError(t, err)
	require.Empty(t, duplicateOf)
	require.NotEqual(t, first.ID, second.ID)
}

func TestSubmitIngestion_RejectsInvalidOntology(t *testing.T) {
	sched, _ := newTestScheduler()
	_, _, err := sched.SubmitIngestion(context.Background(), jobstore.Input{Text: "hello"}, "Not Valid!", jobstore.Options{TargetWords: 800, OverlapWords: 80})
	require.Error(t, err)
}

func TestSubmitIngestion_RejectsEmptyContent(t *testing.T) {
	sched, _ := newTestScheduler()
	_, _, err := sched.SubmitIngestion(context.Background(), jobstore.Input{}, "research", jobstore.Options{TargetWords: 800, OverlapWords: 80})
	require.Error(t, err)
}

func TestApproveJob_TransitionsAwaitingApprovalToApproved(t *testing.T) {
	sched, store := newTestScheduler()
	job, _, err := sched.SubmitIngestion(context.Background(), jobstore.Input{Text: "hello world"}, "research", jobstore.Options{TargetWords: 800, OverlapWords: 80})
	require.NoError(t, err)

	require.NoError(t, store.SetCostEstimate(context.Background(), job.ID, jobstore.CostEstimate{USDTotal: 1}))
	require.NoError(t, store.UpdateStatus(context.Background(), job.ID, []jobstore.Status{jobstore.StatusQueued}, jobstore.StatusAwaitingApproval, "estimated"))

	approved, err := sched.ApproveJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusApproved, approved.Status)
}

func TestCancelJob_ImmediateBeforeClaim(t *testing.T) {
	sched, _ := newTestScheduler()
	job, _, err := sched.SubmitIngestion(context.Background(), jobstore.Input{Text: "hello world"}, "research", jobstore.Options{TargetWords: 800, OverlapWords: 80})
	require.NoError(t, err)

	ok, status, err := sched.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, jobstore.StatusCancelled, status)
}

func TestCancelJob_RejectsInvalidJobID(t *testing.T) {
	sched, _ := newTestScheduler()
	_, _, err := sched.CancelJob(context.Background(), "")
	require.Error(t, err)
}
