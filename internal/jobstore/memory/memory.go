// Package memory is an in-process jobstore.Store, guarded by a single
// mutex, in the style of the teacher's memory_graph.go/memory_vector.go
// fallbacks. It explicitly advertises non-durability (§9 Open Question 1):
// callers must not run unattended background workers against it without
// acknowledging that restarts lose all jobs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ingestctl/internal/fingerprint"
	"ingestctl/internal/ingesterr"
	"ingestctl/internal/jobstore"

	"github.com/google/uuid"
)

type Store struct {
	mu   sync.Mutex
	jobs map[string]jobstore.Job
	// mostRecentByFingerprint tracks the most recently created job id per
	// digest, for FindByFingerprint (§4.A lookup).
	mostRecentByFingerprint map[fingerprint.Digest]string
	archived                []jobstore.Job
}

func New() *Store {
	return &Store{
		jobs:                    make(map[string]jobstore.Job),
		mostRecentByFingerprint: make(map[fingerprint.Digest]string),
	}
}

func (s *Store) Durable() bool { return false }

func (s *Store) FindByFingerprint(_ context.Context, digest fingerprint.Digest) (string, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.mostRecentByFingerprint[digest]
	if !ok {
		return "", "", false, nil
	}
	job, ok := s.jobs[id]
	if !ok {
		return "", "", false, nil
	}
	return job.ID, string(job.Status), true, nil
}

func (s *Store) Create(_ context.Context, job jobstore.Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Timestamps.CreatedAt = time.Now().UTC()
	if job.CostEstimate != nil {
		job.Status = jobstore.StatusAwaitingApproval
	} else {
		job.Status = jobstore.StatusQueued
	}
	s.jobs[job.ID] = job
	s.mostRecentByFingerprint[job.ContentFingerprint] = job.ID
	return job.ID, nil
}

func (s *Store) Get(_ context.Context, id string) (jobstore.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return jobstore.Job{}, fmt.Errorf("jobstore: job %q not found", id)
	}
	return job, nil
}

func (s *Store) List(_ context.Context, filters jobstore.ListFilters) ([]jobstore.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []jobstore.Job
	for _, job := range s.jobs {
		if filters.Status != "" && job.Status != filters.Status {
			continue
		}
		if filters.OwnerPrincipal != "" && job.OwnerPrincipal != filters.OwnerPrincipal {
			continue
		}
		if !filters.CreatedAfter.IsZero() && job.Timestamps.CreatedAt.Before(filters.CreatedAfter) {
			continue
		}
		if !filters.CreatedBefore.IsZero() && job.Timestamps.CreatedAt.After(filters.CreatedBefore) {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamps.CreatedAt.Before(out[j].Timestamps.CreatedAt)
	})
	if filters.Offset > 0 && filters.Offset < len(out) {
		out = out[filters.Offset:]
	} else if filters.Offset >= len(out) {
		out = nil
	}
	if filters.Limit > 0 && filters.Limit < len(out) {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, fromSet []jobstore.Status, to jobstore.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("jobstore: job %q not found", id)
	}
	if !containsStatus(fromSet, job.Status) {
		return ingesterr.StaleState("job %s is %s, not one of %v: %s", id, job.Status, fromSet, reason)
	}
	if !jobstore.ValidTransition(job.Status, to) {
		return ingesterr.StaleState("job %s: %s -> %s is not a valid transition", id, job.Status, to)
	}

	now := time.Now().UTC()
	switch to {
	case jobstore.StatusApproved:
		if job.CostEstimate == nil {
			return ingesterr.Validation("job %s: cannot approve without a cost estimate", id)
		}
		job.Timestamps.ApprovedAt = now
	case jobstore.StatusProcessing:
		job.Timestamps.StartedAt = now
	case jobstore.StatusCompleted, jobstore.StatusFailed, jobstore.StatusCancelled, jobstore.StatusExpired:
		job.Timestamps.CompletedAt = now
	}
	job.Status = to
	s.jobs[id] = job
	return nil
}

func (s *Store) UpdateProgress(_ context.Context, id string, progress jobstore.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("jobstore: job %q not found", id)
	}
	if progress.ChunksProcessed < job.Progress.ChunksProcessed {
		return fmt.Errorf("jobstore: progress regression for job %s (%d < %d)", id, progress.ChunksProcessed, job.Progress.ChunksProcessed)
	}
	job.Progress = progress
	job.Timestamps.LastProgressAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}

func (s *Store) SetCostEstimate(_ context.Context, id string, estimate jobstore.CostEstimate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("jobstore: job %q not found", id)
	}
	if job.Status != jobstore.StatusQueued && job.Status != jobstore.StatusAwaitingApproval {
		return ingesterr.StaleState("job %s: cost estimate only valid in queued/awaiting_approval, is %s", id, job.Status)
	}
	job.CostEstimate = &estimate
	s.jobs[id] = job
	return nil
}

func (s *Store) SetResult(_ context.Context, id string, result jobstore.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("jobstore: job %q not found", id)
	}
	job.Result = &result
	s.jobs[id] = job
	return nil
}

func (s *Store) SetError(_ context.Context, id string, kind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("jobstore: job %q not found", id)
	}
	job.Error = &jobstore.JobError{Kind: kind, Message: message}
	s.jobs[id] = job
	return nil
}

func (s *Store) RequestCancellation(_ context.Context, id string) (jobstore.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return "", fmt.Errorf("jobstore: job %q not found", id)
	}
	job.CancellationRequested = true
	s.jobs[id] = job
	return job.Status, nil
}

func (s *Store) ClaimNext(_ context.Context, workerID string, leaseDuration time.Duration) (jobstore.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []jobstore.Job
	for _, job := range s.jobs {
		if job.Status == jobstore.StatusApproved {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return jobstore.Job{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Timestamps.ApprovedAt.Before(candidates[j].Timestamps.ApprovedAt)
	})
	job := candidates[0]
	job.Status = jobstore.StatusProcessing
	job.WorkerID = workerID
	job.Timestamps.StartedAt = time.Now().UTC()
	job.LeaseExpiresAt = time.Now().UTC().Add(leaseDuration)
	s.jobs[job.ID] = job
	return job, true, nil
}

func (s *Store) RenewLease(_ context.Context, id, workerID string, leaseDuration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("jobstore: job %q not found", id)
	}
	if job.WorkerID != workerID {
		return fmt.Errorf("jobstore: job %s is not owned by worker %s", id, workerID)
	}
	job.LeaseExpiresAt = time.Now().UTC().Add(leaseDuration)
	s.jobs[id] = job
	return nil
}

func (s *Store) ReapExpiredLeases(_ context.Context, now time.Time, maxRetries int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reclaimed, lost int
	for id, job := range s.jobs {
		if job.Status != jobstore.StatusProcessing {
			continue
		}
		if job.LeaseExpiresAt.IsZero() || job.LeaseExpiresAt.After(now) {
			continue
		}
		if job.RetryCount >= maxRetries {
			job.Status = jobstore.StatusFailed
			job.Error = &jobstore.JobError{Kind: "WorkerLost", Message: "lease expired beyond retry budget"}
			job.Timestamps.CompletedAt = now
			lost++
		} else {
			job.Status = jobstore.StatusApproved
			job.RetryCount++
			job.WorkerID = ""
			reclaimed++
		}
		s.jobs[id] = job
	}
	return reclaimed, lost, nil
}

func (s *Store) Archive(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var n int
	for id, job := range s.jobs {
		if !job.Status.Terminal() {
			continue
		}
		if job.Timestamps.CompletedAt.IsZero() || job.Timestamps.CompletedAt.After(cutoff) {
			continue
		}
		s.archived = append(s.archived, job)
		delete(s.jobs, id)
		n++
	}
	return n, nil
}

func containsStatus(set []jobstore.Status, s jobstore.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
