// Package scheduler implements the Scheduler (Component C): advances jobs
// through the lifecycle, enforces concurrency and fairness, honors
// cancellations, and recovers from crashes.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ingestctl/internal/config"
	"ingestctl/internal/fingerprint"
	"ingestctl/internal/ingesterr"
	"ingestctl/internal/jobstore"
	"ingestctl/internal/obslog"
	"ingestctl/internal/obsmetrics"
	"ingestctl/internal/validation"
	"ingestctl/internal/worker"
)

// Estimator is the subset of worker.Worker the Scheduler needs for phase 3
// (dry-run cost estimation), satisfied by *worker.Worker.
type Estimator interface {
	EstimateCost(ctx context.Context, job jobstore.Job) (jobstore.CostEstimate, error)
}

// Runner executes one approved job end-to-end, satisfied by *worker.Worker.
type Runner interface {
	Run(ctx context.Context, job jobstore.Job) error
}

// WorkerFactory builds a fresh Runner/Estimator for one claimed job. A fresh
// value per job keeps worker.Worker's per-job run-state isolated.
type WorkerFactory func(workerID string) *worker.Worker

// Scheduler owns the claim loop, the cost-estimation sub-loop, and the
// lease reaper, plus the submission-interface transitions it alone is
// allowed to perform (§4.C, §5, §6.1).
type Scheduler struct {
	jobs    jobstore.Store
	factory WorkerFactory
	cfg     config.SchedulerConfig
	metrics obsmetrics.Metrics
	wake    *wakePublisher
	selfID  string
	sem     chan struct{}
}

func New(jobs jobstore.Store, factory WorkerFactory, cfg config.SchedulerConfig, metrics obsmetrics.Metrics, selfID string) *Scheduler {
	if metrics == nil {
		metrics = obsmetrics.NewMock()
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 4
	}
	return &Scheduler{
		jobs:    jobs,
		factory: factory,
		cfg:     cfg,
		metrics: metrics,
		selfID:  selfID,
		sem:     make(chan struct{}, cfg.MaxConcurrentJobs),
	}
}

// SetWakePublisher attaches the optional Kafka wake channel (constructed
// separately so Scheduler has no hard Kafka dependency when unconfigured).
func (s *Scheduler) SetWakePublisher(w *wakePublisher) { s.wake = w }

// Run performs startup recovery (§4.C) then blocks running the claim loop,
// the estimation sub-loop, and the reaper until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return fmt.Errorf("scheduler: startup recovery: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.claimLoop(ctx) })
	g.Go(func() error { return s.estimationLoop(ctx) })
	g.Go(func() error { return s.reaperLoop(ctx) })
	g.Go(func() error { return s.expiryLoop(ctx) })
	return g.Wait()
}

// recover implements §4.C startup recovery steps 1 and 3 (step 2, "leave
// foreign in-flight jobs alone," requires no action — this process simply
// never claims them again until their lease expires and the reaper acts).
func (s *Scheduler) recover(ctx context.Context) error {
	reclaimed, lost, err := s.jobs.ReapExpiredLeases(ctx, time.Now().UTC(), s.cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("reaping expired leases at startup: %w", err)
	}
	obslog.WithTrace(ctx).Info().Int("reclaimed", reclaimed).Int("worker_lost", lost).Msg("startup lease reap complete")

	queued, err := s.jobs.List(ctx, jobstore.ListFilters{Status: jobstore.StatusQueued})
	if err != nil {
		return fmt.Errorf("listing queued jobs at startup: %w", err)
	}
	for _, job := range queued {
		if job.CostEstimate == nil {
			if err := s.estimateOne(ctx, job); err != nil {
				obslog.WithTrace(ctx).Error().Err(err).Str("job_id", job.ID).Msg("startup cost estimation failed")
			}
		}
	}
	return nil
}

// claimLoop repeatedly claims approved jobs up to MaxConcurrentJobs and
// hands each to a fresh worker, short-polling between empty claims unless a
// wake notification arrives sooner.
func (s *Scheduler) claimLoop(ctx context.Context) error {
	pollInterval := 2 * time.Second
	var wakeCh <-chan struct{}
	if s.wake != nil {
		wakeCh = s.wake.notifications()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case s.sem <- struct{}{}:
		}

		job, ok, err := s.jobs.ClaimNext(ctx, s.selfID, s.cfg.LeaseDuration)
		if err != nil {
			<-s.sem
			obslog.WithTrace(ctx).Error().Err(err).Msg("claim_next failed")
		} else if !ok {
			<-s.sem
			select {
			case <-ctx.Done():
				return nil
			case <-wakeCh:
			case <-time.After(pollInterval):
			}
			continue
		} else {
			s.metrics.IncCounter("jobs_claimed_total", map[string]string{"ontology": job.Ontology})
			go func() {
				defer func() { <-s.sem }()
				s.runJob(ctx, job)
			}()
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job jobstore.Job) {
	logger := obslog.Job(ctx, job.ID, job.Ontology)
	runner := s.factory(s.selfID)
	if err := runner.Run(ctx, job); err != nil {
		logger.Error().Err(err).Msg("job run finished with error")
	}
}

// estimationLoop periodically looks for queued jobs with no cost estimate
// and runs phase 3 (§4.D.3) on each.
func (s *Scheduler) estimationLoop(ctx context.Context) error {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			jobs, err := s.jobs.List(ctx, jobstore.ListFilters{Status: jobstore.StatusQueued})
			if err != nil {
				obslog.WithTrace(ctx).Error().Err(err).Msg("listing queued jobs for estimation")
				continue
			}
			for _, job := range jobs {
				if job.CostEstimate != nil {
					continue
				}
				if err := s.estimateOne(ctx, job); err != nil {
					obslog.WithTrace(ctx).Error().Err(err).Str("job_id", job.ID).Msg("cost estimation failed")
				}
			}
		}
	}
}

func (s *Scheduler) estimateOne(ctx context.Context, job jobstore.Job) error {
	estimator := s.factory(s.selfID)
	estimate, err := estimator.EstimateCost(ctx, job)
	if err != nil {
		return fmt.Errorf("estimating job %s: %w", job.ID, err)
	}
	if err := s.jobs.SetCostEstimate(ctx, job.ID, estimate); err != nil {
		return fmt.Errorf("setting cost estimate on job %s: %w", job.ID, err)
	}
	if err := s.jobs.UpdateStatus(ctx, job.ID, []jobstore.Status{jobstore.StatusQueued}, jobstore.StatusAwaitingApproval, "cost estimate complete"); err != nil {
		return fmt.Errorf("transitioning job %s to awaiting_approval: %w", job.ID, err)
	}
	if job.Options.AutoApprove {
		if _, err := s.ApproveJob(ctx, job.ID); err != nil {
			return fmt.Errorf("auto-approving job %s: %w", job.ID, err)
		}
	}
	return nil
}

// reaperLoop calls ReapExpiredLeases on a ticker (§4.B, §5 lease model).
func (s *Scheduler) reaperLoop(ctx context.Context) error {
	interval := s.cfg.ReaperInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reclaimed, lost, err := s.jobs.ReapExpiredLeases(ctx, time.Now().UTC(), s.cfg.MaxRetries)
			if err != nil {
				obslog.WithTrace(ctx).Error().Err(err).Msg("reap_expired_leases failed")
				continue
			}
			if reclaimed > 0 || lost > 0 {
				obslog.WithTrace(ctx).Info().Int("reclaimed", reclaimed).Int("worker_lost", lost).Msg("reaped expired leases")
			}
			for i := 0; i < reclaimed; i++ {
				s.metrics.IncCounter("leases_reclaimed_total", nil)
			}
			for i := 0; i < lost; i++ {
				s.metrics.IncCounter("leases_worker_lost_total", nil)
			}
		}
	}
}

// expiryLoop transitions awaiting_approval jobs past ApprovalTTL to expired.
func (s *Scheduler) expiryLoop(ctx context.Context) error {
	if s.cfg.ApprovalTTL <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			jobs, err := s.jobs.List(ctx, jobstore.ListFilters{Status: jobstore.StatusAwaitingApproval})
			if err != nil {
				obslog.WithTrace(ctx).Error().Err(err).Msg("listing awaiting_approval jobs for TTL check")
				continue
			}
			cutoff := time.Now().UTC().Add(-s.cfg.ApprovalTTL)
			for _, job := range jobs {
				if job.Timestamps.CreatedAt.Before(cutoff) {
					if err := s.jobs.UpdateStatus(ctx, job.ID, []jobstore.Status{jobstore.StatusAwaitingApproval}, jobstore.StatusExpired, "approval TTL exceeded"); err != nil {
						obslog.WithTrace(ctx).Error().Err(err).Str("job_id", job.ID).Msg("expiring job failed")
					}
				}
			}
		}
	}
}

// SubmitIngestion is §6.1's submit_ingestion: fingerprint the content,
// resolve duplicates, and create a new job if none exists (or force=true).
func (s *Scheduler) SubmitIngestion(ctx context.Context, input jobstore.Input, ontology string, opts jobstore.Options) (jobstore.Job, string, error) {
	ontology, err := validation.Ontology(ontology)
	if err != nil {
		return jobstore.Job{}, "", ingesterr.Validation("%v", err)
	}
	content := input.Text
	if content == "" {
		content = input.BlobRef
	}
	if err := validation.Content(content); err != nil {
		return jobstore.Job{}, "", ingesterr.Validation("%v", err)
	}
	if err := validation.ChunkWordOptions(opts.TargetWords, opts.OverlapWords); err != nil {
		return jobstore.Job{}, "", ingesterr.Validation("%v", err)
	}

	decision, err := fingerprint.Resolve(ctx, s.jobs, []byte(content), ontology, opts.TargetWords, opts.OverlapWords, opts.Force)
	if err != nil {
		return jobstore.Job{}, "", fmt.Errorf("resolving fingerprint: %w", err)
	}
	if decision.Duplicate {
		existing, err := s.jobs.Get(ctx, decision.DuplicateOf)
		if err != nil {
			return jobstore.Job{}, "", fmt.Errorf("loading duplicate job: %w", err)
		}
		return existing, decision.DuplicateOf, nil
	}

	job := jobstore.Job{
		ContentFingerprint: decision.Digest,
		Ontology:           ontology,
		Input:              input,
		Options:            opts,
	}
	id, err := s.jobs.Create(ctx, job)
	if err != nil {
		return jobstore.Job{}, "", fmt.Errorf("creating job: %w", err)
	}
	created, err := s.jobs.Get(ctx, id)
	if err != nil {
		return jobstore.Job{}, "", fmt.Errorf("loading created job: %w", err)
	}
	return created, "", nil
}

// ApproveJob is §6.1's approve_job: awaiting_approval -> approved.
func (s *Scheduler) ApproveJob(ctx context.Context, id string) (jobstore.Job, error) {
	id, err := validation.JobID(id)
	if err != nil {
		return jobstore.Job{}, ingesterr.Validation("%v", err)
	}
	if err := s.jobs.UpdateStatus(ctx, id, []jobstore.Status{jobstore.StatusAwaitingApproval}, jobstore.StatusApproved, "approved"); err != nil {
		return jobstore.Job{}, err
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return jobstore.Job{}, err
	}
	if s.wake != nil {
		s.wake.publish(ctx, job)
	}
	return job, nil
}

// CancelJob is §6.1's cancel_job: immediate for queued/awaiting_approval/
// approved, cooperative (flag only) for processing (§4.C cancellation
// semantics).
func (s *Scheduler) CancelJob(ctx context.Context, id string) (bool, jobstore.Status, error) {
	id, err := validation.JobID(id)
	if err != nil {
		return false, "", ingesterr.Validation("%v", err)
	}
	statusAtRequest, err := s.jobs.RequestCancellation(ctx, id)
	if err != nil {
		return false, "", err
	}
	switch statusAtRequest {
	case jobstore.StatusQueued, jobstore.StatusAwaitingApproval, jobstore.StatusApproved:
		if err := s.jobs.UpdateStatus(ctx, id, []jobstore.Status{statusAtRequest}, jobstore.StatusCancelled, "cancelled before claim"); err != nil {
			if ingesterr.Is(err, ingesterr.KindStaleState) {
				// Raced with a claim between RequestCancellation and
				// UpdateStatus; the worker will observe the flag instead.
				return true, statusAtRequest, nil
			}
			return false, statusAtRequest, err
		}
		return true, jobstore.StatusCancelled, nil
	default:
		return true, statusAtRequest, nil
	}
}
