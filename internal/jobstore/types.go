// Package jobstore defines the durable job record (Component B) and the
// interface its Postgres and in-memory backends satisfy.
package jobstore

import (
	"context"
	"time"

	"ingestctl/internal/fingerprint"
)

// Status is one of the lifecycle states of §4.C. The zero value is invalid;
// every Job is created already in Queued or AwaitingApproval.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusAwaitingApproval  Status = "awaiting_approval"
	StatusApproved          Status = "approved"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusExpired           Status = "expired"
)

// Terminal reports whether a status has no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Input is either inlined text or a reference to a stored blob (§3 Job.input).
type Input struct {
	Text       string
	BlobRef    string
	Filename   string
	ByteLength int64
}

// Options mirrors §3 Job.options / §6.1 submit_ingestion options.
type Options struct {
	TargetWords     int
	OverlapWords    int
	Force           bool
	AutoApprove     bool
	ExtractionProfile string
	// PartialSuccess, when true, makes chunk-level permanent failures
	// non-fatal to the job (§7, §9 Open Question 3). Strict (false) is the
	// default.
	PartialSuccess bool
}

// Progress mirrors §3 Job.progress.
type Progress struct {
	Stage              string
	ChunksTotal        int
	ChunksProcessed    int
	Percent            int
	ConceptsCreated    int
	ConceptsLinked     int
	InstancesCreated   int
	RelationshipsCreated int
	SourcesCreated     int
}

// CostEstimate mirrors §3 Job.cost_estimate.
type CostEstimate struct {
	TokensIn      int64
	TokensOut     int64
	USDExtraction float64
	USDEmbedding  float64
	USDTotal      float64
	ModelIDs      []string
}

// Result mirrors §3 Job.result, the final statistics on successful completion.
type Result struct {
	ChunksProcessed      int
	ConceptsCreated      int
	ConceptsLinked       int
	InstancesCreated     int
	RelationshipsCreated int
	SourcesCreated       int
	USDTotal             float64
	PartialFailureNote   string
}

// JobError mirrors §3 Job.error: a taxonomy kind plus diagnostic message.
type JobError struct {
	Kind    string
	Message string
}

// Timestamps mirrors §3 Job.timestamps.
type Timestamps struct {
	CreatedAt       time.Time
	ApprovedAt      time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	LastProgressAt  time.Time
}

// Job is the full durable record described in §3 and laid out for
// persistence in §6.6.
type Job struct {
	ID                    string
	Kind                  string // "ingestion", "restore", "other"
	ContentFingerprint    fingerprint.Digest
	Ontology              string
	Input                 Input
	Options               Options
	Status                Status
	Progress              Progress
	CostEstimate          *CostEstimate
	Result                *Result
	Error                 *JobError
	CancellationRequested bool
	OwnerPrincipal        string
	WorkerID              string
	LeaseExpiresAt        time.Time
	RetryCount            int
	Timestamps            Timestamps
}

// ListFilters restricts List queries (§4.B list(filters)).
type ListFilters struct {
	Status         Status
	OwnerPrincipal string
	CreatedAfter   time.Time
	CreatedBefore  time.Time
	Limit          int
	Offset         int
}

// Store is the interface every job-store backend (postgres, memory) must
// satisfy. Every mutating operation is the sole legal way to change a job's
// state; no caller is expected to mutate a Job value and persist it
// directly (§4.B "arbitrary writes are forbidden").
type Store interface {
	fingerprint.Lookup

	// Create inserts a new job. If job.CostEstimate is already set the job
	// starts in AwaitingApproval; otherwise Queued (§4.B create).
	Create(ctx context.Context, job Job) (string, error)
	Get(ctx context.Context, id string) (Job, error)
	List(ctx context.Context, filters ListFilters) ([]Job, error)

	// UpdateStatus performs a conditional transition: it fails with a
	// StaleState ingesterr.Error if the job's current status is not in
	// fromSet.
	UpdateStatus(ctx context.Context, id string, fromSet []Status, to Status, reason string) error

	// UpdateProgress applies a monotonic progress update: ChunksProcessed
	// never decreases.
	UpdateProgress(ctx context.Context, id string, progress Progress) error

	// SetCostEstimate is only valid while status is Queued or AwaitingApproval.
	SetCostEstimate(ctx context.Context, id string, estimate CostEstimate) error

	// SetResult is only valid as part of a terminal transition to Completed.
	SetResult(ctx context.Context, id string, result Result) error
	// SetError is only valid as part of a terminal transition to Failed.
	SetError(ctx context.Context, id string, kind, message string) error

	// RequestCancellation sets the cancellation flag and returns the status
	// observed at the moment of the request.
	RequestCancellation(ctx context.Context, id string) (Status, error)

	// ClaimNext atomically selects one Approved job, transitions it to
	// Processing, and stamps a lease. ok is false if none is available.
	ClaimNext(ctx context.Context, workerID string, leaseDuration time.Duration) (job Job, ok bool, err error)
	// RenewLease extends the lease on a job this worker still owns.
	RenewLease(ctx context.Context, id, workerID string, leaseDuration time.Duration) error
	// ReapExpiredLeases returns Processing jobs whose lease expired back to
	// Approved (retry) or Failed/WorkerLost (retry budget exhausted), and
	// reports how many of each it reaped.
	ReapExpiredLeases(ctx context.Context, now time.Time, maxRetries int) (reclaimed int, lost int, err error)

	// Archive moves terminal jobs older than the retention window into an
	// archive, per §4.B "pruned to an archive" and SPEC_FULL's retention
	// supplement.
	Archive(ctx context.Context, olderThan time.Duration) (int, error)

	// Durable reports whether this backend survives process restarts. The
	// memory backend returns false (§9 Open Question 1).
	Durable() bool
}
