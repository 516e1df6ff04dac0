// Command ingestctl is the minimal CLI for the submission interface (§6.7).
// It talks to the job store and scheduler in-process, not over HTTP or
// gRPC (SPEC_FULL §1 places any wider REST/CLI/web surface out of scope).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"ingestctl/internal/config"
	"ingestctl/internal/ingesterr"
	"ingestctl/internal/jobstore"
	jobstorememory "ingestctl/internal/jobstore/memory"
	jobstorepostgres "ingestctl/internal/jobstore/postgres"
	"ingestctl/internal/obsmetrics"
	"ingestctl/internal/scheduler"
	"ingestctl/internal/validation"
	"ingestctl/internal/worker"
)

// Exit codes per §6.7.
const (
	exitOK               = 0
	exitValidation       = 2
	exitNotFound         = 3
	exitConflict         = 4
	exitServerUnavailable = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingestctl <submit|status|list|approve|cancel> [args]")
		return exitValidation
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestctl: loading config: %v\n", err)
		return exitServerUnavailable
	}

	jobs, closeJobs, err := openJobStore(cfg.JobStore)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestctl: connecting to job store: %v\n", err)
		return exitServerUnavailable
	}
	defer closeJobs()

	// No worker factory is needed: the CLI never runs the claim loop, only
	// the submission-interface methods (submit/approve/cancel), which don't
	// touch the factory.
	sched := scheduler.New(jobs, func(string) *worker.Worker { return nil }, cfg.Scheduler, obsmetrics.NewMock(), "ingestctl-cli")

	ctx := context.Background()
	switch args[0] {
	case "submit":
		return cmdSubmit(ctx, sched, args[1:])
	case "status":
		return cmdStatus(ctx, jobs, args[1:])
	case "list":
		return cmdList(ctx, jobs, args[1:])
	case "approve":
		return cmdApprove(ctx, sched, args[1:])
	case "cancel":
		return cmdCancel(ctx, sched, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "ingestctl: unknown verb %q\n", args[0])
		return exitValidation
	}
}

func openJobStore(cfg config.JobStoreConfig) (jobstore.Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		return jobstorememory.New(), func() {}, nil
	case "postgres", "":
		store, err := jobstorepostgres.Open(context.Background(), cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown job store backend %q", cfg.Backend)
	}
}

func cmdSubmit(ctx context.Context, sched *scheduler.Scheduler, args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	text := fs.String("text", "", "inline document text")
	blobRef := fs.String("blob-ref", "", "blob store reference (s3://bucket/key)")
	ontology := fs.String("ontology", "", "target ontology (required)")
	targetWords := fs.Int("target-words", 800, "chunk target word count")
	overlapWords := fs.Int("overlap-words", 80, "chunk overlap word count")
	force := fs.Bool("force", false, "bypass deduplication")
	autoApprove := fs.Bool("auto-approve", false, "approve automatically once cost-estimated")
	profile := fs.String("profile", "default", "extraction profile name")
	partial := fs.Bool("partial-success", false, "skip permanently-failed chunks instead of failing the job")
	if err := fs.Parse(args); err != nil {
		return exitValidation
	}

	if *ontology == "" || (*text == "" && *blobRef == "") {
		fmt.Fprintln(os.Stderr, "ingestctl submit: --ontology and one of --text/--blob-ref are required")
		return exitValidation
	}

	job, duplicateOf, err := sched.SubmitIngestion(ctx, jobstore.Input{Text: *text, BlobRef: *blobRef}, *ontology, jobstore.Options{
		TargetWords:       *targetWords,
		OverlapWords:      *overlapWords,
		Force:             *force,
		AutoApprove:       *autoApprove,
		ExtractionProfile: *profile,
		PartialSuccess:    *partial,
	})
	if err != nil {
		return reportError(err)
	}
	if duplicateOf != "" {
		printJSON(map[string]any{"status": "duplicate", "duplicate_of": duplicateOf, "job": job})
		return exitOK
	}
	printJSON(job)
	return exitOK
}

func cmdStatus(ctx context.Context, jobs jobstore.Store, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: ingestctl status <job-id>")
		return exitValidation
	}
	id, err := validation.JobID(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestctl: %v\n", err)
		return exitValidation
	}
	job, err := jobs.Get(ctx, id)
	if err != nil {
		return reportError(err)
	}
	printJSON(job)
	return exitOK
}

func cmdList(ctx context.Context, jobs jobstore.Store, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status")
	owner := fs.String("owner", "", "filter by owner principal")
	limit := fs.Int("limit", 50, "max results")
	if err := fs.Parse(args); err != nil {
		return exitValidation
	}
	list, err := jobs.List(ctx, jobstore.ListFilters{
		Status:         jobstore.Status(*status),
		OwnerPrincipal: *owner,
		Limit:          *limit,
	})
	if err != nil {
		return reportError(err)
	}
	printJSON(list)
	return exitOK
}

func cmdApprove(ctx context.Context, sched *scheduler.Scheduler, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: ingestctl approve <job-id>")
		return exitValidation
	}
	job, err := sched.ApproveJob(ctx, args[0])
	if err != nil {
		return reportError(err)
	}
	printJSON(job)
	return exitOK
}

func cmdCancel(ctx context.Context, sched *scheduler.Scheduler, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: ingestctl cancel <job-id>")
		return exitValidation
	}
	_, status, err := sched.CancelJob(ctx, args[0])
	if err != nil {
		return reportError(err)
	}
	printJSON(map[string]any{"status": status})
	return exitOK
}

func reportError(err error) int {
	switch {
	case ingesterr.Is(err, ingesterr.KindValidation):
		fmt.Fprintf(os.Stderr, "ingestctl: %v\n", err)
		return exitValidation
	case ingesterr.Is(err, ingesterr.KindStaleState):
		fmt.Fprintf(os.Stderr, "ingestctl: %v\n", err)
		return exitConflict
	default:
		fmt.Fprintf(os.Stderr, "ingestctl: %v\n", err)
		if isNotFound(err) {
			return exitNotFound
		}
		return exitServerUnavailable
	}
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no rows")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
