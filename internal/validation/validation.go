// Package validation provides input validators shared across the ingestion
// control plane. It has no dependency on other internal packages to avoid
// import cycles.
package validation

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidOntology = errors.New("invalid ontology")
	ErrInvalidJobID    = errors.New("invalid job id")
	ErrInvalidWordOpt  = errors.New("invalid chunk word option")
	ErrEmptyContent    = errors.New("content must not be empty")
)

// ontologyRe matches a conservative namespace token: lowercase alnum plus
// dash/underscore/dot, 1-128 chars. Ontology is embedded in fingerprints
// and SQL filters, so it is validated once
// here rather than at each call site.
var ontologyRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

// Ontology checks that a proposed ontology namespace is safe to use as a
// graph partition key and as a fingerprint component.
func Ontology(ontology string) (string, error) {
	o := strings.TrimSpace(ontology)
	if !ontologyRe.MatchString(o) {
		return "", ErrInvalidOntology
	}
	return o, nil
}

// jobIDRe accepts UUID-shaped tokens; the job store issues google/uuid
// values but the validator is kept loose enough to admit other opaque
// token formats a future store might choose.
var jobIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,63}$`)

// JobID checks that a job id is safe to use in log lines, SQL parameters,
// and Kafka message keys.
func JobID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if !jobIDRe.MatchString(id) {
		return "", ErrInvalidJobID
	}
	return id, nil
}

// ChunkWordOptions validates the target/overlap word counts from
// submit_ingestion options (§6.1): overlap must be non-negative and
// strictly smaller than target, and target must be positive.
func ChunkWordOptions(targetWords, overlapWords int) error {
	if targetWords <= 0 {
		return ErrInvalidWordOpt
	}
	if overlapWords < 0 || overlapWords >= targetWords {
		return ErrInvalidWordOpt
	}
	return nil
}

// Content checks that submitted text is non-empty after trimming. Chunking
// an empty document is legal (§4.D.2 "yields zero chunks") but the job
// itself must carry some content or blob reference; the scheduler applies
// it to the inline text, or to the blob reference when no text is given.
func Content(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyContent
	}
	return nil
}
