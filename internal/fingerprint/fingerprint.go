// Package fingerprint computes the content-addressed digest used to detect
// duplicate ingestion submissions (Component A).
package fingerprint

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Digest is a 256-bit content fingerprint.
type Digest [32]byte

func (d Digest) String() string { return fmt.Sprintf("%x", d[:]) }

// Bytes returns a copy of the underlying digest bytes.
func (d Digest) Bytes() []byte {
	b := make([]byte, len(d))
	copy(b, d[:])
	return b
}

// FromBytes reconstructs a Digest from a 32-byte slice, as stored in the
// job store's content_fingerprint column.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != len(d) {
		return d, fmt.Errorf("fingerprint: expected %d bytes, got %d", len(d), len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Compute produces the deterministic digest over NFC-normalized, trimmed
// content concatenated with the (ontology, target_words, overlap_words)
// parameter tuple, per §4.A. Whitespace-only differences are NOT collapsed:
// only Unicode normalization and outer trimming are applied.
func Compute(content []byte, ontology string, targetWords, overlapWords int) Digest {
	normalized := norm.NFC.Bytes(content)
	trimmed := strings.TrimSpace(string(normalized))

	h := sha256.New()
	h.Write([]byte(trimmed))
	h.Write([]byte{'|'})
	h.Write([]byte(ontology))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(targetWords)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(overlapWords)))

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Salted computes a digest distinct from Compute's for the same inputs, by
// mixing in a fresh random salt. Used for force=true resubmissions so the
// new job is stored under its own fingerprint (§4.A).
func Salted(content []byte, ontology string, targetWords, overlapWords int) (Digest, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return Digest{}, fmt.Errorf("fingerprint: generating salt: %w", err)
	}
	normalized := norm.NFC.Bytes(content)
	trimmed := strings.TrimSpace(string(normalized))

	h := sha256.New()
	h.Write([]byte(trimmed))
	h.Write([]byte{'|'})
	h.Write([]byte(ontology))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(targetWords)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(overlapWords)))
	h.Write([]byte{'|'})
	h.Write(salt[:])

	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// Lookup is satisfied by the job store: given a digest, return the id and
// status of the most recent job carrying it, if any.
type Lookup interface {
	FindByFingerprint(ctx context.Context, digest Digest) (jobID string, status string, found bool, err error)
}

// Decision is the outcome of resolving a submission against the lookup.
type Decision struct {
	Digest      Digest
	Duplicate   bool
	DuplicateOf string
	DupStatus   string
}

// Resolve implements the idempotency contract of §4.A/§6.1: a non-forced
// submission that matches an existing job's fingerprint is reported as a
// duplicate instead of creating a new job; a forced submission always gets
// a fresh, distinctly-stored fingerprint.
func Resolve(ctx context.Context, lookup Lookup, content []byte, ontology string, targetWords, overlapWords int, force bool) (Decision, error) {
	if force {
		d, err := Salted(content, ontology, targetWords, overlapWords)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Digest: d}, nil
	}

	digest := Compute(content, ontology, targetWords, overlapWords)
	jobID, status, found, err := lookup.FindByFingerprint(ctx, digest)
	if err != nil {
		return Decision{}, fmt.Errorf("fingerprint: lookup failed: %w", err)
	}
	if !found {
		return Decision{Digest: digest}, nil
	}
	return Decision{Digest: digest, Duplicate: true, DuplicateOf: jobID, DupStatus: status}, nil
}
