package fingerprint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompute_Deterministic(t *testing.T) {
	a := Compute([]byte("hello world"), "research", 1000, 200)
	b := Compute([]byte("hello world"), "research", 1000, 200)
	require.Equal(t, a, b)
}

func TestCompute_OntologyIsPartOfDigest(t *testing.T) {
	a := Compute([]byte("hello world"), "research", 1000, 200)
	b := Compute([]byte("hello world"), "other-ontology", 1000, 200)
	require.NotEqual(t, a, b)
}

func TestCompute_WhitespaceOnlyDifferenceChangesDigest(t *testing.T) {
	a := Compute([]byte("hello  world"), "research", 1000, 200)
	b := Compute([]byte("hello world"), "research", 1000, 200)
	require.NotEqual(t, a, b, "no semantic whitespace normalization per spec edge case")
}

func TestSalted_NeverCollides(t *testing.T) {
	a, err := Salted([]byte("hello world"), "research", 1000, 200)
	require.NoError(t, err)
	b, err := Salted([]byte("hello world"), "research", 1000, 200)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

type fakeLookup struct {
	jobID  string
	status string
	found  bool
}

func (f fakeLookup) FindByFingerprint(ctx context.Context, digest Digest) (string, string, bool, error) {
	return f.jobID, f.status, f.found, nil
}

func TestResolve_NoMatchIsNewJob(t *testing.T) {
	dec, err := Resolve(context.Background(), fakeLookup{found: false}, []byte("x"), "research", 1000, 200, false)
	require.NoError(t, err)
	require.False(t, dec.Duplicate)
}

func TestResolve_MatchIsDuplicate(t *testing.T) {
	dec, err := Resolve(context.Background(), fakeLookup{found: true, jobID: "job-1", status: "completed"}, []byte("x"), "research", 1000, 200, false)
	require.NoError(t, err)
	require.True(t, dec.Duplicate)
	require.Equal(t, "job-1", dec.DuplicateOf)
	require.Equal(t, "completed", dec.DupStatus)
}

func TestResolve_ForceAlwaysNew(t *testing.T) {
	dec, err := Resolve(context.Background(), fakeLookup{found: true, jobID: "job-1", status: "completed"}, []byte("x"), "research", 1000, 200, true)
	require.NoError(t, err)
	require.False(t, dec.Duplicate)
}

func TestFromBytes_RoundTrip(t *testing.T) {
	d := Compute([]byte("hello"), "research", 1000, 200)
	got, err := FromBytes(d.Bytes())
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestFromBytes_WrongLength(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}
