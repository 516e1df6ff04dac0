package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_Submit(t *testing.T) {
	t.Setenv("JOBSTORE_BACKEND", "memory")

	code := run([]string{"submit", "--ontology", "research", "--text", "hello world"})
	require.Equal(t, exitOK, code)
}

func TestRun_SubmitRequiresOntology(t *testing.T) {
	t.Setenv("JOBSTORE_BACKEND", "memory")

	code := run([]string{"submit", "--text", "hello world"})
	require.Equal(t, exitValidation, code)
}

func TestRun_UnknownVerb(t *testing.T) {
	t.Setenv("JOBSTORE_BACKEND", "memory")

	code := run([]string{"bogus"})
	require.Equal(t, exitValidation, code)
}

func TestRun_NoArgs(t *testing.T) {
	code := run(nil)
	require.Equal(t, exitValidation, code)
}

func TestRun_StatusNotFound(t *testing.T) {
	t.Setenv("JOBSTORE_BACKEND", "memory")

	code := run([]string{"status", "deadbeef-0000-0000-0000-000000000000"})
	require.Equal(t, exitNotFound, code)
}
