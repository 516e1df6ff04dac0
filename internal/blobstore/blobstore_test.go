package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_PutResolveRoundTrip(t *testing.T) {
	m := NewMemory()
	m.Put("s3://bucket/key.txt", []byte("hello"))

	got, err := m.Resolve(context.Background(), "s3://bucket/key.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestMemory_MissingBlob(t *testing.T) {
	m := NewMemory()
	_, err := m.Resolve(context.Background(), "s3://bucket/missing.txt")
	require.Error(t, err)
}

func TestParseS3Ref(t *testing.T) {
	bucket, key, err := parseS3Ref("s3://my-bucket/path/to/doc.txt")
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "path/to/doc.txt", key)

	_, _, err = parseS3Ref("http://not-s3")
	require.Error(t, err)
}
