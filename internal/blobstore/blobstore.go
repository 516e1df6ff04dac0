// Package blobstore resolves a job's input.blob_ref (§3 Job.input) into
// document bytes. The S3 backend exercises the teacher's aws-sdk-go-v2
// dependency for exactly this "reference to a stored blob" concern; the
// memory backend backs tests.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Resolver resolves a blob reference into its bytes.
type Resolver interface {
	Resolve(ctx context.Context, blobRef string) ([]byte, error)
}

// S3 resolves "s3://bucket/key"-shaped references.
type S3 struct {
	client *s3.Client
}

// NewS3 loads the default AWS config chain (env vars, shared config,
// instance role) the way a server-side component is expected to.
func NewS3(ctx context.Context) (*S3, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: loading aws config: %w", err)
	}
	return &S3{client: s3.NewFromConfig(cfg)}, nil
}

func (r *S3) Resolve(ctx context.Context, blobRef string) ([]byte, error) {
	bucket, key, err := parseS3Ref(blobRef)
	if err != nil {
		return nil, err
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get object %s: %w", blobRef, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blobstore: reading object %s: %w", blobRef, err)
	}
	return b, nil
}

func parseS3Ref(ref string) (bucket, key string, err error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("blobstore: invalid blob ref %q, expected s3://bucket/key", ref)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Memory is an in-process Resolver for tests and single-process demos.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(ref string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[ref] = cp
}

func (m *Memory) Resolve(_ context.Context, blobRef string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[blobRef]
	if !ok {
		return nil, fmt.Errorf("blobstore: blob %q not found", blobRef)
	}
	return bytes.Clone(b), nil
}
