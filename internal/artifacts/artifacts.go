// Package artifacts publishes finished videos to durable storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/nomadcafe/kekiai-japaneseai/internal/gcp"
)

// Sink stores a local file under the job id and returns its URI.
type Sink interface {
	Publish(ctx context.Context, jobID, localPath string) (string, error)
}

// GCSSink uploads to gs://bucket/<job>.mp4.
type GCSSink struct {
	client *storage.Client
	bucket string
}

func NewGCSSink(client *storage.Client, bucket string) *GCSSink {
	return &GCSSink{client: client, bucket: bucket}
}

func (s *GCSSink) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	object := jobID + ".mp4"
	if err := gcp.UploadFile(ctx, s.client, s.bucket, localPath, object); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

// NatsSink stores videos in a JetStream object store bucket.
type NatsSink struct {
	bucket string
	store  jetstream.ObjectStore
}

// NewNatsSink creates the bucket, or binds to it when it already exists.
func NewNatsSink(ctx context.Context, js jetstream.JetStream, bucket string) (*NatsSink, error) {
	store, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("Rendered videos for the %s bucket.", bucket),
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucket, err)
		}
		store, err = js.ObjectStore(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucket, err)
		}
	}
	return &NatsSink{bucket: bucket, store: store}, nil
}

func (s *NatsSink) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	name := jobID + ".mp4"
	if _, err := s.store.Put(ctx, jetstream.ObjectMeta{Name: name}, f); err != nil {
		return "", fmt.Errorf("failed to put object '%s' to bucket '%s': %w", name, s.bucket, err)
	}
	return fmt.Sprintf("nats://%s/%s", s.bucket, name), nil
}

// Get reads a stored video back.
func (s *NatsSink) Get(ctx context.Context, jobID string) ([]byte, error) {
	data, err := s.store.GetBytes(ctx, jobID+".mp4")
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s.mp4' from bucket '%s': %w", jobID, s.bucket, err)
	}
	return data, nil
}
