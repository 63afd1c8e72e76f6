package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

// Firestore stores one document per job, keyed by job id.
type Firestore struct {
	client     *firestore.Client
	collection string
}

func NewFirestore(client *firestore.Client, collection string) *Firestore {
	if collection == "" {
		collection = "jobs"
	}
	return &Firestore{client: client, collection: collection}
}

func (f *Firestore) doc(id string) *firestore.DocumentRef {
	return f.client.Collection(f.collection).Doc(id)
}

func (f *Firestore) Create(ctx context.Context, job models.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if _, err := f.doc(job.JobID).Create(ctx, job); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return apperr.Newf(apperr.Conflict, "job %s already exists", job.JobID)
		}
		return fmt.Errorf("failed to create job document: %w", err)
	}
	return nil
}

func (f *Firestore) Get(ctx context.Context, id string) (models.Job, error) {
	snap, err := f.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return models.Job{}, notFound(id)
		}
		return models.Job{}, fmt.Errorf("failed to read job document: %w", err)
	}
	var job models.Job
	if err := snap.DataTo(&job); err != nil {
		return models.Job{}, fmt.Errorf("failed to decode job document: %w", err)
	}
	return job, nil
}

func (f *Firestore) Update(ctx context.Context, id string, patch models.JobPatch) (models.Job, error) {
	if _, err := f.doc(id).Update(ctx, firestoreUpdates(patch, time.Now().UTC())); err != nil {
		if status.Code(err) == codes.NotFound {
			return models.Job{}, notFound(id)
		}
		return models.Job{}, fmt.Errorf("failed to update job document: %w", err)
	}
	return f.Get(ctx, id)
}

// firestoreUpdates converts a patch into field paths matching the Job tags.
func firestoreUpdates(patch models.JobPatch, now time.Time) []firestore.Update {
	var updates []firestore.Update
	add := func(path string, v any) {
		updates = append(updates, firestore.Update{Path: path, Value: v})
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.StatusCode != nil {
		add("statusCode", *patch.StatusCode)
	}
	if patch.Progress != nil {
		add("progress", *patch.Progress)
	}
	switch {
	case patch.ErrorCode != nil:
		add("errorCode", *patch.ErrorCode)
	case patch.ClearError:
		add("errorCode", firestore.Delete)
	}
	if patch.ResultURL != nil {
		add("resultUrl", *patch.ResultURL)
	}
	if patch.ArtifactURI != nil {
		add("artifactUri", *patch.ArtifactURI)
	}
	if patch.SlideCount != nil {
		add("slideCount", *patch.SlideCount)
	}
	if patch.TargetDuration != nil {
		add("targetDuration", *patch.TargetDuration)
	}
	if patch.EstimatedDuration != nil {
		add("estimatedDuration", *patch.EstimatedDuration)
	}
	add("updatedAt", now)
	return updates
}

func (f *Firestore) List(ctx context.Context) ([]models.Job, error) {
	iter := f.client.Collection(f.collection).OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()
	var jobs []models.Job
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}
		var job models.Job
		if err := snap.DataTo(&job); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", snap.Ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (f *Firestore) Delete(ctx context.Context, id string) error {
	if _, err := f.doc(id).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return notFound(id)
		}
		return fmt.Errorf("failed to delete job document: %w", err)
	}
	return nil
}

func (f *Firestore) FindByHash(ctx context.Context, hash string) (models.Job, bool, error) {
	docs, err := f.client.Collection(f.collection).Where("fileHash", "==", hash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return models.Job{}, false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) == 0 {
		return models.Job{}, false, nil
	}
	var job models.Job
	if err := docs[0].DataTo(&job); err != nil {
		return models.Job{}, false, fmt.Errorf("failed to decode job document: %w", err)
	}
	return job, true, nil
}

func (f *Firestore) Close() error { return f.client.Close() }
