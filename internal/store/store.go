// Package store persists job records. Backends share the Store contract:
// patches never touch unspecified fields and always bump UpdatedAt.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nomadcafe/kekiai-japaneseai/internal/config"
	"github.com/nomadcafe/kekiai-japaneseai/internal/gcp"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

// Store is the job record repository.
type Store interface {
	Create(ctx context.Context, job models.Job) error
	// Get returns an apperr NOT_FOUND error for unknown ids.
	Get(ctx context.Context, id string) (models.Job, error)
	Update(ctx context.Context, id string, patch models.JobPatch) (models.Job, error)
	// List returns every job, newest first.
	List(ctx context.Context) ([]models.Job, error)
	Delete(ctx context.Context, id string) error
	// FindByHash reports the first job whose source file has the given SHA-256.
	FindByHash(ctx context.Context, hash string) (models.Job, bool, error)
	Close() error
}

// New opens the backend named by cfg.Driver.
func New(ctx context.Context, cfg config.StoreConfig, projectID string) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "firestore":
		client, err := gcp.NewFirestoreClient(ctx, projectID)
		if err != nil {
			return nil, err
		}
		return NewFirestore(client, cfg.Collection), nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		s := NewPostgres(db)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
