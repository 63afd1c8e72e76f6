// Command upload-trigger is the CloudEvent function fired when a deck is
// written to the upload bucket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/nomadcafe/kekiai-japaneseai/internal/config"
	"github.com/nomadcafe/kekiai-japaneseai/internal/extract"
	"github.com/nomadcafe/kekiai-japaneseai/internal/gcp"
	"github.com/nomadcafe/kekiai-japaneseai/internal/logging"
	"github.com/nomadcafe/kekiai-japaneseai/internal/store"
	"github.com/nomadcafe/kekiai-japaneseai/internal/trigger"
)

var (
	triggerInstance *trigger.Trigger
	once            sync.Once
	initErr         error
)

func init() {
	functions.CloudEvent("HandleUpload", handleUpload)
}

// main is required by the Go Functions Framework.
func main() {}

func newTrigger(ctx context.Context) (*trigger.Trigger, error) {
	cfg := config.Load()
	slog.SetDefault(logging.New(cfg.Log.Level))

	jobStore, err := store.New(ctx, cfg.Store, cfg.GCP.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	var handoff trigger.Handoff
	if cfg.GCP.WorkflowID != "" {
		wf, err := gcp.NewWorkflowTrigger(ctx, cfg.GCP.ProjectID, cfg.GCP.WorkflowLocation, cfg.GCP.WorkflowID)
		if err != nil {
			return nil, err
		}
		handoff = trigger.WorkflowHandoff{Trigger: wf}
	} else {
		handoff = trigger.NewAPIHandoff(cfg.Server.PublicBaseURL)
	}

	t, err := trigger.New(trigger.Config{
		Store: jobStore,
		Download: func(ctx context.Context, bucket, object, dest string) error {
			return gcp.DownloadObject(ctx, storageClient, bucket, object, dest)
		},
		Handoff:         handoff,
		PageCount:       extract.Validate,
		DefaultDuration: cfg.Dialogue.DefaultDuration,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Upload trigger initialized.", "store", cfg.Store.Driver, "workflowId", cfg.GCP.WorkflowID)
	return t, nil
}

func handleUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		triggerInstance, initErr = newTrigger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent trigger.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return triggerInstance.Process(ctx, gcsEvent)
}
