// Package trigger reacts to PDFs landing in the upload bucket: it validates
// and deduplicates the deck, records a pending job and hands it to the
// pipeline.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
	"github.com/nomadcafe/kekiai-japaneseai/internal/resilience"
	"github.com/nomadcafe/kekiai-japaneseai/internal/store"
	"github.com/nomadcafe/kekiai-japaneseai/internal/workspace"
)

// GCSEvent is the payload of a storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Handoff starts processing of a recorded job.
type Handoff interface {
	Start(ctx context.Context, job models.Job, gcsURI string) error
}

// Downloader fetches one object to destPath.
type Downloader func(ctx context.Context, bucket, object, destPath string) error

type Config struct {
	Store    store.Store
	Download Downloader
	Handoff  Handoff
	// PageCount validates the PDF and returns its page count.
	PageCount func(path string) (int, error)
	// DefaultDuration is the target length in minutes recorded on new jobs.
	DefaultDuration int
}

// Trigger processes upload events.
type Trigger struct {
	cfg   Config
	now   func() time.Time
	newID func() string
}

func New(cfg Config) (*Trigger, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("trigger: store is required")
	case cfg.Download == nil:
		return nil, fmt.Errorf("trigger: downloader is required")
	case cfg.Handoff == nil:
		return nil, fmt.Errorf("trigger: handoff is required")
	case cfg.PageCount == nil:
		return nil, fmt.Errorf("trigger: page counter is required")
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 10
	}
	return &Trigger{cfg: cfg, now: time.Now, newID: uuid.NewString}, nil
}

// Process handles one finalized object. Objects that are not PDFs, fail
// validation or duplicate an earlier upload are skipped without error, since
// redelivery would not change the outcome.
func (t *Trigger) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !strings.EqualFold(path.Ext(e.Name), ".pdf") {
		logCtx.Info("Ignoring non-PDF object.")
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	tempDir, err := os.MkdirTemp("", "upload-trigger-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	source := filepath.Join(tempDir, "source.pdf")
	if err := t.cfg.Download(ctx, e.Bucket, e.Name, source); err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}

	pages, err := t.cfg.PageCount(source)
	if err != nil {
		logCtx.Warn("Skipping invalid PDF.", "error", err)
		return nil
	}

	fileHash, err := workspace.HashFile(source)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	existing, found, err := t.cfg.Store.FindByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if found {
		logCtx.Info("Duplicate file detected. Skipping.", "existingJobId", existing.JobID)
		return nil
	}

	now := t.now()
	job := models.Job{
		JobID:            t.newID(),
		Status:           models.StatusPending,
		StatusCode:       models.CodeUploading,
		OriginalFilename: path.Base(e.Name),
		FileHash:         fileHash,
		TargetDuration:   t.cfg.DefaultDuration,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := t.cfg.Store.Create(ctx, job); err != nil {
		logCtx.Error("Failed to create job record", "error", err)
		return err
	}
	logCtx = logCtx.With("jobId", job.JobID)
	logCtx.Info("Created pending job.", "pageCount", pages)

	gcsURI := fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name)
	if err := t.cfg.Handoff.Start(ctx, job, gcsURI); err != nil {
		return t.handleError(ctx, logCtx, job.JobID, "failed to hand off job", err)
	}
	logCtx.Info("Hand-off complete.")
	return nil
}

func (t *Trigger) handleError(ctx context.Context, logCtx *slog.Logger, jobID, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	patch := models.JobPatch{
		Status:     models.Ptr(models.StatusFailed),
		StatusCode: models.Ptr(models.CodeFailed),
		ErrorCode:  models.Ptr(models.ErrPDFProcessing),
	}
	if _, err := t.cfg.Store.Update(context.WithoutCancel(ctx), jobID, patch); err != nil {
		logCtx.Error("CRITICAL: Failed to mark job as failed after a hand-off error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// WorkflowHandoff starts a Cloud Workflows execution with {jobId, gcsUri}.
type WorkflowHandoff struct {
	Trigger interface {
		Trigger(ctx context.Context, payload any) (string, error)
	}
}

func (h WorkflowHandoff) Start(ctx context.Context, job models.Job, gcsURI string) error {
	execution, err := h.Trigger.Trigger(ctx, map[string]string{"jobId": job.JobID, "gcsUri": gcsURI})
	if err != nil {
		return err
	}
	slog.Info("Workflow execution started.", "jobId", job.JobID, "execution", execution)
	return nil
}

// APIHandoff asks the API to import the deck into the pre-created job.
type APIHandoff struct {
	BaseURL string
	Client  *http.Client
	Retry   resilience.RetryConfig
}

// NewAPIHandoff targets the API at baseURL.
func NewAPIHandoff(baseURL string) *APIHandoff {
	return &APIHandoff{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 2 * time.Minute},
		Retry:   resilience.DefaultRetryConfig(),
	}
}

func (h *APIHandoff) Start(ctx context.Context, job models.Job, gcsURI string) error {
	body, err := json.Marshal(models.ImportRequest{GCSUri: gcsURI, JobID: job.JobID})
	if err != nil {
		return fmt.Errorf("failed to marshal import request: %w", err)
	}
	return resilience.Retry(ctx, h.Retry, func() error {
		return h.post(ctx, body)
	})
}

func (h *APIHandoff) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/api/jobs/import", bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(err, apperr.InvalidArgument, "failed to build import request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.Client.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.Unavailable, "import request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	code := apperr.Internal
	if resp.StatusCode >= http.StatusInternalServerError {
		code = apperr.Unavailable
	}
	return apperr.Newf(code, "import returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
}
