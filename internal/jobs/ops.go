package jobs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/gcp"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
	"github.com/nomadcafe/kekiai-japaneseai/internal/workspace"
)

// Upload is a deck submitted through the API.
type Upload struct {
	Filename string
	File     io.Reader
	Metadata models.JobMetadata
	// Optional reference document for the dialogue prompts.
	KnowledgeName string
	KnowledgeData []byte
}

// IsPDF reports whether name has a .pdf extension.
func IsPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// Create stores the upload, records a pending job and starts the upload run.
// Nothing is recorded when the file or knowledge document is rejected.
func (m *Manager) Create(ctx context.Context, up Upload) (models.Job, error) {
	if !IsPDF(up.Filename) {
		return models.Job{}, apperr.New(apperr.UnsupportedFormat, "PDFファイルのみ対応しています")
	}
	id := uuid.NewString()
	logCtx := slog.With("jobId", id, "filename", up.Filename)

	hash, err := m.ws.SaveUpload(id, up.File)
	if err != nil {
		m.discard(id)
		return models.Job{}, apperr.Wrap(err, apperr.Internal, "failed to store upload")
	}
	if _, err := m.pageCount(m.ws.SourcePDF(id)); err != nil {
		m.discard(id)
		return models.Job{}, err
	}

	meta := m.normalizeMetadata(up.Metadata, up.Filename)
	if len(up.KnowledgeData) > 0 && m.knowledge != nil {
		text, err := m.knowledge.Extract(ctx, up.KnowledgeName, up.KnowledgeData)
		if err != nil {
			m.discard(id)
			return models.Job{}, err
		}
		meta.AdditionalKnowledge = text
		meta.KnowledgeFilename = up.KnowledgeName
		logCtx.Info("Knowledge document attached.", "knowledge", up.KnowledgeName, "chars", len([]rune(text)))
	}

	job, err := m.record(ctx, id, hash, meta)
	if err != nil {
		m.discard(id)
		return models.Job{}, err
	}
	if err := m.start(id, "upload", m.uploadRun); err != nil {
		return job, err
	}
	logCtx.Info("Job created from upload.", "fileHash", hash)
	return job, nil
}

// Import pulls a PDF from GCS and starts the upload run. A job pre-created by
// the upload trigger is reused when req names it.
func (m *Manager) Import(ctx context.Context, req models.ImportRequest) (models.Job, error) {
	if m.fetch == nil {
		return models.Job{}, apperr.New(apperr.Unavailable, "GCS import is not configured")
	}
	bucket, object, err := gcp.ParseGCSURI(req.GCSUri)
	if err != nil {
		return models.Job{}, apperr.Wrap(err, apperr.InvalidArgument, "invalid gcs_uri")
	}
	filename := path.Base(object)
	if !IsPDF(filename) {
		return models.Job{}, apperr.New(apperr.UnsupportedFormat, "PDFファイルのみ対応しています")
	}

	id := req.JobID
	var existing *models.Job
	if id != "" {
		job, err := m.gate(ctx, id, models.StatusPending)
		if err != nil {
			return models.Job{}, err
		}
		existing = &job
	} else {
		id = uuid.NewString()
	}
	logCtx := slog.With("jobId", id, "gcsBucket", bucket, "gcsObject", object)

	// A fresh id owns its upload dir until the job is recorded.
	recorded := existing != nil
	defer func() {
		if !recorded {
			m.discard(id)
		}
	}()

	if err := os.MkdirAll(m.ws.UploadDir(id), 0o755); err != nil {
		return models.Job{}, apperr.Wrap(err, apperr.Internal, "failed to prepare upload dir")
	}
	if err := m.fetch(ctx, bucket, object, m.ws.SourcePDF(id)); err != nil {
		return models.Job{}, apperr.Wrap(err, apperr.Unavailable, "failed to download source PDF")
	}
	if _, err := m.pageCount(m.ws.SourcePDF(id)); err != nil {
		return models.Job{}, err
	}

	meta, err := m.ws.LoadMetadata(id)
	if err != nil {
		if !workspace.IsNotExist(err) {
			return models.Job{}, apperr.Wrap(err, apperr.Internal, "failed to read job metadata")
		}
		meta = m.normalizeMetadata(models.JobMetadata{}, filename)
		if err := m.ws.SaveMetadata(id, meta); err != nil {
			return models.Job{}, apperr.Wrap(err, apperr.Internal, "failed to save job metadata")
		}
	}

	job := models.Job{}
	if existing != nil {
		job = *existing
	} else {
		hash, err := workspace.HashFile(m.ws.SourcePDF(id))
		if err != nil {
			return models.Job{}, apperr.Wrap(err, apperr.Internal, "failed to hash source PDF")
		}
		if job, err = m.record(ctx, id, hash, meta); err != nil {
			return models.Job{}, err
		}
		recorded = true
	}
	if err := m.start(id, "upload", m.uploadRun); err != nil {
		return job, err
	}
	logCtx.Info("Job imported from GCS.")
	return job, nil
}

// normalizeMetadata fills the defaults of an upload's options.
func (m *Manager) normalizeMetadata(meta models.JobMetadata, filename string) models.JobMetadata {
	meta.OriginalFilename = filename
	if meta.TargetDuration <= 0 {
		meta.TargetDuration = m.cfg.DefaultDuration
	}
	defaults := models.DefaultSpeakers()
	if meta.Speakers.Speaker1 == (models.Speaker{}) {
		meta.Speakers.Speaker1 = defaults.Speaker1
	}
	if meta.Speakers.Speaker2 == (models.Speaker{}) {
		meta.Speakers.Speaker2 = defaults.Speaker2
	}
	return meta
}

// record saves the metadata document and creates the pending job record.
func (m *Manager) record(ctx context.Context, id, hash string, meta models.JobMetadata) (models.Job, error) {
	if err := m.ws.SaveMetadata(id, meta); err != nil {
		return models.Job{}, apperr.Wrap(err, apperr.Internal, "failed to save job metadata")
	}
	now := m.now()
	job := models.Job{
		JobID:            id,
		Status:           models.StatusPending,
		StatusCode:       models.CodeUploading,
		OriginalFilename: meta.OriginalFilename,
		FileHash:         hash,
		TargetDuration:   meta.TargetDuration,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return models.Job{}, err
	}
	if m.events != nil {
		if err := m.events.Publish(ctx, job); err != nil {
			slog.Warn("Failed to publish job update.", "jobId", id, "error", err)
		}
	}
	return job, nil
}

func (m *Manager) discard(id string) {
	if err := m.ws.Remove(id); err != nil {
		slog.Warn("Failed to remove rejected upload.", "jobId", id, "error", err)
	}
}

// GenerateDialogue starts dialogue synthesis. An empty prompt rewrites the
// whole script; otherwise only the requested (or selected) slides change.
func (m *Manager) GenerateDialogue(ctx context.Context, id string, req models.GenerateDialogueRequest) error {
	if _, err := m.gate(ctx, id, models.StatusSlidesReady, models.StatusDialogueReady, models.StatusCompleted); err != nil {
		return err
	}
	req.AdditionalPrompt = strings.TrimSpace(req.AdditionalPrompt)
	return m.start(id, "dialogue", func(ctx context.Context, r *run) error {
		if req.AdditionalPrompt == "" {
			return m.synthesize(ctx, r, requestDialogue, llmOverride{req.Provider, req.APIKey}, "")
		}
		return m.regenerate(ctx, r, req)
	})
}

// GenerateAudio starts narration rendering with the given voice scales.
func (m *Manager) GenerateAudio(ctx context.Context, id string, scales models.GenerateAudioRequest) error {
	if _, err := m.gate(ctx, id, models.StatusSlidesReady, models.StatusDialogueReady); err != nil {
		return err
	}
	return m.start(id, "audio", func(ctx context.Context, r *run) error {
		return m.renderAudio(ctx, r, 65, 85, scales)
	})
}

// CreateVideo starts composition of the given slides, or all slides.
func (m *Manager) CreateVideo(ctx context.Context, id string, slideNumbers []int) error {
	if _, err := m.gate(ctx, id, models.StatusAudioReady); err != nil {
		return err
	}
	return m.start(id, "video", func(ctx context.Context, r *run) error {
		return m.renderVideo(ctx, r, slideNumbers, requestVideo)
	})
}

// GenerateVideo runs every missing stage through to the final video.
func (m *Manager) GenerateVideo(ctx context.Context, id string) error {
	if _, err := m.gate(ctx, id, models.StatusPending, models.StatusSlidesReady, models.StatusDialogueReady); err != nil {
		return err
	}
	return m.start(id, "one-click", m.oneClickRun)
}
