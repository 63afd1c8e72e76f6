// Package jobs drives the job state machine: it gates operations on the
// current status, runs each stage on the task registry and records progress.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/artifacts"
	"github.com/nomadcafe/kekiai-japaneseai/internal/config"
	"github.com/nomadcafe/kekiai-japaneseai/internal/dialogue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/events"
	"github.com/nomadcafe/kekiai-japaneseai/internal/extract"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
	"github.com/nomadcafe/kekiai-japaneseai/internal/store"
	"github.com/nomadcafe/kekiai-japaneseai/internal/taskqueue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/tts"
	"github.com/nomadcafe/kekiai-japaneseai/internal/video"
	"github.com/nomadcafe/kekiai-japaneseai/internal/workspace"
)

// SlideSource reads slide text and renders slide images from a PDF.
type SlideSource interface {
	Texts(ctx context.Context, pdfPath string, pages int) ([]string, error)
	Render(ctx context.Context, pdfPath, outDir string) (int, error)
}

// LLMSource resolves the model backend for a job.
type LLMSource interface {
	Provider(name, apiKey string) llm.Provider
}

// KnowledgeSource turns an uploaded reference document into plain text.
type KnowledgeSource interface {
	Extract(ctx context.Context, name string, data []byte) (string, error)
}

// Speech renders narration clips.
type Speech interface {
	Generate(ctx context.Context, clips []tts.Clip, speakers models.Speakers, scales models.GenerateAudioRequest, progress func(done, total int)) (int, error)
}

// Composer assembles the final video.
type Composer interface {
	Compose(ctx context.Context, req video.Request, onStage func(video.Stage)) (float64, error)
}

// Fetcher downloads one object to destPath.
type Fetcher func(ctx context.Context, bucket, object, destPath string) error

type ManagerConfig struct {
	Store     store.Store
	Workspace *workspace.Workspace
	Tasks     *taskqueue.Registry
	LLMs      LLMSource
	Slides    SlideSource
	Knowledge KnowledgeSource
	Speech    Speech
	Composer  Composer
	// Optional collaborators.
	Sink   artifacts.Sink
	Events events.Publisher
	Fetch  Fetcher
	// PageCount validates a PDF and returns its page count; extract.Validate when nil.
	PageCount func(path string) (int, error)
	Dialogue  config.DialogueConfig
}

// Manager owns every job transition.
type Manager struct {
	store     store.Store
	ws        *workspace.Workspace
	tasks     *taskqueue.Registry
	llms      LLMSource
	slides    SlideSource
	knowledge KnowledgeSource
	speech    Speech
	composer  Composer
	sink      artifacts.Sink
	events    events.Publisher
	fetch     Fetcher
	pageCount func(path string) (int, error)
	cfg       config.DialogueConfig
	now       func() time.Time
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("jobs: store is required")
	case cfg.Workspace == nil:
		return nil, errors.New("jobs: workspace is required")
	case cfg.Tasks == nil:
		return nil, errors.New("jobs: task registry is required")
	case cfg.LLMs == nil:
		return nil, errors.New("jobs: llm source is required")
	}
	m := &Manager{
		store:     cfg.Store,
		ws:        cfg.Workspace,
		tasks:     cfg.Tasks,
		llms:      cfg.LLMs,
		slides:    cfg.Slides,
		knowledge: cfg.Knowledge,
		speech:    cfg.Speech,
		composer:  cfg.Composer,
		sink:      cfg.Sink,
		events:    cfg.Events,
		fetch:     cfg.Fetch,
		pageCount: cfg.PageCount,
		cfg:       cfg.Dialogue,
		now:       time.Now,
	}
	if m.pageCount == nil {
		m.pageCount = extract.Validate
	}
	if m.cfg.DefaultDuration <= 0 {
		m.cfg.DefaultDuration = 10
	}
	return m, nil
}

// Workspace exposes the per-job file layout to readers such as the HTTP layer.
func (m *Manager) Workspace() *workspace.Workspace { return m.ws }

func taskKey(id string) string { return "job:" + id }

// IsRunning reports whether the job has a stage in flight.
func (m *Manager) IsRunning(id string) bool { return m.tasks.IsRunning(taskKey(id)) }

// Running lists the registry keys of every stage in flight.
func (m *Manager) Running() []string { return m.tasks.ListRunning() }

// Await blocks until the job's running stage (if any) returns.
func (m *Manager) Await(ctx context.Context, id string) error {
	_, err := m.tasks.Await(ctx, taskKey(id))
	return err
}

func (m *Manager) Get(ctx context.Context, id string) (models.Job, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]models.Job, error) {
	return m.store.List(ctx)
}

// Delete removes the record and every file of the job.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if m.IsRunning(id) {
		return apperr.Newf(apperr.Conflict, "job %s has a running task", id)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := m.ws.Remove(id); err != nil {
		slog.Warn("Failed to remove job files.", "jobId", id, "error", err)
	}
	slog.Info("Job deleted.", "jobId", id)
	return nil
}

// gate loads the job and checks that it is idle and in one of allowed.
func (m *Manager) gate(ctx context.Context, id string, allowed ...models.Status) (models.Job, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return job, err
	}
	if m.IsRunning(id) {
		return job, apperr.Newf(apperr.Conflict, "job %s has a running task", id)
	}
	if !slices.Contains(allowed, job.Status) {
		return job, apperr.Newf(apperr.FailedPrecondition, "job %s is %s; this operation needs one of %v", id, job.Status, allowed)
	}
	return job, nil
}

// start runs op in the background under the job's single-flight key.
func (m *Manager) start(id, stage string, op func(ctx context.Context, r *run) error) error {
	r := &run{m: m, id: id, logCtx: slog.With("jobId", id, "stage", stage)}
	ok := m.tasks.Submit(taskKey(id), func(ctx context.Context) (any, error) {
		r.logCtx.Info("Stage started.")
		if err := op(ctx, r); err != nil {
			return nil, err
		}
		r.logCtx.Info("Stage finished.")
		return nil, nil
	})
	if !ok {
		return apperr.Newf(apperr.Conflict, "job %s has a running task", id)
	}
	return nil
}

func (m *Manager) update(ctx context.Context, id string, patch models.JobPatch) (models.Job, error) {
	job, err := m.store.Update(ctx, id, patch)
	if err != nil {
		return job, err
	}
	if m.events != nil {
		if err := m.events.Publish(ctx, job); err != nil {
			slog.Warn("Failed to publish job update.", "jobId", id, "error", err)
		}
	}
	return job, nil
}

// run is one background stage sequence. Progress reported through it never
// moves backwards.
type run struct {
	m        *Manager
	id       string
	logCtx   *slog.Logger
	mu       sync.Mutex
	progress int
}

// step records patch. Progress callbacks arrive from worker goroutines, so
// writes are serialized; a failed write is logged and the stage continues.
func (r *run) step(ctx context.Context, patch models.JobPatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if patch.Progress != nil {
		p := max(*patch.Progress, r.progress)
		patch.Progress = &p
		r.progress = p
	}
	if _, err := r.m.update(ctx, r.id, patch); err != nil {
		r.logCtx.Warn("Failed to record job update.", "error", err)
	}
}

// fail marks the job failed with code and returns err annotated with msg.
// Progress keeps its last value.
func (r *run) fail(ctx context.Context, code models.ErrorCode, msg string, err error) error {
	r.logCtx.Error(msg, "error", err, "errorCode", code)
	r.mu.Lock()
	defer r.mu.Unlock()
	patch := models.JobPatch{
		Status:     models.Ptr(models.StatusFailed),
		StatusCode: models.Ptr(models.CodeFailed),
		ErrorCode:  &code,
	}
	if _, uerr := r.m.update(context.WithoutCancel(ctx), r.id, patch); uerr != nil {
		r.logCtx.Error("CRITICAL: Failed to mark job as failed.", "updateError", uerr)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func stagePatch(code models.StatusCode, progress int) models.JobPatch {
	return models.JobPatch{StatusCode: &code, Progress: &progress}
}

func statusPatch(status models.Status, code models.StatusCode, progress int) models.JobPatch {
	p := stagePatch(code, progress)
	p.Status = &status
	return p
}

// scaled maps done/total onto [from, from+span].
func scaled(from, span, done, total int) int {
	if total <= 0 {
		return from
	}
	return from + done*span/total
}

// dialogueErrorCode picks the user-facing reason for a failed dialogue stage.
func dialogueErrorCode(err error) models.ErrorCode {
	switch apperr.CodeOf(err) {
	case apperr.LLMNotConfigured:
		return models.ErrLLMCredentialMissing
	case apperr.LLMAuthFailed, apperr.LLMRateLimited, apperr.LLMAPIError, apperr.LLMInvalidResponse:
		return models.ErrLLMProvider
	}
	return models.ErrDialogueGeneration
}

// provider resolves the LLM for a job: request override, then job metadata,
// then the configured default.
func (m *Manager) provider(meta models.JobMetadata, name, apiKey string) llm.Provider {
	if name == "" {
		name = meta.Provider
	}
	if apiKey == "" {
		apiKey = meta.APIKey
	}
	return m.llms.Provider(name, apiKey)
}

func (m *Manager) synthesizer(p llm.Provider) *dialogue.Synthesizer {
	cfg := dialogue.DefaultSynthesizerConfig()
	if m.cfg.MaxRetries > 0 {
		cfg.MaxRetries = m.cfg.MaxRetries
	}
	if m.cfg.RetryDelay > 0 {
		cfg.RetryDelay = m.cfg.RetryDelay
	}
	return dialogue.NewSynthesizer(p, cfg)
}

func namesOf(meta models.JobMetadata) dialogue.Names {
	return dialogue.Names{Speaker1: meta.Speakers.Speaker1.Name, Speaker2: meta.Speakers.Speaker2.Name}
}

func durationOf(meta models.JobMetadata, fallback int) float64 {
	if meta.TargetDuration > 0 {
		return float64(meta.TargetDuration)
	}
	return float64(fallback)
}

// styleInstruction is the steering text derived from the chosen conversation style.
func styleInstruction(meta models.JobMetadata) string {
	if meta.ConversationStylePrompt != "" {
		return meta.ConversationStylePrompt
	}
	return meta.ConversationStyle
}
