package jobs

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/dialogue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
	"github.com/nomadcafe/kekiai-japaneseai/internal/workspace"
)

func notFound(err error, msg string) error {
	if workspace.IsNotExist(err) {
		return apperr.Wrap(err, apperr.NotFound, msg)
	}
	return apperr.Wrap(err, apperr.Internal, msg)
}

// Dialogue returns the stored script.
func (m *Manager) Dialogue(ctx context.Context, id string) (dialogue.Script, error) {
	if _, err := m.store.Get(ctx, id); err != nil {
		return nil, err
	}
	script, err := m.ws.LoadDialogue(id)
	if err != nil {
		return nil, notFound(err, "対話スクリプトが見つかりません")
	}
	return script, nil
}

// SaveDialogue replaces the script with an edited one. Audio rendered from
// the old script is deleted.
func (m *Manager) SaveDialogue(ctx context.Context, id string, script dialogue.Script) (models.DurationEstimate, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return models.DurationEstimate{}, err
	}
	if m.IsRunning(id) {
		return models.DurationEstimate{}, apperr.Newf(apperr.Conflict, "job %s has a running task", id)
	}
	if err := validateScript(script, job.SlideCount); err != nil {
		return models.DurationEstimate{}, err
	}
	if err := m.ws.SaveDialogue(id, script); err != nil {
		return models.DurationEstimate{}, apperr.Wrap(err, apperr.Internal, "failed to save dialogue")
	}
	if err := m.ws.ClearAudio(id); err != nil {
		return models.DurationEstimate{}, apperr.Wrap(err, apperr.Internal, "failed to remove stale audio")
	}

	seconds := dialogue.EstimateDuration(script)
	patch := models.JobPatch{
		Status:            models.Ptr(models.StatusDialogueReady),
		StatusCode:        models.Ptr(models.CodeDialogueCompleted),
		EstimatedDuration: &seconds,
		ClearError:        true,
	}
	if _, err := m.update(ctx, id, patch); err != nil {
		return models.DurationEstimate{}, err
	}
	return models.DurationEstimate{Seconds: seconds, Formatted: dialogue.FormatDuration(seconds)}, nil
}

// validateScript accepts only slide_<n> keys within the deck and utterances
// with a known speaker.
func validateScript(script dialogue.Script, slideCount int) error {
	if len(script) == 0 || script.UtteranceCount() == 0 {
		return apperr.New(apperr.InvalidArgument, "有効な対話データが含まれていません")
	}
	for key, utterances := range script {
		n, ok := dialogue.SlideNumber(key)
		if !ok || n < 1 || (slideCount > 0 && n > slideCount) {
			return apperr.Newf(apperr.InvalidArgument, "invalid slide key %q", key)
		}
		for i, u := range utterances {
			if u.Speaker != dialogue.Speaker1 && u.Speaker != dialogue.Speaker2 {
				return apperr.Newf(apperr.InvalidArgument, "%s[%d]: unknown speaker %q", key, i, u.Speaker)
			}
		}
	}
	return nil
}

// ExportCSV writes the script as CSV using the job's speaker names.
func (m *Manager) ExportCSV(ctx context.Context, id string, w io.Writer) error {
	script, err := m.Dialogue(ctx, id)
	if err != nil {
		return err
	}
	meta, err := m.ws.LoadMetadata(id)
	if err != nil && !workspace.IsNotExist(err) {
		return apperr.Wrap(err, apperr.Internal, "failed to read job metadata")
	}
	return dialogue.WriteCSV(w, script, namesOf(meta))
}

// ImportCSV parses an uploaded CSV script and saves it like an edit.
func (m *Manager) ImportCSV(ctx context.Context, id string, data []byte) (models.DurationEstimate, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return models.DurationEstimate{}, err
	}
	meta, err := m.ws.LoadMetadata(id)
	if err != nil && !workspace.IsNotExist(err) {
		return models.DurationEstimate{}, apperr.Wrap(err, apperr.Internal, "failed to read job metadata")
	}
	script, err := dialogue.ReadCSV(data, namesOf(meta), job.SlideCount)
	if err != nil {
		return models.DurationEstimate{}, err
	}
	return m.SaveDialogue(ctx, id, script)
}

// Importance returns the stored map, or uniform weights when none was set.
func (m *Manager) Importance(ctx context.Context, id string) (dialogue.Importance, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	imp, err := m.ws.LoadImportance(id)
	if err != nil {
		if !workspace.IsNotExist(err) {
			return nil, apperr.Wrap(err, apperr.Internal, "failed to read importance map")
		}
		return dialogue.UniformImportance(job.SlideCount), nil
	}
	return imp, nil
}

func (m *Manager) SetImportance(ctx context.Context, id string, imp dialogue.Importance) error {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := imp.Validate(); err != nil {
		return apperr.Wrap(err, apperr.InvalidArgument, "invalid importance map")
	}
	for n := range imp {
		if job.SlideCount > 0 && n > job.SlideCount {
			return apperr.Newf(apperr.InvalidArgument, "slide %d out of range", n)
		}
	}
	if err := m.ws.SaveImportance(id, imp); err != nil {
		return apperr.Wrap(err, apperr.Internal, "failed to save importance map")
	}
	return nil
}

func (m *Manager) VideoSettings(ctx context.Context, id string) (models.VideoSettings, error) {
	if _, err := m.store.Get(ctx, id); err != nil {
		return models.VideoSettings{}, err
	}
	settings, err := m.ws.LoadVideoSettings(id)
	if err != nil {
		return settings, apperr.Wrap(err, apperr.Internal, "failed to read video settings")
	}
	return settings, nil
}

func (m *Manager) SetVideoSettings(ctx context.Context, id string, settings models.VideoSettings) error {
	if _, err := m.store.Get(ctx, id); err != nil {
		return err
	}
	if settings.BGMVolume < 0 || settings.BGMVolume > 1 {
		return apperr.New(apperr.InvalidArgument, "bgm_volume must be between 0 and 1")
	}
	if settings.TransitionDuration < 0 {
		return apperr.New(apperr.InvalidArgument, "transition_duration must not be negative")
	}
	if err := m.ws.SaveVideoSettings(id, settings); err != nil {
		return apperr.Wrap(err, apperr.Internal, "failed to save video settings")
	}
	return nil
}

func (m *Manager) Metadata(ctx context.Context, id string) (models.JobMetadata, error) {
	if _, err := m.store.Get(ctx, id); err != nil {
		return models.JobMetadata{}, err
	}
	meta, err := m.ws.LoadMetadata(id)
	if err != nil {
		return meta, notFound(err, "メタデータが見つかりません")
	}
	// The key is write-only.
	meta.APIKey = ""
	return meta, nil
}

func (m *Manager) History(ctx context.Context, id string) (dialogue.History, error) {
	if _, err := m.store.Get(ctx, id); err != nil {
		return nil, err
	}
	h, err := m.ws.LoadHistory(id)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "failed to read instruction history")
	}
	return h, nil
}

// Slides lists the rendered slide images with their API URLs.
func (m *Manager) Slides(ctx context.Context, id string) ([]models.SlideInfo, error) {
	if _, err := m.store.Get(ctx, id); err != nil {
		return nil, err
	}
	images, err := m.ws.SlideImages(id)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "failed to list slides")
	}
	if len(images) == 0 {
		return nil, apperr.New(apperr.NotFound, "スライドが見つかりません")
	}
	out := make([]models.SlideInfo, len(images))
	for i := range images {
		out[i] = models.SlideInfo{Number: i + 1, URL: fmt.Sprintf("/api/jobs/%s/slides/%d", id, i+1)}
	}
	return out, nil
}

// SlideImage returns the path of slide n's PNG.
func (m *Manager) SlideImage(ctx context.Context, id string, n int) (string, error) {
	if _, err := m.store.Get(ctx, id); err != nil {
		return "", err
	}
	p := m.ws.SlideImage(id, n)
	if _, err := os.Stat(p); err != nil {
		return "", notFound(err, "スライド画像が見つかりません")
	}
	return p, nil
}

// VideoFile returns the finished video of a completed job.
func (m *Manager) VideoFile(ctx context.Context, id string) (string, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != models.StatusCompleted {
		return "", apperr.New(apperr.FailedPrecondition, "動画がまだ生成されていません")
	}
	p := m.ws.OutputVideo(id)
	if _, err := os.Stat(p); err != nil {
		return "", notFound(err, "動画ファイルが見つかりません")
	}
	return p, nil
}
