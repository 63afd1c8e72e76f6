package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/dialogue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm/llmtest"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

func TestCreateRejectsNonPDFBeforeRecording(t *testing.T) {
	h := newHarness(t, dialogueLLM())

	_, err := h.m.Create(context.Background(), Upload{Filename: "notes.docx", File: strings.NewReader("x")})
	assert.True(t, apperr.IsCode(err, apperr.UnsupportedFormat))

	jobs, err := h.m.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCreateRejectsInvalidPDF(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	h.m.pageCount = func(string) (int, error) {
		return 0, apperr.New(apperr.UnsupportedFormat, "broken")
	}

	_, err := h.m.Create(context.Background(), Upload{Filename: "deck.pdf", File: strings.NewReader("junk")})
	assert.True(t, apperr.IsCode(err, apperr.UnsupportedFormat))
	jobs, _ := h.m.List(context.Background())
	assert.Empty(t, jobs)
}

func TestUploadRunReachesSlidesReady(t *testing.T) {
	h := newHarness(t, dialogueLLM())

	job := h.upload(t)

	assert.Equal(t, models.StatusSlidesReady, job.Status)
	assert.Equal(t, models.CodeDialogueCompleted, job.StatusCode)
	assert.Equal(t, 60, job.Progress)
	assert.Equal(t, 3, job.SlideCount)
	assert.Empty(t, job.ErrorCode)
	assert.Greater(t, job.EstimatedDuration, 0.0)

	script, err := h.m.Dialogue(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.True(t, script.HasSlides(3))

	progress := h.events.progress(job.JobID)
	assert.True(t, nonDecreasing(progress), "progress went backwards: %v", progress)
	assert.Contains(t, progress, 25)
	assert.Contains(t, h.events.codes(job.JobID), models.CodePDFCompleted)
	assert.Contains(t, h.events.codes(job.JobID), models.CodeDialogueProcessing)
}

func TestUploadRunWithoutCredentialFails(t *testing.T) {
	h := newHarness(t, llm.Unavailable{Kind: llm.OpenAI, Reason: "openai is not configured"})

	job := h.upload(t)

	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, models.CodeFailed, job.StatusCode)
	assert.Equal(t, models.ErrLLMCredentialMissing, job.ErrorCode)
	// Progress is not rolled back on failure.
	assert.Equal(t, 30, job.Progress)
}

func TestDialogueErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorCode
	}{
		{"missing key", apperr.New(apperr.LLMNotConfigured, "no key"), models.ErrLLMCredentialMissing},
		{"rejected key", apperr.New(apperr.LLMAuthFailed, "401"), models.ErrLLMProvider},
		{"rate limited", &dialogue.SlideError{Slide: 2, Err: apperr.New(apperr.LLMRateLimited, "429")}, models.ErrLLMProvider},
		{"too short", &dialogue.SlideError{Slide: 1, Err: dialogue.ErrInsufficientDialogue}, models.ErrDialogueGeneration},
		{"other", errors.New("boom"), models.ErrDialogueGeneration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dialogueErrorCode(tt.err))
		})
	}
}

func TestGenerateDialogueGates(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	ctx := context.Background()
	require.NoError(t, h.store.Create(ctx, models.Job{JobID: "p1", Status: models.StatusPending}))

	err := h.m.GenerateDialogue(ctx, "p1", models.GenerateDialogueRequest{})
	assert.True(t, apperr.IsCode(err, apperr.FailedPrecondition))

	err = h.m.GenerateDialogue(ctx, "missing", models.GenerateDialogueRequest{})
	assert.True(t, apperr.IsCode(err, apperr.NotFound))
}

func TestSecondOperationWhileRunningConflicts(t *testing.T) {
	release := make(chan struct{})
	p := dialogueLLM()
	inner := p.Fallback
	p.Fallback = func(req llm.Request) (string, error) {
		<-release
		return inner(req)
	}
	h := newHarness(t, p)
	ctx := context.Background()

	job, err := h.m.Create(ctx, Upload{Filename: "deck.pdf", File: strings.NewReader("%PDF"), Metadata: models.JobMetadata{TargetDuration: 1}})
	require.NoError(t, err)
	require.True(t, h.m.IsRunning(job.JobID))

	err = h.m.GenerateVideo(ctx, job.JobID)
	assert.True(t, apperr.IsCode(err, apperr.Conflict))
	assert.True(t, apperr.IsCode(h.m.Delete(ctx, job.JobID), apperr.Conflict))

	close(release)
	job = h.wait(t, job.JobID)
	assert.Equal(t, models.StatusSlidesReady, job.Status)
}

func TestRegenerateChangesOnlyTargetsAndRecordsHistory(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	ctx := context.Background()
	job := h.upload(t)
	before, err := h.m.Dialogue(ctx, job.JobID)
	require.NoError(t, err)
	mark := len(h.events.progress(job.JobID))

	require.NoError(t, h.m.GenerateDialogue(ctx, job.JobID, models.GenerateDialogueRequest{
		AdditionalPrompt: "もっと短く",
		SlideNumbers:     []int{2, 99},
	}))
	job = h.wait(t, job.JobID)

	assert.Equal(t, models.StatusDialogueReady, job.Status)
	assert.Equal(t, 60, job.Progress)
	after, err := h.m.Dialogue(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, before["slide_1"], after["slide_1"])
	assert.Equal(t, before["slide_3"], after["slide_3"])
	assert.NotEqual(t, before["slide_2"], after["slide_2"])

	history, err := h.m.History(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, history.Slide(2), 1)
	assert.Equal(t, "もっと短く", history.Slide(2)[0].Instruction)
	assert.Empty(t, history.Slide(1))

	run := h.events.progress(job.JobID)[mark:]
	assert.Equal(t, 30, run[0])
	assert.True(t, nonDecreasing(run), "progress went backwards: %v", run)
}

func TestSaveDialogueResetsAudio(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	ctx := context.Background()
	job := h.upload(t)

	require.NoError(t, h.m.GenerateAudio(ctx, job.JobID, models.DefaultAudioRequest()))
	job = h.wait(t, job.JobID)
	require.Equal(t, models.StatusAudioReady, job.Status)
	clips, _ := h.m.Workspace().SlideClips(job.JobID, 1)
	require.NotEmpty(t, clips)

	script := dialogue.Script{
		"slide_1": {{Speaker: dialogue.Speaker1, Text: "こんにちは"}},
		"slide_2": {{Speaker: dialogue.Speaker2, Text: "よろしくなのだ"}},
		"slide_3": {},
	}
	est, err := h.m.SaveDialogue(ctx, job.JobID, script)
	require.NoError(t, err)
	assert.Equal(t, dialogue.EstimateDuration(script), est.Seconds)
	assert.NotEmpty(t, est.Formatted)

	job, _ = h.m.Get(ctx, job.JobID)
	assert.Equal(t, models.StatusDialogueReady, job.Status)
	assert.Equal(t, models.CodeDialogueCompleted, job.StatusCode)
	clips, _ = h.m.Workspace().SlideClips(job.JobID, 1)
	assert.Empty(t, clips)
}

func TestSaveDialogueRejectsUnknownSlides(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	job := h.upload(t)

	_, err := h.m.SaveDialogue(context.Background(), job.JobID, dialogue.Script{
		"slide_7": {{Speaker: dialogue.Speaker1, Text: "x"}},
	})
	assert.True(t, apperr.IsCode(err, apperr.InvalidArgument))
}

func TestCSVRoundTripThroughJob(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	ctx := context.Background()
	job := h.upload(t)
	before, err := h.m.Dialogue(ctx, job.JobID)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, h.m.ExportCSV(ctx, job.JobID, &buf))
	_, err = h.m.ImportCSV(ctx, job.JobID, buf.Bytes())
	require.NoError(t, err)

	after, err := h.m.Dialogue(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestImportanceDefaultsToUniform(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	ctx := context.Background()
	job := h.upload(t)

	imp, err := h.m.Importance(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, dialogue.UniformImportance(3), imp)

	err = h.m.SetImportance(ctx, job.JobID, dialogue.Importance{1: 2, 2: 0})
	assert.True(t, apperr.IsCode(err, apperr.InvalidArgument))

	require.NoError(t, h.m.SetImportance(ctx, job.JobID, dialogue.Importance{1: 2, 2: 1, 3: 0.5}))
	imp, err = h.m.Importance(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, imp[1])
}

func TestOneClickProducesVideo(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	ctx := context.Background()
	job, err := h.m.Create(ctx, Upload{Filename: "deck.pdf", File: strings.NewReader("%PDF"), Metadata: models.JobMetadata{TargetDuration: 1}})
	require.NoError(t, err)
	job = h.wait(t, job.JobID)
	mark := len(h.events.progress(job.JobID))

	require.NoError(t, h.m.GenerateVideo(ctx, job.JobID))
	job = h.wait(t, job.JobID)

	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, models.CodeCompleted, job.StatusCode)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "/api/jobs/"+job.JobID+"/download", job.ResultURL)
	assert.Equal(t, "nats://videos/"+job.JobID+".mp4", job.ArtifactURI)
	assert.Len(t, h.composer.last().Slides, 3)

	run := h.events.progress(job.JobID)[mark:]
	assert.Equal(t, 10, run[0])
	assert.Contains(t, run, 20)
	assert.Contains(t, run, 85)
	assert.True(t, nonDecreasing(run), "progress went backwards: %v", run)

	path, err := h.m.VideoFile(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, h.m.Workspace().OutputVideo(job.JobID), path)
}

func TestCreateVideoSubsetOfSlides(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	ctx := context.Background()
	job := h.upload(t)

	err := h.m.CreateVideo(ctx, job.JobID, nil)
	assert.True(t, apperr.IsCode(err, apperr.FailedPrecondition))

	require.NoError(t, h.m.GenerateAudio(ctx, job.JobID, models.DefaultAudioRequest()))
	job = h.wait(t, job.JobID)
	assert.Equal(t, 85, job.Progress)
	assert.Equal(t, models.CodeAudioCompleted, job.StatusCode)

	require.NoError(t, h.m.CreateVideo(ctx, job.JobID, []int{2, 9}))
	job = h.wait(t, job.JobID)
	assert.Equal(t, models.StatusCompleted, job.Status)

	req := h.composer.last()
	require.Len(t, req.Slides, 1)
	assert.Equal(t, 2, req.Slides[0].Number)
	assert.NotEmpty(t, req.Slides[0].Clips)
}

func TestVideoFileRequiresCompletedJob(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	job := h.upload(t)

	_, err := h.m.VideoFile(context.Background(), job.JobID)
	assert.True(t, apperr.IsCode(err, apperr.FailedPrecondition))
}

func TestDeleteRemovesRecordAndFiles(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	ctx := context.Background()
	job := h.upload(t)

	require.NoError(t, h.m.Delete(ctx, job.JobID))
	_, err := h.m.Get(ctx, job.JobID)
	assert.True(t, apperr.IsCode(err, apperr.NotFound))
	images, _ := h.m.Workspace().SlideImages(job.JobID)
	assert.Empty(t, images)
}

func TestMetadataHidesAPIKey(t *testing.T) {
	h := newHarness(t, dialogueLLM())
	ctx := context.Background()
	job, err := h.m.Create(ctx, Upload{
		Filename: "deck.pdf",
		File:     strings.NewReader("%PDF"),
		Metadata: models.JobMetadata{APIKey: "sk-secret", Provider: "openai"},
	})
	require.NoError(t, err)
	h.wait(t, job.JobID)

	meta, err := h.m.Metadata(ctx, job.JobID)
	require.NoError(t, err)
	assert.Empty(t, meta.APIKey)
	assert.Equal(t, "deck.pdf", meta.OriginalFilename)
	assert.Equal(t, models.DefaultSpeakers(), meta.Speakers)
	assert.Equal(t, 1, meta.TargetDuration)
}

var _ llm.Provider = (*llmtest.Scripted)(nil)
