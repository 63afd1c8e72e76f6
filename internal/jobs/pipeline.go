package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nomadcafe/kekiai-japaneseai/internal/dialogue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
	"github.com/nomadcafe/kekiai-japaneseai/internal/tts"
	"github.com/nomadcafe/kekiai-japaneseai/internal/video"
	"github.com/nomadcafe/kekiai-japaneseai/internal/workspace"
)

// dialoguePlan places a synthesis stage on the progress scale.
type dialoguePlan struct {
	from, span int // synthesis reports from..from+span
	refineAt   int
	done       int
	final      models.Status
}

var (
	uploadDialogue   = dialoguePlan{from: 30, span: 25, refineAt: 55, done: 60, final: models.StatusSlidesReady}
	requestDialogue  = dialoguePlan{from: 30, span: 25, refineAt: 55, done: 60, final: models.StatusDialogueReady}
	oneClickDialogue = dialoguePlan{from: 25, span: 35, refineAt: 60, done: 60, final: models.StatusDialogueReady}
)

type videoPlan struct {
	from, encoding, finalizing int
}

var (
	requestVideo  = videoPlan{from: 90, encoding: 92, finalizing: 96}
	oneClickVideo = videoPlan{from: 80, encoding: 85, finalizing: 95}
)

// llmOverride is a per-request provider choice.
type llmOverride struct {
	Provider string
	APIKey   string
}

func downloadURL(id string) string { return "/api/jobs/" + id + "/download" }

// uploadRun is the pipeline started by a new upload: extraction, synthesis
// and refinement.
func (m *Manager) uploadRun(ctx context.Context, r *run) error {
	if _, err := m.prepareSlides(ctx, r, false); err != nil {
		return err
	}
	return m.synthesize(ctx, r, uploadDialogue, llmOverride{}, "")
}

// oneClickRun produces the video from whatever the job already has.
func (m *Manager) oneClickRun(ctx context.Context, r *run) error {
	texts, err := m.prepareSlides(ctx, r, true)
	if err != nil {
		return err
	}
	script, err := m.ws.LoadDialogue(r.id)
	if err != nil || !script.HasSlides(len(texts)) {
		if err := m.synthesize(ctx, r, oneClickDialogue, llmOverride{}, ""); err != nil {
			return err
		}
	} else {
		r.logCtx.Info("Reusing existing dialogue.")
		r.step(ctx, stagePatch(models.CodeDialogueCompleted, oneClickDialogue.done))
	}
	if err := m.renderAudio(ctx, r, 60, 80, models.DefaultAudioRequest()); err != nil {
		return err
	}
	return m.renderVideo(ctx, r, nil, oneClickVideo)
}

// existingSlides returns the stored slide texts when every slide image is
// also present.
func (m *Manager) existingSlides(id string) ([]string, bool) {
	texts, err := m.ws.LoadSlideTexts(id)
	if err != nil || len(texts) == 0 {
		return nil, false
	}
	images, err := m.ws.SlideImages(id)
	if err != nil || len(images) < len(texts) {
		return nil, false
	}
	return texts, true
}

// prepareSlides renders slide images and extracts their text. With reuse set,
// previously extracted slides are kept.
func (m *Manager) prepareSlides(ctx context.Context, r *run, reuse bool) ([]string, error) {
	r.step(ctx, statusPatch(models.StatusProcessing, models.CodePDFProcessing, 10))
	done := 25
	if reuse {
		done = 20
		if texts, ok := m.existingSlides(r.id); ok {
			r.logCtx.Info("Reusing extracted slides.", "slides", len(texts))
			r.step(ctx, stagePatch(models.CodePDFCompleted, done))
			return texts, nil
		}
		r.step(ctx, stagePatch(models.CodePDFGeneratingSlides, 15))
	}
	if m.slides == nil {
		return nil, r.fail(ctx, models.ErrPDFProcessing, "no slide extractor configured", fmt.Errorf("job %s", r.id))
	}

	pdf := m.ws.SourcePDF(r.id)
	pages, err := m.pageCount(pdf)
	if err != nil {
		return nil, r.fail(ctx, models.ErrPDFProcessing, "failed to validate PDF", err)
	}
	rendered, err := m.slides.Render(ctx, pdf, m.ws.SlidesDir(r.id))
	if err != nil {
		return nil, r.fail(ctx, models.ErrPDFProcessing, "failed to render slides", err)
	}
	if rendered != pages {
		r.logCtx.Warn("Rendered slide count differs from page count.", "rendered", rendered, "pages", pages)
	}
	texts, err := m.slides.Texts(ctx, pdf, pages)
	if err != nil {
		return nil, r.fail(ctx, models.ErrPDFProcessing, "failed to extract slide text", err)
	}
	if err := m.ws.SaveSlideTexts(r.id, texts); err != nil {
		return nil, r.fail(ctx, models.ErrPDFProcessing, "failed to save slide text", err)
	}

	patch := stagePatch(models.CodePDFCompleted, done)
	patch.SlideCount = models.Ptr(len(texts))
	patch.ClearError = true
	r.step(ctx, patch)
	r.logCtx.Info("PDF processed.", "pages", pages)
	return texts, nil
}

// importance returns the stored map, the analyzer's weights when enabled, or
// nil for uniform pacing.
func (m *Manager) importance(ctx context.Context, r *run, texts []string, instruction string, p llm.Provider) dialogue.Importance {
	imp, err := m.ws.LoadImportance(r.id)
	if err == nil && len(imp) > 0 {
		return imp
	}
	if err != nil && !workspace.IsNotExist(err) {
		r.logCtx.Warn("Ignoring unreadable importance map.", "error", err)
	}
	if m.cfg.WeightedImportance {
		return dialogue.NewImportanceAnalyzer(p).Analyze(ctx, texts, instruction)
	}
	return nil
}

// synthesize writes a complete script for every slide and refines it.
// extra is appended to the job's conversation style instruction.
func (m *Manager) synthesize(ctx context.Context, r *run, plan dialoguePlan, o llmOverride, extra string) error {
	texts, err := m.ws.LoadSlideTexts(r.id)
	if err != nil {
		return r.fail(ctx, models.ErrDialogueGeneration, "failed to load slide text", err)
	}
	meta, err := m.ws.LoadMetadata(r.id)
	if err != nil {
		return r.fail(ctx, models.ErrDialogueGeneration, "failed to load job metadata", err)
	}
	p := m.provider(meta, o.Provider, o.APIKey)
	names := namesOf(meta)
	instruction := strings.TrimSpace(strings.Join([]string{styleInstruction(meta), extra}, "\n"))

	r.step(ctx, statusPatch(models.StatusGeneratingDialogue, models.CodeDialogueGenerating, plan.from))
	script, err := m.synthesizer(p).Synthesize(ctx, dialogue.Input{
		Slides:          texts,
		Importance:      m.importance(ctx, r, texts, instruction, p),
		DurationMinutes: durationOf(meta, m.cfg.DefaultDuration),
		Names:           names,
		Instruction:     instruction,
		Knowledge:       meta.AdditionalKnowledge,
		Progress: func(done, total int) {
			r.step(ctx, stagePatch(models.CodeDialogueGenerating, scaled(plan.from, plan.span, done, total)))
		},
	})
	if err != nil {
		return r.fail(ctx, dialogueErrorCode(err), "dialogue synthesis failed", err)
	}

	r.step(ctx, stagePatch(models.CodeDialogueProcessing, plan.refineAt))
	script, err = dialogue.NewRefiner(p, dialogue.DefaultRefinerConfig()).Refine(ctx, script, names, "")
	if err != nil {
		return r.fail(ctx, dialogueErrorCode(err), "dialogue refinement failed", err)
	}
	return m.commitDialogue(ctx, r, script, plan)
}

// regenerate rewrites the slides named by req, or chosen from its prompt,
// and records the prompt in the instruction history.
func (m *Manager) regenerate(ctx context.Context, r *run, req models.GenerateDialogueRequest) error {
	existing, err := m.ws.LoadDialogue(r.id)
	if err != nil {
		r.logCtx.Warn("No dialogue to regenerate, synthesizing from scratch.", "error", err)
		return m.synthesize(ctx, r, requestDialogue, llmOverride{req.Provider, req.APIKey}, req.AdditionalPrompt)
	}
	texts, err := m.ws.LoadSlideTexts(r.id)
	if err != nil {
		return r.fail(ctx, models.ErrDialogueGeneration, "failed to load slide text", err)
	}
	meta, err := m.ws.LoadMetadata(r.id)
	if err != nil {
		return r.fail(ctx, models.ErrDialogueGeneration, "failed to load job metadata", err)
	}
	history, err := m.ws.LoadHistory(r.id)
	if err != nil {
		r.logCtx.Warn("Ignoring unreadable instruction history.", "error", err)
		history = dialogue.History{}
	}
	p := m.provider(meta, req.Provider, req.APIKey)
	plan := requestDialogue

	r.step(ctx, statusPatch(models.StatusGeneratingDialogue, models.CodeDialogueGenerating, plan.from))
	regen := dialogue.NewRegenerator(m.synthesizer(p), p)
	targets := inRange(req.SlideNumbers, len(texts))
	if len(targets) == 0 {
		targets = regen.SelectSlides(ctx, req.AdditionalPrompt, len(texts))
	}
	r.logCtx.Info("Regenerating slides.", "slides", targets)

	script, err := regen.Regenerate(ctx, dialogue.RegenerateInput{
		Slides:          texts,
		Existing:        existing,
		SlideNumbers:    targets,
		Instruction:     req.AdditionalPrompt,
		History:         history,
		Importance:      m.importance(ctx, r, texts, req.AdditionalPrompt, p),
		DurationMinutes: durationOf(meta, m.cfg.DefaultDuration),
		Names:           namesOf(meta),
		Knowledge:       meta.AdditionalKnowledge,
		Progress: func(done, total int) {
			r.step(ctx, stagePatch(models.CodeDialogueGenerating, scaled(plan.from, plan.span, done, total)))
		},
	})
	if err != nil {
		return r.fail(ctx, dialogueErrorCode(err), "dialogue regeneration failed", err)
	}

	history.Add(targets, req.AdditionalPrompt, m.now())
	if err := m.ws.SaveHistory(r.id, history); err != nil {
		r.logCtx.Warn("Failed to save instruction history.", "error", err)
	}
	return m.commitDialogue(ctx, r, script, plan)
}

// commitDialogue persists script, drops audio rendered from the previous
// script and records the duration estimate.
func (m *Manager) commitDialogue(ctx context.Context, r *run, script dialogue.Script, plan dialoguePlan) error {
	if err := m.ws.SaveDialogue(r.id, script); err != nil {
		return r.fail(ctx, models.ErrDialogueGeneration, "failed to save dialogue", err)
	}
	if err := m.ws.ClearAudio(r.id); err != nil {
		r.logCtx.Warn("Failed to remove stale audio.", "error", err)
	}
	patch := statusPatch(plan.final, models.CodeDialogueCompleted, plan.done)
	patch.EstimatedDuration = models.Ptr(dialogue.EstimateDuration(script))
	patch.ClearError = true
	r.step(ctx, patch)
	r.logCtx.Info("Dialogue saved.", "utterances", script.UtteranceCount(), "estimatedSeconds", *patch.EstimatedDuration)
	return nil
}

// renderAudio synthesizes every utterance of the stored script, reporting
// progress between from and to.
func (m *Manager) renderAudio(ctx context.Context, r *run, from, to int, scales models.GenerateAudioRequest) error {
	if m.speech == nil {
		return r.fail(ctx, models.ErrAudioGeneration, "no speech engine configured", fmt.Errorf("job %s", r.id))
	}
	script, err := m.ws.LoadDialogue(r.id)
	if err != nil {
		return r.fail(ctx, models.ErrAudioGeneration, "failed to load dialogue", err)
	}
	meta, err := m.ws.LoadMetadata(r.id)
	if err != nil {
		return r.fail(ctx, models.ErrAudioGeneration, "failed to load job metadata", err)
	}
	speakers := meta.Speakers
	if speakers == (models.Speakers{}) {
		speakers = models.DefaultSpeakers()
	}

	r.step(ctx, statusPatch(models.StatusGeneratingAudio, models.CodeAudioGenerating, from))
	if err := m.ws.ClearAudio(r.id); err != nil {
		return r.fail(ctx, models.ErrAudioGeneration, "failed to clear previous audio", err)
	}
	clips := tts.Plan(script, func(slide, index int, role string) string {
		return m.ws.AudioClip(r.id, slide, index, role)
	})
	n, err := m.speech.Generate(ctx, clips, speakers, scales, func(done, total int) {
		r.step(ctx, stagePatch(models.CodeAudioGenerating, scaled(from, to-from, done, total)))
	})
	if err != nil {
		return r.fail(ctx, models.ErrAudioGeneration, "audio generation failed", err)
	}

	patch := statusPatch(models.StatusAudioReady, models.CodeAudioCompleted, to)
	patch.ClearError = true
	r.step(ctx, patch)
	r.logCtx.Info("Audio generated.", "clips", n)
	return nil
}

// renderVideo composes the selected slides (all when numbers is empty) with
// their audio and publishes the result.
func (m *Manager) renderVideo(ctx context.Context, r *run, numbers []int, plan videoPlan) error {
	if m.composer == nil {
		return r.fail(ctx, models.ErrVideoCreation, "no video composer configured", fmt.Errorf("job %s", r.id))
	}
	images, err := m.ws.SlideImages(r.id)
	if err != nil {
		return r.fail(ctx, models.ErrVideoCreation, "failed to list slide images", err)
	}
	settings, err := m.ws.LoadVideoSettings(r.id)
	if err != nil {
		return r.fail(ctx, models.ErrVideoCreation, "failed to load video settings", err)
	}
	selected := inRange(numbers, len(images))
	if len(selected) == 0 {
		selected = allSlides(len(images))
	}
	slides := make([]video.Slide, 0, len(selected))
	for _, n := range selected {
		clips, err := m.ws.SlideClips(r.id, n)
		if err != nil {
			return r.fail(ctx, models.ErrVideoCreation, "failed to list audio clips", err)
		}
		slides = append(slides, video.Slide{Number: n, Image: m.ws.SlideImage(r.id, n), Clips: clips})
	}

	r.step(ctx, statusPatch(models.StatusCreatingVideo, models.CodeVideoCreating, plan.from))
	output := m.ws.OutputVideo(r.id)
	duration, err := m.composer.Compose(ctx, video.Request{
		Slides:   slides,
		Settings: settings,
		Output:   output,
		WorkDir:  filepath.Join(m.ws.DataDir(r.id), "segments"),
	}, func(s video.Stage) {
		switch s {
		case video.StageEncoding:
			r.step(ctx, stagePatch(models.CodeVideoEncoding, plan.encoding))
		case video.StageFinalizing:
			r.step(ctx, stagePatch(models.CodeVideoFinalizing, plan.finalizing))
		}
	})
	if err != nil {
		return r.fail(ctx, models.ErrVideoCreation, "video creation failed", err)
	}

	patch := statusPatch(models.StatusCompleted, models.CodeCompleted, 100)
	patch.ResultURL = models.Ptr(downloadURL(r.id))
	patch.ClearError = true
	if m.sink != nil {
		uri, err := m.sink.Publish(ctx, r.id, output)
		if err != nil {
			r.logCtx.Warn("Failed to publish video artifact.", "error", err)
		} else {
			patch.ArtifactURI = &uri
		}
	}
	r.step(ctx, patch)
	r.logCtx.Info("Video created.", "slides", len(slides), "seconds", duration)
	return nil
}

// inRange keeps numbers within 1..total, in order and without repeats.
func inRange(numbers []int, total int) []int {
	var out []int
	seen := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		if n >= 1 && n <= total && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func allSlides(total int) []int {
	out := make([]int, total)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
