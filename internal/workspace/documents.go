package workspace

import (
	"github.com/nomadcafe/kekiai-japaneseai/internal/dialogue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

func (w *Workspace) SaveMetadata(id string, meta models.JobMetadata) error {
	return WriteJSON(w.metadataPath(id), meta)
}

func (w *Workspace) LoadMetadata(id string) (models.JobMetadata, error) {
	var meta models.JobMetadata
	err := ReadJSON(w.metadataPath(id), &meta)
	return meta, err
}

func (w *Workspace) SaveSlideTexts(id string, texts []string) error {
	return WriteJSON(w.dataFile(id, "slide_texts.json"), texts)
}

func (w *Workspace) LoadSlideTexts(id string) ([]string, error) {
	var texts []string
	err := ReadJSON(w.dataFile(id, "slide_texts.json"), &texts)
	return texts, err
}

func (w *Workspace) SaveDialogue(id string, script dialogue.Script) error {
	return WriteJSON(w.dataFile(id, "dialogue.json"), script)
}

func (w *Workspace) LoadDialogue(id string) (dialogue.Script, error) {
	var script dialogue.Script
	err := ReadJSON(w.dataFile(id, "dialogue.json"), &script)
	return script, err
}

func (w *Workspace) SaveImportance(id string, imp dialogue.Importance) error {
	return WriteJSON(w.dataFile(id, "slide_importance.json"), imp)
}

func (w *Workspace) LoadImportance(id string) (dialogue.Importance, error) {
	var imp dialogue.Importance
	err := ReadJSON(w.dataFile(id, "slide_importance.json"), &imp)
	return imp, err
}

// LoadHistory returns an empty history when none was recorded yet.
func (w *Workspace) LoadHistory(id string) (dialogue.History, error) {
	h := dialogue.History{}
	if err := ReadJSON(w.dataFile(id, "instruction_history.json"), &h); err != nil && !IsNotExist(err) {
		return nil, err
	}
	return h, nil
}

func (w *Workspace) SaveHistory(id string, h dialogue.History) error {
	return WriteJSON(w.dataFile(id, "instruction_history.json"), h)
}

// LoadVideoSettings falls back to the defaults when none were saved.
func (w *Workspace) LoadVideoSettings(id string) (models.VideoSettings, error) {
	settings := models.DefaultVideoSettings()
	if err := ReadJSON(w.dataFile(id, "video_settings.json"), &settings); err != nil && !IsNotExist(err) {
		return settings, err
	}
	return settings, nil
}

func (w *Workspace) SaveVideoSettings(id string, settings models.VideoSettings) error {
	return WriteJSON(w.dataFile(id, "video_settings.json"), settings)
}
