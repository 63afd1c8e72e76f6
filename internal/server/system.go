package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

// SpeakerStyle is one selectable VOICEVOX voice.
type SpeakerStyle struct {
	SpeakerName string `json:"speaker_name"`
	SpeakerUUID string `json:"speaker_uuid"`
	StyleName   string `json:"style_name"`
	StyleID     int    `json:"style_id"`
	DisplayName string `json:"display_name"`
}

type engineSpeaker struct {
	Name        string `json:"name"`
	SpeakerUUID string `json:"speaker_uuid"`
	Styles      []struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	} `json:"styles"`
}

// flattenSpeakers turns the engine catalogue into one entry per style.
func flattenSpeakers(raw json.RawMessage) ([]SpeakerStyle, error) {
	var speakers []engineSpeaker
	if err := json.Unmarshal(raw, &speakers); err != nil {
		return nil, fmt.Errorf("decode speakers: %w", err)
	}
	out := make([]SpeakerStyle, 0, len(speakers))
	for _, sp := range speakers {
		for _, st := range sp.Styles {
			out = append(out, SpeakerStyle{
				SpeakerName: sp.Name,
				SpeakerUUID: sp.SpeakerUUID,
				StyleName:   st.Name,
				StyleID:     st.ID,
				DisplayName: fmt.Sprintf("%s (%s)", sp.Name, st.Name),
			})
		}
	}
	return out, nil
}

func (s *Server) handleSpeakers(w http.ResponseWriter, r *http.Request) {
	if s.voices == nil {
		writeError(w, r, apperr.New(apperr.Unavailable, "VOICEVOX is not configured"))
		return
	}
	raw, err := s.voices.Speakers(r.Context())
	if err != nil {
		writeError(w, r, apperr.Wrap(err, apperr.Unavailable, "VOICEVOXに接続できません"))
		return
	}
	styles, err := flattenSpeakers(raw)
	if err != nil {
		writeError(w, r, apperr.Wrap(err, apperr.Unavailable, "unexpected VOICEVOX speaker list"))
		return
	}
	writeJSON(w, http.StatusOK, styles)
}

// SystemStatus summarizes load and dependency health.
type SystemStatus struct {
	RunningTasks      []string     `json:"running_tasks"`
	ActiveJobs        int          `json:"active_jobs"`
	TotalJobs         int          `json:"total_jobs"`
	WorkerCapacity    int          `json:"worker_capacity"`
	VoicevoxAvailable bool         `json:"voicevox_available"`
	LLMProviders      []llm.Status `json:"llm_providers"`
}

func inFlight(status models.Status) bool {
	switch status {
	case models.StatusProcessing, models.StatusGeneratingDialogue,
		models.StatusGeneratingAudio, models.StatusCreatingVideo:
		return true
	}
	return false
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := SystemStatus{
		RunningTasks:   s.jobs.Running(),
		TotalJobs:      len(list),
		WorkerCapacity: s.workers,
		LLMProviders:   []llm.Status{},
	}
	if status.RunningTasks == nil {
		status.RunningTasks = []string{}
	}
	for _, job := range list {
		if inFlight(job.Status) {
			status.ActiveJobs++
		}
	}
	if s.voices != nil {
		status.VoicevoxAvailable = s.voices.Available(r.Context())
	}
	if s.llms != nil {
		status.LLMProviders = s.llms.Statuses()
	}
	writeJSON(w, http.StatusOK, status)
}
