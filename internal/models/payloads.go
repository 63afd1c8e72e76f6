package models

// These structs define the JSON payloads of the job API and the documents
// stored in a job's working directory.

// Speaker is one of the two voices of the dialogue.
type Speaker struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Speed float64 `json:"speed"`
}

// Speakers maps the fixed roles to their configured voices.
type Speakers struct {
	Speaker1 Speaker `json:"speaker1"`
	Speaker2 Speaker `json:"speaker2"`
}

// DefaultSpeakers are used when an upload names no voices.
func DefaultSpeakers() Speakers {
	return Speakers{
		Speaker1: Speaker{ID: 2, Name: "四国めたん", Speed: 1.0},
		Speaker2: Speaker{ID: 3, Name: "ずんだもん", Speed: 1.0},
	}
}

// JobMetadata is stored as uploads/<id>/metadata.json.
type JobMetadata struct {
	OriginalFilename        string   `json:"original_filename"`
	TargetDuration          int      `json:"target_duration"`
	Speakers                Speakers `json:"speakers"`
	ConversationStyle       string   `json:"conversation_style,omitempty"`
	ConversationStylePrompt string   `json:"conversation_style_prompt,omitempty"`
	AdditionalKnowledge     string   `json:"additional_knowledge,omitempty"`
	KnowledgeFilename       string   `json:"knowledge_filename,omitempty"`
	Provider                string   `json:"provider,omitempty"`
	APIKey                  string   `json:"api_key,omitempty"`
}

// VideoSettings is stored as data/<id>/video_settings.json.
type VideoSettings struct {
	BGMEnabled         bool    `json:"bgm_enabled"`
	BGMPath            string  `json:"bgm_path,omitempty"`
	BGMVolume          float64 `json:"bgm_volume"`
	TransitionType     string  `json:"transition_type"`
	TransitionDuration float64 `json:"transition_duration"`
}

// DefaultVideoSettings returns the compositor defaults.
func DefaultVideoSettings() VideoSettings {
	return VideoSettings{BGMVolume: 0.15, TransitionType: "crossfade", TransitionDuration: 0.4}
}

// JobCreateResponse answers an upload or import.
type JobCreateResponse struct {
	JobID   string `json:"job_id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// ImportRequest asks the API to fetch a deck from GCS.
type ImportRequest struct {
	GCSUri string `json:"gcs_uri"`
	JobID  string `json:"job_id,omitempty"`
}

// GenerateDialogueRequest starts full synthesis or a regeneration.
type GenerateDialogueRequest struct {
	AdditionalPrompt string `json:"additional_prompt,omitempty"`
	SlideNumbers     []int  `json:"slide_numbers,omitempty"`
	Provider         string `json:"provider,omitempty"`
	APIKey           string `json:"api_key,omitempty"`
}

// GenerateAudioRequest carries the VOICEVOX scales.
type GenerateAudioRequest struct {
	SpeedScale      float64 `json:"speed_scale"`
	PitchScale      float64 `json:"pitch_scale"`
	IntonationScale float64 `json:"intonation_scale"`
	VolumeScale     float64 `json:"volume_scale"`
}

// DefaultAudioRequest returns the scales used when a request omits them.
func DefaultAudioRequest() GenerateAudioRequest {
	return GenerateAudioRequest{SpeedScale: 1.0, PitchScale: 0.0, IntonationScale: 1.2, VolumeScale: 1.0}
}

// CreateVideoRequest optionally restricts the video to some slides.
type CreateVideoRequest struct {
	SlideNumbers []int `json:"slide_numbers,omitempty"`
}

// DurationEstimate is the estimated narration length.
type DurationEstimate struct {
	Seconds   float64 `json:"seconds"`
	Formatted string  `json:"formatted"`
}

// MessageResponse is the generic acknowledgement body.
type MessageResponse struct {
	Message           string            `json:"message"`
	JobID             string            `json:"job_id,omitempty"`
	EstimatedDuration *DurationEstimate `json:"estimated_duration,omitempty"`
}

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// SlideInfo describes one rendered slide.
type SlideInfo struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// JobEvent is published on every job record change.
type JobEvent struct {
	Type string `json:"type"`
	Job  Job    `json:"job"`
}
