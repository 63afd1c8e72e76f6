package models

import "time"

// Status is the coarse lifecycle label that gates which operations a job accepts.
type Status string

const (
	StatusPending            Status = "pending"
	StatusProcessing         Status = "processing"
	StatusGeneratingDialogue Status = "generating_dialogue"
	StatusSlidesReady        Status = "slides_ready"
	StatusDialogueReady      Status = "dialogue_ready"
	StatusGeneratingAudio    Status = "generating_audio"
	StatusAudioReady         Status = "audio_ready"
	StatusCreatingVideo      Status = "creating_video"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// StatusCode is the fine-grained pipeline position.
type StatusCode string

const (
	CodeUploading           StatusCode = "UPLOADING"
	CodeProcessing          StatusCode = "PROCESSING"
	CodePDFProcessing       StatusCode = "PDF_PROCESSING"
	CodePDFGeneratingSlides StatusCode = "PDF_GENERATING_SLIDES"
	CodePDFCompleted        StatusCode = "PDF_COMPLETED"
	CodeDialogueGenerating  StatusCode = "DIALOGUE_GENERATING"
	CodeDialogueProcessing  StatusCode = "DIALOGUE_PROCESSING"
	CodeDialogueCompleted   StatusCode = "DIALOGUE_COMPLETED"
	CodeAudioGenerating     StatusCode = "AUDIO_GENERATING"
	CodeAudioCompleted      StatusCode = "AUDIO_COMPLETED"
	CodeVideoCreating       StatusCode = "VIDEO_CREATING"
	CodeVideoEncoding       StatusCode = "VIDEO_ENCODING"
	CodeVideoFinalizing     StatusCode = "VIDEO_FINALIZING"
	CodeCompleted           StatusCode = "COMPLETED"
	CodeFailed              StatusCode = "FAILED"
)

// ErrorCode is the closed set of user-facing failure reasons.
type ErrorCode string

const (
	ErrPDFProcessing        ErrorCode = "PDF_PROCESSING_ERROR"
	ErrDialogueGeneration   ErrorCode = "DIALOGUE_GENERATION_ERROR"
	ErrAudioGeneration      ErrorCode = "AUDIO_GENERATION_ERROR"
	ErrVideoCreation        ErrorCode = "VIDEO_CREATION_ERROR"
	ErrLLMCredentialMissing ErrorCode = "LLM_CREDENTIAL_MISSING"
	ErrLLMProvider          ErrorCode = "LLM_PROVIDER_ERROR"
)

// Job is the persisted record of one submitted deck.
type Job struct {
	JobID             string     `firestore:"jobId" json:"job_id" db:"job_id"`
	Status            Status     `firestore:"status" json:"status" db:"status"`
	StatusCode        StatusCode `firestore:"statusCode" json:"status_code" db:"status_code"`
	Progress          int        `firestore:"progress" json:"progress" db:"progress"`
	ErrorCode         ErrorCode  `firestore:"errorCode,omitempty" json:"error_code,omitempty" db:"error_code"`
	ResultURL         string     `firestore:"resultUrl,omitempty" json:"result_url,omitempty" db:"result_url"`
	ArtifactURI       string     `firestore:"artifactUri,omitempty" json:"artifact_uri,omitempty" db:"artifact_uri"`
	OriginalFilename  string     `firestore:"originalFilename,omitempty" json:"original_filename,omitempty" db:"original_filename"`
	FileHash          string     `firestore:"fileHash,omitempty" json:"file_hash,omitempty" db:"file_hash"`
	SlideCount        int        `firestore:"slideCount,omitempty" json:"slide_count,omitempty" db:"slide_count"`
	TargetDuration    int        `firestore:"targetDuration" json:"target_duration" db:"target_duration"`
	EstimatedDuration float64    `firestore:"estimatedDuration,omitempty" json:"estimated_duration,omitempty" db:"estimated_duration"`
	CreatedAt         time.Time  `firestore:"createdAt" json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `firestore:"updatedAt" json:"updated_at" db:"updated_at"`
}

// JobPatch is a partial update. Nil fields are left untouched.
type JobPatch struct {
	Status            *Status
	StatusCode        *StatusCode
	Progress          *int
	ErrorCode         *ErrorCode
	ClearError        bool
	ResultURL         *string
	ArtifactURI       *string
	SlideCount        *int
	TargetDuration    *int
	EstimatedDuration *float64
}

// Apply mutates job with the patch's set fields.
func (p JobPatch) Apply(job *Job) {
	if p.Status != nil {
		job.Status = *p.Status
	}
	if p.StatusCode != nil {
		job.StatusCode = *p.StatusCode
	}
	if p.Progress != nil {
		job.Progress = *p.Progress
	}
	if p.ClearError {
		job.ErrorCode = ""
	}
	if p.ErrorCode != nil {
		job.ErrorCode = *p.ErrorCode
	}
	if p.ResultURL != nil {
		job.ResultURL = *p.ResultURL
	}
	if p.ArtifactURI != nil {
		job.ArtifactURI = *p.ArtifactURI
	}
	if p.SlideCount != nil {
		job.SlideCount = *p.SlideCount
	}
	if p.TargetDuration != nil {
		job.TargetDuration = *p.TargetDuration
	}
	if p.EstimatedDuration != nil {
		job.EstimatedDuration = *p.EstimatedDuration
	}
}

// Ptr returns a pointer to v; used to build patches.
func Ptr[T any](v T) *T { return &v }
