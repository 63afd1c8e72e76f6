package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/dialogue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/jobs"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

const (
	multipartMemory  = 32 << 20
	maxKnowledgeSize = 20 << 20
	maxCSVSize       = 10 << 20
)

func (s *Server) uploadLimit() int64 { return s.cfg.MaxUploadMB << 20 }

func (s *Server) tooLarge() error {
	return apperr.Newf(apperr.FileTooLarge, "ファイルサイズが大きすぎます（最大%dMB）", s.cfg.MaxUploadMB)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit()+maxKnowledgeSize+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, s.tooLarge())
			return
		}
		writeError(w, r, apperr.Wrap(err, apperr.InvalidArgument, "invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperr.New(apperr.InvalidArgument, "file is required"))
		return
	}
	defer file.Close()
	if !jobs.IsPDF(header.Filename) {
		writeError(w, r, apperr.New(apperr.UnsupportedFormat, "PDFファイルのみ対応しています"))
		return
	}
	if header.Size > s.uploadLimit() {
		writeError(w, r, s.tooLarge())
		return
	}

	meta, err := uploadMetadata(r.MultipartForm)
	if err != nil {
		writeError(w, r, err)
		return
	}
	up := jobs.Upload{Filename: filepath.Base(header.Filename), File: file, Metadata: meta}

	if kf, kh, err := r.FormFile("knowledge_file"); err == nil {
		defer kf.Close()
		data, err := io.ReadAll(io.LimitReader(kf, maxKnowledgeSize+1))
		if err != nil {
			writeError(w, r, apperr.Wrap(err, apperr.InvalidArgument, "failed to read knowledge file"))
			return
		}
		if len(data) > maxKnowledgeSize {
			writeError(w, r, apperr.New(apperr.FileTooLarge, "ナレッジファイルが大きすぎます"))
			return
		}
		up.KnowledgeName = filepath.Base(kh.Filename)
		up.KnowledgeData = data
	}

	job, err := s.jobs.Create(r.Context(), up)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.JobCreateResponse{
		JobID:   job.JobID,
		Status:  job.Status,
		Message: "PDFのアップロードが完了しました。処理を開始します。",
	})
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// uploadMetadata reads the optional upload fields.
func uploadMetadata(form *multipart.Form) (models.JobMetadata, error) {
	meta := models.JobMetadata{
		ConversationStyle:       formValue(form, "conversation_style"),
		ConversationStylePrompt: formValue(form, "conversation_style_prompt"),
		Provider:                formValue(form, "provider"),
		APIKey:                  formValue(form, "api_key"),
	}
	if v := formValue(form, "target_duration"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return meta, apperr.Newf(apperr.InvalidArgument, "invalid target_duration %q", v)
		}
		meta.TargetDuration = n
	}
	for key, dst := range map[string]*models.Speaker{
		"speaker1": &meta.Speakers.Speaker1,
		"speaker2": &meta.Speakers.Speaker2,
	} {
		v := formValue(form, key)
		if v == "" {
			continue
		}
		if err := json.Unmarshal([]byte(v), dst); err != nil {
			return meta, apperr.Wrapf(err, apperr.InvalidArgument, "invalid %s", key)
		}
	}
	return meta, nil
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req models.ImportRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.jobs.Import(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.JobCreateResponse{JobID: job.JobID, Status: job.Status, Message: "処理を開始します。"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.jobs.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "ジョブを削除しました", JobID: id})
}

func (s *Server) handleGenerateDialogue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req models.GenerateDialogueRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.jobs.GenerateDialogue(r.Context(), id, req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "対話生成を開始しました", JobID: id})
}

type dialogueBody struct {
	DialogueData      dialogue.Script          `json:"dialogue_data"`
	EstimatedDuration *models.DurationEstimate `json:"estimated_duration,omitempty"`
}

func estimateOf(script dialogue.Script) *models.DurationEstimate {
	seconds := dialogue.EstimateDuration(script)
	return &models.DurationEstimate{Seconds: seconds, Formatted: dialogue.FormatDuration(seconds)}
}

func (s *Server) handleGetDialogue(w http.ResponseWriter, r *http.Request) {
	script, err := s.jobs.Dialogue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dialogueBody{DialogueData: script, EstimatedDuration: estimateOf(script)})
}

func (s *Server) handlePutDialogue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body dialogueBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	est, err := s.jobs.SaveDialogue(r.Context(), id, body.DialogueData)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "対話スクリプトを更新しました", JobID: id, EstimatedDuration: &est})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var buf bytes.Buffer
	if err := s.jobs.ExportCSV(r.Context(), id, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="dialogue_%s.csv"`, id))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, maxCSVSize+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperr.New(apperr.InvalidArgument, "file is required"))
		return
	}
	defer file.Close()
	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		writeError(w, r, apperr.New(apperr.InvalidArgument, "CSVファイルのみ対応しています"))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, apperr.Wrap(err, apperr.InvalidArgument, "failed to read CSV"))
		return
	}
	est, err := s.jobs.ImportCSV(r.Context(), id, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "対話スクリプトをインポートしました", JobID: id, EstimatedDuration: &est})
}

type importanceBody struct {
	Importance dialogue.Importance `json:"importance"`
}

func (s *Server) handleGetImportance(w http.ResponseWriter, r *http.Request) {
	imp, err := s.jobs.Importance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, importanceBody{Importance: imp})
}

func (s *Server) handlePutImportance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body importanceBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.jobs.SetImportance(r.Context(), id, body.Importance); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "重要度を更新しました", JobID: id})
}

func (s *Server) handleGetVideoSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.jobs.VideoSettings(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutVideoSettings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	settings := models.DefaultVideoSettings()
	if err := decode(r, &settings); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.jobs.SetVideoSettings(r.Context(), id, settings); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "動画設定を更新しました", JobID: id})
}

func (s *Server) handleGenerateAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req := models.DefaultAudioRequest()
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.jobs.GenerateAudio(r.Context(), id, req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "音声生成を開始しました", JobID: id})
}

func (s *Server) handleCreateVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req models.CreateVideoRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.jobs.CreateVideo(r.Context(), id, req.SlideNumbers); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "動画作成を開始しました", JobID: id})
}

func (s *Server) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.jobs.GenerateVideo(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "動画の一括生成を開始しました", JobID: id})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path, err := s.jobs.VideoFile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.mp4"`, id))
	http.ServeFile(w, r, path)
}

func (s *Server) handleSlides(w http.ResponseWriter, r *http.Request) {
	slides, err := s.jobs.Slides(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slides": slides})
}

func (s *Server) handleSlideImage(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 {
		writeError(w, r, apperr.Newf(apperr.InvalidArgument, "invalid slide number %q", r.PathValue("n")))
		return
	}
	path, err := s.jobs.SlideImage(r.Context(), r.PathValue("id"), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := s.jobs.Metadata(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.jobs.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": h})
}
