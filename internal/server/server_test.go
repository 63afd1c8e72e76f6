package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomadcafe/kekiai-japaneseai/internal/config"
	"github.com/nomadcafe/kekiai-japaneseai/internal/dialogue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/events"
	"github.com/nomadcafe/kekiai-japaneseai/internal/jobs"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
	"github.com/nomadcafe/kekiai-japaneseai/internal/store"
	"github.com/nomadcafe/kekiai-japaneseai/internal/taskqueue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/workspace"
)

type oneSlide struct{}

func (oneSlide) Texts(context.Context, string, int) ([]string, error) {
	return []string{"タイトル"}, nil
}

func (oneSlide) Render(_ context.Context, _, outDir string) (int, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, err
	}
	return 1, os.WriteFile(filepath.Join(outDir, "slide_001.png"), []byte("png"), 0o644)
}

type noLLM struct{}

func (noLLM) Provider(name, _ string) llm.Provider {
	return llm.Unavailable{Kind: llm.Kind(name), Reason: "no credentials"}
}

type fakeVoices struct {
	up  bool
	raw string
}

func (f fakeVoices) Available(context.Context) bool { return f.up }

func (f fakeVoices) Speakers(context.Context) (json.RawMessage, error) {
	if !f.up {
		return nil, errors.New("connection refused")
	}
	return json.RawMessage(f.raw), nil
}

type fixedStatuses []llm.Status

func (f fixedStatuses) Statuses() []llm.Status { return f }

type testServer struct {
	srv     *Server
	handler http.Handler
	jobs    *jobs.Manager
	store   *store.Memory
	broker  *events.Broker
}

func newTestServer(t *testing.T, cfg config.ServerConfig) *testServer {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	tasks := taskqueue.New(context.Background(), 2)
	t.Cleanup(tasks.Wait)

	ts := &testServer{store: store.NewMemory(), broker: events.NewBroker()}
	ts.jobs, err = jobs.NewManager(jobs.ManagerConfig{
		Store:     ts.store,
		Workspace: ws,
		Tasks:     tasks,
		LLMs:      noLLM{},
		Slides:    oneSlide{},
		Events:    ts.broker,
		PageCount: func(string) (int, error) { return 1, nil },
	})
	require.NoError(t, err)

	ts.srv = New(Options{
		Jobs:    ts.jobs,
		Broker:  ts.broker,
		Voices:  fakeVoices{up: true, raw: `[{"name":"ずんだもん","speaker_uuid":"u-1","styles":[{"name":"ノーマル","id":3},{"name":"あまあま","id":1}]}]`},
		LLMs:    fixedStatuses{{Name: llm.OpenAI, Model: "gpt-4o", Available: true}},
		Config:  cfg,
		Workers: 2,
	})
	ts.handler = ts.srv.Handler()
	return ts
}

func (ts *testServer) seed(t *testing.T, job models.Job) {
	t.Helper()
	require.NoError(t, ts.store.Create(context.Background(), job))
}

func (ts *testServer) do(t *testing.T, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, field, filename string, content []byte, values map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestUploadRejectsNonPDF(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	body, ct := multipartBody(t, "file", "notes.txt", []byte("hello"), nil)

	rec := ts.do(t, http.MethodPost, "/api/jobs/upload", body, ct)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_FORMAT", decodeError(t, rec).Code)
	list, err := ts.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{MaxUploadMB: 1})
	body, ct := multipartBody(t, "file", "deck.pdf", bytes.Repeat([]byte("a"), 2<<20), nil)

	rec := ts.do(t, http.MethodPost, "/api/jobs/upload", body, ct)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE_TOO_LARGE", decodeError(t, rec).Code)
}

func TestUploadCreatesJob(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	body, ct := multipartBody(t, "file", "deck.pdf", []byte("%PDF-1.7"), map[string]string{
		"target_duration":    "3",
		"speaker1":           `{"id":8,"name":"春日部つむぎ","speed":1.1}`,
		"conversation_style": "podcast",
	})

	rec := ts.do(t, http.MethodPost, "/api/jobs/upload", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created models.JobCreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.JobID)
	assert.Equal(t, models.StatusPending, created.Status)
	_ = ts.jobs.Await(context.Background(), created.JobID)

	rec = ts.do(t, http.MethodGet, "/api/jobs/"+created.JobID+"/metadata", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var meta models.JobMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, 3, meta.TargetDuration)
	assert.Equal(t, "春日部つむぎ", meta.Speakers.Speaker1.Name)
	assert.Equal(t, models.DefaultSpeakers().Speaker2, meta.Speakers.Speaker2)
	assert.Equal(t, "deck.pdf", meta.OriginalFilename)

	// Without credentials the run stops at dialogue generation.
	rec = ts.do(t, http.MethodGet, "/api/jobs/"+created.JobID+"/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, models.ErrLLMCredentialMissing, job.ErrorCode)
	assert.Equal(t, 1, job.SlideCount)
}

func TestUploadRejectsBadTargetDuration(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	body, ct := multipartBody(t, "file", "deck.pdf", []byte("%PDF-1.7"), map[string]string{"target_duration": "soon"})

	rec := ts.do(t, http.MethodPost, "/api/jobs/upload", body, ct)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, rec).Code)
}

func TestUnknownJobIsNotFound(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	for _, path := range []string{"/api/jobs/missing", "/api/jobs/missing/dialogue", "/api/jobs/missing/slides"} {
		rec := ts.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code, path)
	}
}

func TestStageGatesAnswerBadRequest(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	ts.seed(t, models.Job{JobID: "j1", Status: models.StatusPending, StatusCode: models.CodeUploading})

	rec := ts.do(t, http.MethodPost, "/api/jobs/j1/generate-audio", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FAILED_PRECONDITION", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/jobs/j1/create-video", []byte(`{"slide_numbers":[1]}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/jobs/j1/download", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDialogueEditing(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	ts.seed(t, models.Job{JobID: "j1", Status: models.StatusAudioReady, SlideCount: 2})

	put := `{"dialogue_data":{"slide_1":[{"speaker":"speaker1","text":"こんにちは"}],"slide_2":[{"speaker":"speaker2","text":"なのだ"}]}}`
	rec := ts.do(t, http.MethodPut, "/api/jobs/j1/dialogue", []byte(put), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var msg models.MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "対話スクリプトを更新しました", msg.Message)
	require.NotNil(t, msg.EstimatedDuration)
	assert.Positive(t, msg.EstimatedDuration.Seconds)

	job, err := ts.store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDialogueReady, job.Status)

	rec = ts.do(t, http.MethodGet, "/api/jobs/j1/dialogue", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		DialogueData      dialogue.Script         `json:"dialogue_data"`
		EstimatedDuration models.DurationEstimate `json:"estimated_duration"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "なのだ", got.DialogueData["slide_2"][0].Text)
	assert.Equal(t, msg.EstimatedDuration.Seconds, got.EstimatedDuration.Seconds)

	bad := `{"dialogue_data":{"slide_7":[{"speaker":"speaker1","text":"x"}]}}`
	rec = ts.do(t, http.MethodPut, "/api/jobs/j1/dialogue", []byte(bad), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDialogueCSVRoundTrip(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	ts.seed(t, models.Job{JobID: "j1", Status: models.StatusDialogueReady, SlideCount: 1})
	put := `{"dialogue_data":{"slide_1":[{"speaker":"speaker1","text":"一行目"},{"speaker":"speaker2","text":"二行目"}]}}`
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/jobs/j1/dialogue", []byte(put), "application/json").Code)

	rec := ts.do(t, http.MethodGet, "/api/jobs/j1/dialogue/csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "dialogue_j1.csv")
	exported := rec.Body.Bytes()
	assert.Contains(t, string(exported), "二行目")

	body, ct := multipartBody(t, "file", "dialogue.csv", exported, nil)
	rec = ts.do(t, http.MethodPost, "/api/jobs/j1/dialogue/csv", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body, ct = multipartBody(t, "file", "dialogue.txt", exported, nil)
	rec = ts.do(t, http.MethodPost, "/api/jobs/j1/dialogue/csv", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVideoSettingsValidation(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	ts.seed(t, models.Job{JobID: "j1", Status: models.StatusAudioReady, SlideCount: 1})

	rec := ts.do(t, http.MethodGet, "/api/jobs/j1/video-settings", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var settings models.VideoSettings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.Equal(t, models.DefaultVideoSettings(), settings)

	rec = ts.do(t, http.MethodPut, "/api/jobs/j1/video-settings", []byte(`{"bgm_enabled":true,"bgm_volume":0.3}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPut, "/api/jobs/j1/video-settings", []byte(`{"bgm_volume":3}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlides(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	ts.seed(t, models.Job{JobID: "j1", Status: models.StatusSlidesReady, SlideCount: 1})
	ws := ts.jobs.Workspace()
	require.NoError(t, os.MkdirAll(ws.SlidesDir("j1"), 0o755))
	require.NoError(t, os.WriteFile(ws.SlideImage("j1", 1), []byte("png"), 0o644))

	rec := ts.do(t, http.MethodGet, "/api/jobs/j1/slides", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Slides []models.SlideInfo `json:"slides"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Slides, 1)
	assert.Equal(t, "/api/jobs/j1/slides/1", body.Slides[0].URL)

	rec = ts.do(t, http.MethodGet, "/api/jobs/j1/slides/1", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = ts.do(t, http.MethodGet, "/api/jobs/j1/slides/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteJob(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	ts.seed(t, models.Job{JobID: "j1", Status: models.StatusCompleted})

	rec := ts.do(t, http.MethodDelete, "/api/jobs/j1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/jobs/j1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSpeakersAreFlattened(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	rec := ts.do(t, http.MethodGet, "/api/speakers", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var styles []SpeakerStyle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &styles))
	require.Len(t, styles, 2)
	assert.Equal(t, SpeakerStyle{
		SpeakerName: "ずんだもん",
		SpeakerUUID: "u-1",
		StyleName:   "あまあま",
		StyleID:     1,
		DisplayName: "ずんだもん (あまあま)",
	}, styles[1])

	ts.srv.voices = fakeVoices{}
	rec = ts.do(t, http.MethodGet, "/api/speakers", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSystemStatus(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	ts.seed(t, models.Job{JobID: "a", Status: models.StatusGeneratingAudio})
	ts.seed(t, models.Job{JobID: "b", Status: models.StatusCompleted})

	rec := ts.do(t, http.MethodGet, "/api/system/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 2, status.TotalJobs)
	assert.Equal(t, 1, status.ActiveJobs)
	assert.Equal(t, 2, status.WorkerCapacity)
	assert.True(t, status.VoicevoxAvailable)
	assert.Empty(t, status.RunningTasks)
	require.Len(t, status.LLMProviders, 1)
	assert.Equal(t, llm.OpenAI, status.LLMProviders[0].Name)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"*"}, originPatterns([]string{"http://a.example", "*"}))
	assert.Equal(t, []string{"localhost:3000", "app.example.com"},
		originPatterns([]string{"http://localhost:3000", "https://app.example.com", "not a url"}))
}

func TestJobSocketStreamsUpdates(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	ts.seed(t, models.Job{JobID: "j1", Status: models.StatusSlidesReady, Progress: 60})
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/jobs/j1/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var first models.JobEvent
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, events.JobUpdated, first.Type)
	assert.Equal(t, 60, first.Job.Progress)

	require.NoError(t, ts.broker.Publish(ctx, models.Job{JobID: "j1", Status: models.StatusGeneratingAudio, Progress: 70}))
	var next models.JobEvent
	require.NoError(t, wsjson.Read(ctx, conn, &next))
	assert.Equal(t, models.StatusGeneratingAudio, next.Job.Status)
	assert.Equal(t, 70, next.Job.Progress)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestJobSocketUnknownJob(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, fmt.Sprintf("ws%s/api/jobs/nope/ws", strings.TrimPrefix(srv.URL, "http")), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
