package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nomadcafe/kekiai-japaneseai/internal/config"
	"github.com/nomadcafe/kekiai-japaneseai/internal/dialogue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm/llmtest"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
	"github.com/nomadcafe/kekiai-japaneseai/internal/store"
	"github.com/nomadcafe/kekiai-japaneseai/internal/taskqueue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/tts"
	"github.com/nomadcafe/kekiai-japaneseai/internal/video"
	"github.com/nomadcafe/kekiai-japaneseai/internal/workspace"
)

var deck = []string{"会社紹介", "製品の特徴", "まとめ"}

type fakeSlides struct{ texts []string }

func (f fakeSlides) Texts(context.Context, string, int) ([]string, error) {
	return f.texts, nil
}

func (f fakeSlides) Render(_ context.Context, _, outDir string) (int, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, err
	}
	for i := range f.texts {
		if err := os.WriteFile(filepath.Join(outDir, fmt.Sprintf("slide_%03d.png", i+1)), []byte("png"), 0o644); err != nil {
			return 0, err
		}
	}
	return len(f.texts), nil
}

type staticLLMs struct{ p llm.Provider }

func (s staticLLMs) Provider(string, string) llm.Provider { return s.p }

type fakeSpeech struct {
	mu     sync.Mutex
	scales []models.GenerateAudioRequest
}

func (f *fakeSpeech) Generate(_ context.Context, clips []tts.Clip, _ models.Speakers, scales models.GenerateAudioRequest, progress func(done, total int)) (int, error) {
	f.mu.Lock()
	f.scales = append(f.scales, scales)
	f.mu.Unlock()
	for i, c := range clips {
		if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
			return i, err
		}
		if err := os.WriteFile(c.Path, []byte("wav"), 0o644); err != nil {
			return i, err
		}
		progress(i+1, len(clips))
	}
	return len(clips), nil
}

type fakeComposer struct {
	mu       sync.Mutex
	requests []video.Request
}

func (f *fakeComposer) Compose(_ context.Context, req video.Request, onStage func(video.Stage)) (float64, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	onStage(video.StageEncoding)
	onStage(video.StageFinalizing)
	return 12.5, os.WriteFile(req.Output, []byte("mp4"), 0o644)
}

func (f *fakeComposer) last() video.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeSink struct{}

func (fakeSink) Publish(_ context.Context, jobID, _ string) (string, error) {
	return "nats://videos/" + jobID + ".mp4", nil
}

// recorder keeps every published job snapshot.
type recorder struct {
	mu   sync.Mutex
	jobs []models.Job
}

func (r *recorder) Publish(_ context.Context, job models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recorder) progress(id string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, j := range r.jobs {
		if j.JobID == id {
			out = append(out, j.Progress)
		}
	}
	return out
}

func (r *recorder) codes(id string) []models.StatusCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.StatusCode
	for _, j := range r.jobs {
		if j.JobID == id {
			out = append(out, j.StatusCode)
		}
	}
	return out
}

// dialogueLLM answers every JSON request with six utterances tagged by call
// number and every refinement request with nothing, which keeps the script.
func dialogueLLM() *llmtest.Scripted {
	var calls atomic.Int32
	return &llmtest.Scripted{Fallback: func(req llm.Request) (string, error) {
		if !req.JSON {
			return "", nil
		}
		n := calls.Add(1)
		items := make([]dialogue.Utterance, 6)
		for i := range items {
			role := dialogue.Speaker1
			if i%2 == 1 {
				role = dialogue.Speaker2
			}
			items[i] = dialogue.Utterance{Speaker: role, Text: fmt.Sprintf("call%d-%d", n, i+1)}
		}
		b, err := json.Marshal(map[string]any{"dialogue": items})
		return string(b), err
	}}
}

type harness struct {
	m        *Manager
	store    *store.Memory
	events   *recorder
	speech   *fakeSpeech
	composer *fakeComposer
}

func newHarness(t *testing.T, p llm.Provider) *harness {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		store:    store.NewMemory(),
		events:   &recorder{},
		speech:   &fakeSpeech{},
		composer: &fakeComposer{},
	}
	tasks := taskqueue.New(context.Background(), 2)
	t.Cleanup(tasks.Wait)

	h.m, err = NewManager(ManagerConfig{
		Store:     h.store,
		Workspace: ws,
		Tasks:     tasks,
		LLMs:      staticLLMs{p},
		Slides:    fakeSlides{texts: deck},
		Speech:    h.speech,
		Composer:  h.composer,
		Sink:      fakeSink{},
		Events:    h.events,
		PageCount: func(string) (int, error) { return len(deck), nil },
		Dialogue:  config.DialogueConfig{MaxRetries: 2, RetryDelay: 1, DefaultDuration: 1},
	})
	require.NoError(t, err)
	return h
}

// upload creates a job and waits for its upload run.
func (h *harness) upload(t *testing.T) models.Job {
	t.Helper()
	job, err := h.m.Create(context.Background(), Upload{
		Filename: "deck.pdf",
		File:     strings.NewReader("%PDF-1.7"),
		Metadata: models.JobMetadata{TargetDuration: 1},
	})
	require.NoError(t, err)
	_ = h.m.Await(context.Background(), job.JobID)
	job, err = h.m.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	return job
}

func (h *harness) wait(t *testing.T, id string) models.Job {
	t.Helper()
	_ = h.m.Await(context.Background(), id)
	job, err := h.m.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func nonDecreasing(values []int) bool {
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			return false
		}
	}
	return true
}
