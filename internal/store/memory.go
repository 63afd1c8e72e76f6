package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

// Memory keeps jobs in process memory.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]models.Job), now: time.Now}
}

func (m *Memory) Create(_ context.Context, job models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.JobID]; exists {
		return apperr.Newf(apperr.Conflict, "job %s already exists", job.JobID)
	}
	now := m.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.JobID] = job
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, notFound(id)
	}
	return job, nil
}

func (m *Memory) Update(_ context.Context, id string, patch models.JobPatch) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, notFound(id)
	}
	patch.Apply(&job)
	job.UpdatedAt = m.now().UTC()
	m.jobs[id] = job
	return job, nil
}

func (m *Memory) List(_ context.Context) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].JobID < out[b].JobID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return notFound(id)
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) FindByHash(_ context.Context, hash string) (models.Job, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		if hash != "" && j.FileHash == hash {
			return j, true, nil
		}
	}
	return models.Job{}, false, nil
}

func (m *Memory) Close() error { return nil }

func notFound(id string) error {
	return apperr.Newf(apperr.NotFound, "job %s not found", id)
}
