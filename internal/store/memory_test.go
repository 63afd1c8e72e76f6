package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	job := models.Job{
		JobID:          "a",
		Status:         models.StatusPending,
		StatusCode:     models.CodeUploading,
		TargetDuration: 10,
		FileHash:       "h1",
	}
	require.NoError(t, m.Create(ctx, job))
	err := m.Create(ctx, job)
	assert.True(t, apperr.IsCode(err, apperr.Conflict))

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10, got.TargetDuration)
	created := got.UpdatedAt

	updated, err := m.Update(ctx, "a", models.JobPatch{
		Status:   models.Ptr(models.StatusProcessing),
		Progress: models.Ptr(25),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, updated.Status)
	assert.Equal(t, models.CodeUploading, updated.StatusCode, "untouched field")
	assert.Equal(t, 25, updated.Progress)
	assert.True(t, updated.UpdatedAt.After(created))

	found, ok, err := m.FindByHash(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", found.JobID)

	_, ok, err = m.FindByHash(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Delete(ctx, "a"))
	_, err = m.Get(ctx, "a")
	assert.True(t, apperr.IsCode(err, apperr.NotFound))
	assert.True(t, apperr.IsCode(m.Delete(ctx, "a"), apperr.NotFound))
}

func TestMemoryUpdateClearsError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, models.Job{JobID: "a", ErrorCode: models.ErrAudioGeneration}))

	job, err := m.Update(ctx, "a", models.JobPatch{ClearError: true})
	require.NoError(t, err)
	assert.Empty(t, job.ErrorCode)

	_, err = m.Update(ctx, "missing", models.JobPatch{})
	assert.True(t, apperr.IsCode(err, apperr.NotFound))
}

func TestMemoryListNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.Create(ctx, models.Job{JobID: "old", CreatedAt: base}))
	require.NoError(t, m.Create(ctx, models.Job{JobID: "new", CreatedAt: base.Add(time.Hour)}))

	jobs, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "new", jobs[0].JobID)
	assert.Equal(t, "old", jobs[1].JobID)
}
