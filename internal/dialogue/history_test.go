package dialogue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryCombined(t *testing.T) {
	h := History{}
	assert.Equal(t, "新しい", h.Combined(1, "新しい"))

	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	h.Add([]int{1, 2}, "一つ目", now)
	h.Add([]int{1}, "二つ目", now.Add(time.Minute))

	want := "このスライドに対する過去の指示:\n1. 一つ目\n2. 二つ目\n\n今回の新しい指示:\n三つ目\n\n重要: すべての指示を考慮して対話を生成してください。"
	assert.Equal(t, want, h.Combined(1, "三つ目"))
	assert.Len(t, h.Slide(2), 1)

	h.Clear(2)
	assert.Empty(t, h.Slide(2))
}

func TestHistoryJSONShape(t *testing.T) {
	h := History{}
	h.Add([]int{3}, "短く", time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC))

	b, err := json.Marshal(h)
	require.NoError(t, err)
	assert.JSONEq(t, `{"slide_3":[{"timestamp":"2025-03-01T09:30:00.000000","instruction":"短く"}]}`, string(b))
}
