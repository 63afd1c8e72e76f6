package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomadcafe/kekiai-japaneseai/internal/dialogue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

func TestLayout(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(ws.Root, "uploads", "j1", "source.pdf"), ws.SourcePDF("j1"))
	assert.Equal(t, filepath.Join(ws.Root, "slides", "j1", "slide_007.png"), ws.SlideImage("j1", 7))
	assert.Equal(t, filepath.Join(ws.Root, "audio", "j1", "slide_002_010_speaker1.wav"), ws.AudioClip("j1", 2, 10, "speaker1"))
	assert.Equal(t, filepath.Join(ws.Root, "output", "j1.mp4"), ws.OutputVideo("j1"))

	for _, d := range subdirs {
		assert.DirExists(t, filepath.Join(ws.Root, d))
	}
}

func TestWriteJSONIsIndentedAndUnescaped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	require.NoError(t, WriteJSON(path, map[string]string{"text": "<b>こんにちは</b>"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"text\": \"<b>こんにちは</b>\"\n}\n", string(raw))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not linger")
}

func TestDialogueRoundTripKeepsNumericOrder(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)
	script := dialogue.Script{
		"slide_10": {{Speaker: dialogue.Speaker1, Text: "十"}},
		"slide_2":  {{Speaker: dialogue.Speaker2, Text: "二"}},
	}
	require.NoError(t, ws.SaveDialogue("j", script))

	raw, err := os.ReadFile(filepath.Join(ws.DataDir("j"), "dialogue.json"))
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(raw), "slide_2"), strings.Index(string(raw), "slide_10"))

	got, err := ws.LoadDialogue("j")
	require.NoError(t, err)
	assert.Equal(t, script, got)
}

func TestDefaultsWhenDocumentsMissing(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	settings, err := ws.LoadVideoSettings("j")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultVideoSettings(), settings)

	history, err := ws.LoadHistory("j")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = ws.LoadDialogue("j")
	assert.True(t, IsNotExist(err))
}

func TestSaveUploadHashesAndRemove(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	hash, err := ws.SaveUpload("j", strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hash)

	again, err := HashFile(ws.SourcePDF("j"))
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	require.NoError(t, os.MkdirAll(ws.AudioDir("j"), 0o755))
	require.NoError(t, os.WriteFile(ws.AudioClip("j", 1, 1, "speaker1"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(ws.AudioClip("j", 1, 2, "speaker2"), []byte("x"), 0o644))
	clips, err := ws.SlideClips("j", 1)
	require.NoError(t, err)
	assert.Len(t, clips, 2)

	require.NoError(t, ws.Remove("j"))
	assert.NoDirExists(t, ws.UploadDir("j"))
	assert.NoDirExists(t, ws.AudioDir("j"))
}
