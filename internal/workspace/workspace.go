// Package workspace owns the on-disk layout of job files under a single root.
package workspace

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Workspace resolves every job path under Root.
type Workspace struct {
	Root string
}

var subdirs = []string{"uploads", "slides", "data", "audio", "output"}

// New creates the root and its top-level directories.
func New(root string) (*Workspace, error) {
	for _, d := range subdirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace dir %s: %w", d, err)
		}
	}
	return &Workspace{Root: root}, nil
}

func (w *Workspace) UploadDir(id string) string { return filepath.Join(w.Root, "uploads", id) }
func (w *Workspace) SourcePDF(id string) string { return filepath.Join(w.UploadDir(id), "source.pdf") }
func (w *Workspace) SlidesDir(id string) string { return filepath.Join(w.Root, "slides", id) }
func (w *Workspace) DataDir(id string) string   { return filepath.Join(w.Root, "data", id) }
func (w *Workspace) AudioDir(id string) string  { return filepath.Join(w.Root, "audio", id) }
func (w *Workspace) OutputVideo(id string) string {
	return filepath.Join(w.Root, "output", id+".mp4")
}

func (w *Workspace) metadataPath(id string) string {
	return filepath.Join(w.UploadDir(id), "metadata.json")
}

func (w *Workspace) dataFile(id, name string) string { return filepath.Join(w.DataDir(id), name) }

// SlideImage is the rendered PNG of slide n (1-based).
func (w *Workspace) SlideImage(id string, n int) string {
	return filepath.Join(w.SlidesDir(id), fmt.Sprintf("slide_%03d.png", n))
}

// SlideImages lists rendered slide PNGs in slide order.
func (w *Workspace) SlideImages(id string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.SlidesDir(id), "slide_*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// SaveUpload streams r into the job's source.pdf and returns its SHA-256.
func (w *Workspace) SaveUpload(id string, r io.Reader) (string, error) {
	if err := os.MkdirAll(w.UploadDir(id), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(w.SourcePDF(id))
	if err != nil {
		return "", fmt.Errorf("create source file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		return "", fmt.Errorf("write source file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ClearAudio removes every rendered clip of the job.
func (w *Workspace) ClearAudio(id string) error {
	return os.RemoveAll(w.AudioDir(id))
}

// Remove deletes every file belonging to the job.
func (w *Workspace) Remove(id string) error {
	var errs []error
	for _, p := range []string{w.UploadDir(id), w.SlidesDir(id), w.DataDir(id), w.AudioDir(id), w.OutputVideo(id)} {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteJSON writes v to path atomically: a temp file in the same directory
// is renamed over the target. Output is two-space indented UTF-8 without
// HTML escaping.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// ReadJSON decodes path into v. Missing files yield an error matching
// fs.ErrNotExist.
func ReadJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// IsNotExist reports whether err means the document was never written.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// audioName is slide_%03d_%03d_<role>.wav.
func audioName(slide, index int, role string) string {
	return fmt.Sprintf("slide_%03d_%03d_%s.wav", slide, index, strings.ToLower(role))
}

// AudioClip is the path of one synthesized utterance.
func (w *Workspace) AudioClip(id string, slide, index int, role string) string {
	return filepath.Join(w.AudioDir(id), audioName(slide, index, role))
}

// SlideClips lists the audio clips of one slide in utterance order.
func (w *Workspace) SlideClips(id string, slide int) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.AudioDir(id), fmt.Sprintf("slide_%03d_*.wav", slide)))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
