// Package extract turns an uploaded PDF deck into per-slide text and
// rendered slide images.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
)

const defaultDPI = 300

// runFunc executes an external tool and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runTool(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w - output: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Extractor wraps poppler's pdftotext and pdftoppm.
type Extractor struct {
	PDFToText string
	PDFToPPM  string
	DPI       int
	run       runFunc
}

func New(dpi int) *Extractor {
	if dpi <= 0 {
		dpi = defaultDPI
	}
	return &Extractor{PDFToText: "pdftotext", PDFToPPM: "pdftoppm", DPI: dpi, run: runTool}
}

// Validate checks the PDF in relaxed mode and returns its page count.
func Validate(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, apperr.Wrap(err, apperr.UnsupportedFormat, "invalid PDF")
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.UnsupportedFormat, "failed to count PDF pages")
	}
	if pages == 0 {
		return 0, apperr.New(apperr.UnsupportedFormat, "PDF has no pages")
	}
	return pages, nil
}

// Texts returns one cleaned text per page. The result always has exactly
// pages entries; image-only pages yield "".
func (e *Extractor) Texts(ctx context.Context, pdfPath string, pages int) ([]string, error) {
	out, err := e.run(ctx, e.PDFToText, "-enc", "UTF-8", "-layout", pdfPath, "-")
	if err != nil {
		return nil, err
	}
	return splitPages(string(out), pages), nil
}

// splitPages splits pdftotext output on form feeds and pads or trims the
// result to pages entries.
func splitPages(raw string, pages int) []string {
	parts := strings.Split(raw, "\f")
	texts := make([]string, pages)
	for i := 0; i < pages && i < len(parts); i++ {
		texts[i] = cleanText(parts[i])
	}
	return texts
}

// cleanText trims every line and drops blank ones.
func cleanText(s string) string {
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// Render writes slide_%03d.png for every page into outDir. It is skipped
// when outDir already holds slide images.
func (e *Extractor) Render(ctx context.Context, pdfPath, outDir string) (int, error) {
	logCtx := slog.With("pdf", filepath.Base(pdfPath), "dir", outDir)
	if existing, _ := filepath.Glob(filepath.Join(outDir, "slide_*.png")); len(existing) > 0 {
		logCtx.Info("Slide images already rendered, skipping.", "count", len(existing))
		return len(existing), nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, err
	}

	prefix := filepath.Join(outDir, "page")
	if _, err := e.run(ctx, e.PDFToPPM, "-png", "-r", strconv.Itoa(e.DPI), pdfPath, prefix); err != nil {
		return 0, err
	}

	rendered, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return 0, err
	}
	type page struct {
		n    int
		path string
	}
	var found []page
	for _, p := range rendered {
		n, ok := pageNumber(p)
		if !ok {
			continue
		}
		found = append(found, page{n, p})
	}
	sort.Slice(found, func(a, b int) bool { return found[a].n < found[b].n })

	for _, pg := range found {
		dest := filepath.Join(outDir, fmt.Sprintf("slide_%03d.png", pg.n))
		if err := os.Rename(pg.path, dest); err != nil {
			return 0, fmt.Errorf("rename rendered page %d: %w", pg.n, err)
		}
	}
	logCtx.Info("Rendered slide images.", "count", len(found))
	return len(found), nil
}

// pageNumber parses the page index from pdftoppm's "<prefix>-<n>.png",
// where n is zero-padded to the width of the page count.
func pageNumber(path string) (int, bool) {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	i := strings.LastIndex(base, "-")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(base[i+1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
