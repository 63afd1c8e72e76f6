package tts

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// PostProcessor denoises and fades clips with ffmpeg. Failures keep the raw
// clip.
type PostProcessor struct {
	ffmpeg     string
	sampleRate int
}

func NewPostProcessor(ffmpeg string, sampleRate int) *PostProcessor {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &PostProcessor{ffmpeg: ffmpeg, sampleRate: sampleRate}
}

const postFilter = "afftdn=nf=-25,afade=t=in:st=0:d=0.05,areverse,afade=t=in:st=0:d=0.05,areverse,alimiter=limit=0.95"

func (p *PostProcessor) args(in, out string) []string {
	return []string{
		"-y", "-loglevel", "error",
		"-i", in,
		"-af", postFilter,
		"-ar", strconv.Itoa(p.sampleRate),
		out,
	}
}

// Apply rewrites path in place.
func (p *PostProcessor) Apply(ctx context.Context, path string) {
	tmp := strings.TrimSuffix(path, ".wav") + ".post.wav"
	cmd := exec.CommandContext(ctx, p.ffmpeg, p.args(path, tmp)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmp)
		slog.Warn("Audio post-processing failed, keeping raw clip.", "path", path, "error", err, "stderr", stderr.String())
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		slog.Warn("Audio post-processing rename failed.", "path", path, "error", err)
	}
}
