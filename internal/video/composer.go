package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

// Stage marks composer milestones reported to the caller.
type Stage int

const (
	StageEncoding Stage = iota
	StageFinalizing
)

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

// ComposerConfig locates the tools and BGM library.
type ComposerConfig struct {
	FFmpegPath  string
	FFprobePath string
	BGMDir      string
	// DefaultBGM is used when the job names no track or its track is missing.
	DefaultBGM string
}

// Composer builds the final video.
type Composer struct {
	cfg ComposerConfig
	run runFunc
}

func NewComposer(cfg ComposerConfig) *Composer {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &Composer{cfg: cfg, run: runTool}
}

// Slide is one slide to include: its image and narration clips in order.
type Slide struct {
	Number int
	Image  string
	Clips  []string
}

// Request is one video build.
type Request struct {
	Slides   []Slide
	Settings models.VideoSettings
	Output   string
	// WorkDir holds intermediate segments; it is removed afterwards.
	WorkDir string
}

// Probe returns the media duration in seconds.
func (c *Composer) Probe(ctx context.Context, path string) (float64, error) {
	out, err := c.run(ctx, c.cfg.FFprobePath, probeArgs(path)...)
	if err != nil {
		return 0, err
	}
	return parseDuration(out)
}

// Compose renders every slide to a segment, then joins them into Output.
// It returns the video duration.
func (c *Composer) Compose(ctx context.Context, req Request, onStage func(Stage)) (float64, error) {
	if len(req.Slides) == 0 {
		return 0, errors.New("スライド画像が見つかりません")
	}
	logCtx := slog.With("output", filepath.Base(req.Output), "slides", len(req.Slides))

	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return 0, err
	}
	defer func() {
		if err := os.RemoveAll(req.WorkDir); err != nil {
			logCtx.Warn("Failed to remove video work dir.", "error", err)
		}
	}()

	segments := make([]string, 0, len(req.Slides))
	durations := make([]float64, 0, len(req.Slides))
	for _, s := range req.Slides {
		in := SegmentInput{Image: s.Image, Clips: s.Clips}
		for _, clip := range s.Clips {
			d, err := c.Probe(ctx, clip)
			if err != nil {
				return 0, fmt.Errorf("probe %s: %w", filepath.Base(clip), err)
			}
			in.Durations = append(in.Durations, d)
		}
		out := filepath.Join(req.WorkDir, fmt.Sprintf("segment_%03d.mp4", s.Number))
		if _, err := c.run(ctx, c.cfg.FFmpegPath, segmentArgs(in, out)...); err != nil {
			return 0, fmt.Errorf("render slide %d: %w", s.Number, err)
		}
		segments = append(segments, out)
		durations = append(durations, SlideDuration(in.Durations))
	}
	logCtx.Info("Slide segments rendered.")

	if onStage != nil {
		onStage(StageEncoding)
	}
	join := JoinInput{
		Segments:           segments,
		Durations:          durations,
		Transition:         req.Settings.TransitionType,
		TransitionDuration: req.Settings.TransitionDuration,
		BGMVolume:          req.Settings.BGMVolume,
	}
	if req.Settings.BGMEnabled {
		join.BGM = ResolveBGM(req.Settings.BGMPath, c.cfg.BGMDir, c.cfg.DefaultBGM)
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return 0, err
	}
	tmpOut := req.Output + ".part.mp4"
	args, total := joinArgs(join, tmpOut)
	if _, err := c.run(ctx, c.cfg.FFmpegPath, args...); err != nil {
		_ = os.Remove(tmpOut)
		return 0, fmt.Errorf("encode video: %w", err)
	}

	if onStage != nil {
		onStage(StageFinalizing)
	}
	if err := os.Rename(tmpOut, req.Output); err != nil {
		return 0, err
	}
	logCtx.Info("Video created.", "duration", total)
	return total, nil
}
