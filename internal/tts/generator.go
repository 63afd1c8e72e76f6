package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/dialogue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

const phonemePadding = 0.1

// Clip is one utterance to render.
type Clip struct {
	Slide int
	Index int // 1-based within the slide
	Role  dialogue.Role
	Text  string
	Path  string
}

// GeneratorConfig tunes rendering.
type GeneratorConfig struct {
	Workers     int
	SampleRate  int
	PostProcess bool
	FFmpegPath  string
}

// Generator renders every utterance of a script to its own WAV file.
type Generator struct {
	client *Client
	voices VoiceTable
	cfg    GeneratorConfig
	post   *PostProcessor
}

func NewGenerator(client *Client, voices VoiceTable, cfg GeneratorConfig) *Generator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	g := &Generator{client: client, voices: voices, cfg: cfg}
	if cfg.PostProcess {
		g.post = NewPostProcessor(cfg.FFmpegPath, cfg.SampleRate)
	}
	return g
}

// Plan lists the clips of a script in slide then utterance order. Empty
// utterances are skipped but keep their index.
func Plan(script dialogue.Script, clipPath func(slide, index int, role string) string) []Clip {
	var clips []Clip
	for _, key := range script.Keys() {
		n, ok := dialogue.SlideNumber(key)
		if !ok {
			continue
		}
		for i, u := range script[key] {
			if strings.TrimSpace(u.Text) == "" {
				continue
			}
			clips = append(clips, Clip{
				Slide: n,
				Index: i + 1,
				Role:  u.Speaker,
				Text:  u.Text,
				Path:  clipPath(n, i+1, string(u.Speaker)),
			})
		}
	}
	return clips
}

// speedFor combines the request scale with the speaker's own speed, or
// with the voice preset when the speaker has none.
func (g *Generator) speedFor(base float64, sp models.Speaker) float64 {
	if sp.Speed > 0 {
		return base * sp.Speed
	}
	return base * g.voices.Multiplier(sp.Name)
}

// Generate renders clips concurrently and returns how many were written.
func (g *Generator) Generate(ctx context.Context, clips []Clip, speakers models.Speakers, scales models.GenerateAudioRequest, progress func(done, total int)) (int, error) {
	if !g.client.Available(ctx) {
		return 0, apperr.New(apperr.Unavailable, "VOICEVOXが起動していません")
	}

	total := len(clips)
	var done atomic.Int32
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Workers)

	for _, clip := range clips {
		speaker := speakers.Speaker1
		if clip.Role == dialogue.Speaker2 {
			speaker = speakers.Speaker2
		}
		eg.Go(func() error {
			if err := g.render(gctx, clip, speaker, scales); err != nil {
				return fmt.Errorf("slide %d utterance %d: %w", clip.Slide, clip.Index, err)
			}
			n := int(done.Add(1))
			if progress != nil {
				progress(n, total)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return int(done.Load()), err
	}
	slog.Info("Audio clips generated.", "count", total)
	return total, nil
}

func (g *Generator) render(ctx context.Context, clip Clip, speaker models.Speaker, scales models.GenerateAudioRequest) error {
	query, err := g.client.AudioQuery(ctx, clip.Text, speaker.ID)
	if err != nil {
		return err
	}
	query["speedScale"] = g.speedFor(scales.SpeedScale, speaker)
	query["pitchScale"] = scales.PitchScale
	query["intonationScale"] = scales.IntonationScale
	query["volumeScale"] = scales.VolumeScale
	query["prePhonemeLength"] = phonemePadding
	query["postPhonemeLength"] = phonemePadding

	wav, err := g.client.Synthesis(ctx, query, speaker.ID, g.cfg.SampleRate)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(clip.Path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(clip.Path, wav, 0o644); err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	if g.post != nil {
		g.post.Apply(ctx, clip.Path)
	}
	return nil
}
