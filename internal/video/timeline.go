// Package video composes slide images and narration clips into an MP4
// with ffmpeg.
package video

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	utteranceGap     = 0.2
	slideTail        = 0.3
	silentSlide      = 5.0
	transitionShare  = 0.3
	finalFadeOut     = 1.0
	maxBGMFade       = 2.0
	defaultFrameRate = 24
	audioSampleRate  = 24000
)

// SlideDuration is how long a slide stays on screen for the given clip
// lengths: clips back to back with short gaps, then a tail.
func SlideDuration(clips []float64) float64 {
	if len(clips) == 0 {
		return silentSlide
	}
	total := slideTail + utteranceGap*float64(len(clips)-1)
	for _, d := range clips {
		total += d
	}
	return total
}

var xfadeNames = map[string]string{
	"crossfade": "fade",
	"fade":      "fadeblack",
	"slide":     "slideleft",
	"zoom":      "zoomin",
}

// Transition returns the ffmpeg xfade name for a transition type, or ""
// for a plain cut. Unknown types fall back to a crossfade.
func Transition(kind string) string {
	if kind == "none" {
		return ""
	}
	if name, ok := xfadeNames[kind]; ok {
		return name
	}
	return xfadeNames["crossfade"]
}

// SafeTransition shortens a transition so it never covers more than 30% of
// either neighbouring slide.
func SafeTransition(requested, prev, cur float64) float64 {
	d := min(requested, prev*transitionShare, cur*transitionShare)
	if d < 0 {
		return 0
	}
	return d
}

// ResolveBGM picks the background track: an existing absolute path, a name
// inside bgmDir, then the deployment default. It returns "" when nothing
// usable exists.
func ResolveBGM(requested, bgmDir, fallback string) string {
	var candidates []string
	if requested != "" {
		if filepath.IsAbs(requested) {
			candidates = append(candidates, requested)
		} else {
			candidates = append(candidates, filepath.Join(bgmDir, requested))
		}
	}
	if fallback != "" {
		candidates = append(candidates, fallback)
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	slog.Warn("BGM file not found, video will have narration only.", "requested", requested, "fallback", fallback)
	return ""
}
