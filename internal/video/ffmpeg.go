package video

import (
	"fmt"
	"strconv"
	"strings"
)

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 3, 64) }

// SegmentInput describes one slide's still image and its narration.
type SegmentInput struct {
	Image     string
	Clips     []string
	Durations []float64
}

// segmentArgs renders one slide to an intermediate MP4 whose length is
// SlideDuration(Durations).
func segmentArgs(in SegmentInput, out string) []string {
	dur := SlideDuration(in.Durations)
	args := []string{"-y", "-loglevel", "error",
		"-loop", "1", "-framerate", strconv.Itoa(defaultFrameRate), "-i", in.Image}

	video := "[0:v]crop=trunc(iw/2)*2:trunc(ih/2)*2,format=yuv420p,fps=" + strconv.Itoa(defaultFrameRate) + "[v]"
	var filter []string
	filter = append(filter, video)

	if len(in.Clips) == 0 {
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("anullsrc=r=%d:cl=mono", audioSampleRate))
		filter = append(filter, fmt.Sprintf("[1:a]atrim=0:%s[a]", ftoa(dur)))
	} else {
		var labels strings.Builder
		for i, clip := range in.Clips {
			args = append(args, "-i", clip)
			pad := utteranceGap
			if i == len(in.Clips)-1 {
				pad = slideTail
			}
			label := fmt.Sprintf("[a%d]", i)
			filter = append(filter, fmt.Sprintf("[%d:a]aresample=%d,aformat=channel_layouts=mono,afade=t=in:d=0.05,volume=0.95,apad=pad_dur=%s%s",
				i+1, audioSampleRate, ftoa(pad), label))
			labels.WriteString(label)
		}
		filter = append(filter, fmt.Sprintf("%sconcat=n=%d:v=0:a=1[a]", labels.String(), len(in.Clips)))
	}

	args = append(args,
		"-filter_complex", strings.Join(filter, ";"),
		"-map", "[v]", "-map", "[a]",
		"-t", ftoa(dur))
	args = append(args, intermediateCodec()...)
	return append(args, out)
}

func intermediateCodec() []string {
	return []string{"-c:v", "libx264", "-preset", "veryfast", "-crf", "18", "-pix_fmt", "yuv420p",
		"-c:a", "pcm_s16le", "-ar", strconv.Itoa(audioSampleRate)}
}

// finalCodec is the delivery encoding.
func finalCodec() []string {
	return []string{
		"-c:v", "libx264", "-preset", "faster", "-b:v", "1500k", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "192k", "-ar", strconv.Itoa(audioSampleRate),
		"-max_muxing_queue_size", "1024",
		"-movflags", "+faststart",
	}
}

// JoinInput is the set of rendered segments to stitch.
type JoinInput struct {
	Segments           []string
	Durations          []float64
	Transition         string
	TransitionDuration float64
	BGM                string
	BGMVolume          float64
}

// joinArgs stitches segments with xfade/acrossfade (or concat for cuts),
// optionally mixes a looped BGM and fades the whole video out. It also
// returns the resulting duration.
func joinArgs(in JoinInput, out string) ([]string, float64) {
	args := []string{"-y", "-loglevel", "error"}
	for _, s := range in.Segments {
		args = append(args, "-i", s)
	}

	var filter []string
	xfade := Transition(in.Transition)
	total := in.Durations[0]
	vPrev, aPrev := "[0:v]", "[0:a]"
	for k := 1; k < len(in.Segments); k++ {
		vOut, aOut := fmt.Sprintf("[v%d]", k), fmt.Sprintf("[a%d]", k)
		cur := in.Durations[k]
		d := 0.0
		if xfade != "" {
			d = SafeTransition(in.TransitionDuration, in.Durations[k-1], cur)
		}
		if d > 0.01 {
			offset := total - d
			filter = append(filter,
				fmt.Sprintf("%s[%d:v]xfade=transition=%s:duration=%s:offset=%s%s", vPrev, k, xfade, ftoa(d), ftoa(offset), vOut),
				fmt.Sprintf("%s[%d:a]acrossfade=d=%s%s", aPrev, k, ftoa(d), aOut))
			total += cur - d
		} else {
			filter = append(filter,
				fmt.Sprintf("%s[%d:v]concat=n=2:v=1:a=0%s", vPrev, k, vOut),
				fmt.Sprintf("%s[%d:a]concat=n=2:v=0:a=1%s", aPrev, k, aOut))
			total += cur
		}
		vPrev, aPrev = vOut, aOut
	}

	fadeStart := max(total-finalFadeOut, 0)
	filter = append(filter,
		fmt.Sprintf("%sfade=t=out:st=%s:d=%s[vout]", vPrev, ftoa(fadeStart), ftoa(min(finalFadeOut, total))))

	narration := aPrev
	if in.BGM != "" {
		bgmIndex := len(in.Segments)
		args = append(args, "-stream_loop", "-1", "-i", in.BGM)
		fade := min(maxBGMFade, total/4)
		filter = append(filter,
			fmt.Sprintf("[%d:a]atrim=0:%s,volume=%s,afade=t=in:d=%s,afade=t=out:st=%s:d=%s[bgm]",
				bgmIndex, ftoa(total), ftoa(in.BGMVolume), ftoa(fade), ftoa(max(total-fade, 0)), ftoa(fade)),
			fmt.Sprintf("%s[bgm]amix=inputs=2:duration=first:dropout_transition=0:normalize=0[mix]", narration))
		narration = "[mix]"
	}
	filter = append(filter,
		fmt.Sprintf("%safade=t=out:st=%s:d=%s[aout]", narration, ftoa(fadeStart), ftoa(min(finalFadeOut, total))))

	args = append(args,
		"-filter_complex", strings.Join(filter, ";"),
		"-map", "[vout]", "-map", "[aout]")
	args = append(args, finalCodec()...)
	return append(args, out), total
}

func probeArgs(path string) []string {
	return []string{"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path}
}

func parseDuration(out []byte) (float64, error) {
	s := strings.TrimSpace(string(out))
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", s, err)
	}
	return d, nil
}
