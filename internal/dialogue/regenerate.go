package dialogue

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
)

// Regenerator re-synthesizes a subset of slides and leaves the rest untouched.
type Regenerator struct {
	synth    *Synthesizer
	selector llm.Provider
}

// NewRegenerator uses synth for slide calls and selector for interpreting
// natural-language slide selections.
func NewRegenerator(synth *Synthesizer, selector llm.Provider) *Regenerator {
	return &Regenerator{synth: synth, selector: selector}
}

// RegenerateInput describes a partial regeneration.
type RegenerateInput struct {
	Slides   []string
	Existing Script
	// SlideNumbers to regenerate; out-of-range entries are ignored.
	SlideNumbers    []int
	Instruction     string
	History         History
	Importance      Importance
	DurationMinutes float64
	Names           Names
	Knowledge       string
	Progress        Progress
}

// Regenerate replaces only the targeted slides. Each target is paced against
// the full allocation of the deck and sees the current neighbours as context.
func (r *Regenerator) Regenerate(ctx context.Context, in RegenerateInput) (Script, error) {
	total := len(in.Slides)
	names := in.Names.withDefaults(DefaultNames())
	imp := in.Importance
	if imp == nil {
		imp = UniformImportance(total)
	}
	alloc := Allocate(total, imp, in.DurationMinutes)

	targets := validSlides(in.SlideNumbers, total)
	out := in.Existing.Clone()
	for i, n := range targets {
		if in.Progress != nil {
			in.Progress(i, len(targets))
		}
		instruction := in.Instruction
		if in.History != nil {
			instruction = in.History.Combined(n, in.Instruction)
		}
		instruction = joinInstruction(instruction, importanceNote(imp.Weight(n)))

		utterances, err := r.synth.SynthesizeSlide(ctx, SlideRequest{
			Number:      n,
			Total:       total,
			Text:        in.Slides[n-1],
			Allocated:   alloc[n],
			Previous:    recentContext(out, n),
			Names:       names,
			Instruction: instruction,
			Knowledge:   in.Knowledge,
		})
		if err != nil {
			return nil, err
		}
		out[SlideKey(n)] = utterances
	}
	if in.Progress != nil {
		in.Progress(len(targets), len(targets))
	}
	return out, nil
}

func validSlides(numbers []int, total int) []int {
	var out []int
	for _, n := range numbers {
		if n >= 1 && n <= total && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

func allSlides(total int) []int {
	out := make([]int, total)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

type selection struct {
	SlideNumbers []int  `json:"slide_numbers"`
	Reason       string `json:"reason"`
}

// SelectSlides interprets instruction ("1枚目", "後半", ...) as slide numbers.
// Any failure or empty selection selects every slide.
func (r *Regenerator) SelectSlides(ctx context.Context, instruction string, total int) []int {
	all := allSlides(total)
	if r.selector == nil || !r.selector.Available() {
		return all
	}
	raw, err := r.selector.Generate(ctx, llm.Request{
		System:      selectorSystemPrompt,
		User:        selectorUserPrompt(instruction, total),
		Temperature: 0.3,
		MaxTokens:   500,
		JSON:        true,
	})
	if err != nil {
		slog.Warn("slide selection failed, selecting all", "error", err)
		return all
	}
	var sel selection
	if err := json.Unmarshal([]byte(trimToJSON(raw)), &sel); err != nil {
		slog.Warn("slide selection unparseable, selecting all", "error", err)
		return all
	}
	picked := validSlides(sel.SlideNumbers, total)
	if len(picked) == 0 {
		return all
	}
	slog.Info("slides selected for regeneration", "slides", picked, "reason", sel.Reason)
	return picked
}
