package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
)

// RefinerConfig tunes the three whole-document passes.
type RefinerConfig struct {
	ConsistencyTemperature     float64
	TransliterationTemperature float64
	NotationTemperature        float64
	MaxTokens                  int
}

// DefaultRefinerConfig returns the production call parameters.
func DefaultRefinerConfig() RefinerConfig {
	return RefinerConfig{
		ConsistencyTemperature:     0.3,
		TransliterationTemperature: 0.1,
		NotationTemperature:        0.1,
		MaxTokens:                  4000,
	}
}

// Refiner rewrites a complete script in three passes without changing its
// slide keys or losing slides.
type Refiner struct {
	provider llm.Provider
	cfg      RefinerConfig
}

func NewRefiner(p llm.Provider, cfg RefinerConfig) *Refiner {
	if cfg.MaxTokens <= 0 {
		cfg = DefaultRefinerConfig()
	}
	return &Refiner{provider: p, cfg: cfg}
}

type refineStage struct {
	name        string
	system      string
	user        string
	temperature float64
}

// Refine runs consistency, transliteration and notation unification in order.
// adjustment is an optional extra instruction for the consistency pass.
func (r *Refiner) Refine(ctx context.Context, script Script, names Names, adjustment string) (Script, error) {
	names = names.withDefaults(Names{Speaker1: string(Speaker1), Speaker2: string(Speaker2)})
	current := script

	stages := []func(flat string) refineStage{
		func(flat string) refineStage {
			return refineStage{"consistency", consistencySystemPrompt(names), consistencyUserPrompt(flat, adjustment), r.cfg.ConsistencyTemperature}
		},
		func(flat string) refineStage {
			return refineStage{"transliteration", transliterationSystemPrompt(names), transliterationUserPrompt(flat), r.cfg.TransliterationTemperature}
		},
		func(flat string) refineStage {
			return refineStage{"notation", notationSystemPrompt(names), notationUserPrompt(flat), r.cfg.NotationTemperature}
		},
	}

	for _, build := range stages {
		st := build(Flatten(current, names))
		out, err := r.provider.Generate(ctx, llm.Request{
			System:      st.system,
			User:        st.user,
			Temperature: st.temperature,
			MaxTokens:   r.cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("refine %s: %w", st.name, err)
		}
		parsed := Assemble(Lex(out), current)
		current = Reconcile(current, parsed)
		slog.Debug("refine stage done", "stage", st.name, "slides", len(current))
	}
	return current, nil
}

// Flatten renders a script as "[slide_n]" blocks of "name: text" lines in
// slide order. Empty slides are omitted.
func Flatten(script Script, names Names) string {
	var sb strings.Builder
	for _, key := range script.Keys() {
		utterances := script[key]
		if len(utterances) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "[%s]\n", key)
		for _, u := range utterances {
			fmt.Fprintf(&sb, "%s: %s\n", names.Display(u.Speaker), u.Text)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// LineKind tags a line of refined model output.
type LineKind int

const (
	LineOther LineKind = iota
	LineMarker
	LineUtterance
)

// Line is one parsed line of a refined document.
type Line struct {
	Kind  LineKind
	Slide string // LineMarker
	Label string // LineUtterance
	Text  string // LineUtterance
}

var utteranceLineRe = regexp.MustCompile(`^(.+?)[:：]\s*(.+)$`)

// Lex classifies every non-blank line of model output.
func Lex(text string) []Line {
	var lines []Line
	for _, raw := range strings.Split(strings.TrimSpace(text), "\n") {
		l := strings.TrimSpace(raw)
		if l == "" {
			continue
		}
		if strings.HasPrefix(l, "[slide_") && strings.HasSuffix(l, "]") {
			lines = append(lines, Line{Kind: LineMarker, Slide: l[1 : len(l)-1]})
			continue
		}
		if m := utteranceLineRe.FindStringSubmatch(l); m != nil {
			lines = append(lines, Line{Kind: LineUtterance, Label: strings.TrimSpace(m[1]), Text: strings.TrimSpace(m[2])})
			continue
		}
		lines = append(lines, Line{Kind: LineOther, Text: l})
	}
	return lines
}

// Assemble rebuilds a script from lexed lines. A marker starts a fresh list for
// its slide. Speaker roles follow the original script position by position and
// alternate once the original runs out; the model's labels are ignored.
func Assemble(lines []Line, original Script) Script {
	parsed := make(Script)
	current := ""
	for _, l := range lines {
		switch l.Kind {
		case LineMarker:
			current = l.Slide
			parsed[current] = []Utterance{}
		case LineUtterance:
			if current == "" {
				continue
			}
			pos := len(parsed[current])
			var role Role
			if orig, ok := original[current]; ok && pos < len(orig) {
				role = orig[pos].Speaker
			} else if pos%2 == 0 {
				role = Speaker1
			} else {
				role = Speaker2
			}
			parsed[current] = append(parsed[current], Utterance{Speaker: role, Text: l.Text})
		}
	}
	return parsed
}

// Reconcile keeps exactly the original key set. Slides the model dropped or
// emptied fall back to the original content; invented slides are discarded.
func Reconcile(original, parsed Script) Script {
	out := make(Script, len(original))
	for key, orig := range original {
		if p := parsed[key]; len(p) > 0 {
			out[key] = p
		} else {
			out[key] = orig
		}
	}
	return out
}
