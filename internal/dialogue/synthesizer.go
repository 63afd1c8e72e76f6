package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
)

var (
	// ErrInsufficientDialogue means every attempt returned an empty, malformed
	// or too-short answer.
	ErrInsufficientDialogue = errors.New("insufficient dialogue")
	// ErrMalformedDialogue means the model's answer was empty or not the expected JSON.
	ErrMalformedDialogue = errors.New("malformed dialogue response")
)

const contextWindow = 2

// SlideError reports which slide aborted a synthesis run.
type SlideError struct {
	Slide    int
	Attempts int
	Err      error
}

func (e *SlideError) Error() string {
	return fmt.Sprintf("slide %d failed after %d attempt(s): %v", e.Slide, e.Attempts, e.Err)
}

func (e *SlideError) Unwrap() error { return e.Err }

// SynthesizerConfig tunes the per-slide model call.
type SynthesizerConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	Temperature float64
	MaxTokens   int
}

// DefaultSynthesizerConfig returns the production call parameters.
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		MaxRetries:  3,
		RetryDelay:  2 * time.Second,
		Temperature: 0.8,
		MaxTokens:   3000,
	}
}

// Synthesizer produces a script one slide at a time.
type Synthesizer struct {
	provider llm.Provider
	cfg      SynthesizerConfig
}

// NewSynthesizer returns a synthesizer. Zero config fields take the defaults.
func NewSynthesizer(p llm.Provider, cfg SynthesizerConfig) *Synthesizer {
	def := DefaultSynthesizerConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	return &Synthesizer{provider: p, cfg: cfg}
}

// Progress is called before each slide with the number of slides already done.
type Progress func(done, total int)

// Input describes a full synthesis run.
type Input struct {
	Slides          []string
	Importance      Importance
	DurationMinutes float64
	Names           Names
	Instruction     string
	Knowledge       string
	Progress        Progress
}

// Synthesize builds a complete script. The first failing slide aborts the run
// and no partial script is returned.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (Script, error) {
	total := len(in.Slides)
	if total == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "no slides to synthesize")
	}
	names := in.Names.withDefaults(DefaultNames())
	imp := in.Importance
	if imp == nil {
		imp = UniformImportance(total)
	}
	alloc := Allocate(total, imp, in.DurationMinutes)
	slog.Debug("slide time allocation", "allocation", alloc)

	script := make(Script, total)
	for i, text := range in.Slides {
		n := i + 1
		if in.Progress != nil {
			in.Progress(i, total)
		}
		instruction := joinInstruction(in.Instruction, importanceNote(imp.Weight(n)))
		utterances, err := s.SynthesizeSlide(ctx, SlideRequest{
			Number:      n,
			Total:       total,
			Text:        text,
			Allocated:   alloc[n],
			Previous:    recentContext(script, n),
			Names:       names,
			Instruction: instruction,
			Knowledge:   in.Knowledge,
		})
		if err != nil {
			return nil, err
		}
		script[SlideKey(n)] = utterances
	}
	if in.Progress != nil {
		in.Progress(total, total)
	}
	return script, nil
}

// SlideRequest is one slide's synthesis call.
type SlideRequest struct {
	Number      int
	Total       int
	Text        string
	Allocated   float64
	Previous    []priorSlide
	Names       Names
	Instruction string
	Knowledge   string
}

// SynthesizeSlide asks the model for one slide's utterances, retrying empty,
// malformed or too-short answers. A provider error ends the slide at once.
func (s *Synthesizer) SynthesizeSlide(ctx context.Context, req SlideRequest) ([]Utterance, error) {
	names := req.Names.withDefaults(DefaultNames())
	pacing := PlanPacing(req.Number, req.Total, req.Text, req.Allocated, req.Instruction)
	key := SlideKey(req.Number)
	logCtx := slog.With("slide", req.Number, "class", pacing.Class.String(), "min", pacing.Min, "max", pacing.Max)

	call := llm.Request{
		System: synthesisSystemPrompt(names, req.Instruction),
		User: synthesisUserPrompt(slidePromptInput{
			Number:      req.Number,
			Total:       req.Total,
			Text:        req.Text,
			Names:       names,
			Previous:    req.Previous,
			Pacing:      pacing,
			Knowledge:   req.Knowledge,
			Instruction: req.Instruction,
		}),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		JSON:        true,
	}

	var lastErr error
	attempt := 0
	for attempt < s.cfg.MaxRetries {
		attempt++
		raw, err := s.provider.Generate(ctx, call)
		if err != nil {
			// Transport and rate-limit retries happen inside the provider.
			logCtx.Warn("dialogue call failed", "attempt", attempt, "error", err)
			return nil, &SlideError{Slide: req.Number, Attempts: attempt, Err: err}
		}

		utterances, err := decodeUtterances(raw, key)
		if err != nil {
			lastErr = err
			logCtx.Warn("dialogue response rejected", "attempt", attempt, "error", err)
		} else if len(utterances) < pacing.Min {
			lastErr = fmt.Errorf("got %d, need at least %d", len(utterances), pacing.Min)
			logCtx.Warn("dialogue too short", "attempt", attempt, "got", len(utterances))
		} else {
			logCtx.Info("slide dialogue accepted", "utterances", len(utterances), "attempt", attempt)
			return utterances, nil
		}
		if attempt < s.cfg.MaxRetries {
			if err := sleepCtx(ctx, s.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, &SlideError{
		Slide:    req.Number,
		Attempts: attempt,
		Err:      fmt.Errorf("%w: %w", ErrInsufficientDialogue, lastErr),
	}
}

// recentContext returns up to two non-empty slides before n, oldest first.
func recentContext(script Script, n int) []priorSlide {
	var out []priorSlide
	for i := n - 1; i >= 1 && len(out) < contextWindow; i-- {
		key := SlideKey(i)
		if u := script[key]; len(u) > 0 {
			out = append([]priorSlide{{Key: key, Utterances: u}}, out...)
		}
	}
	return out
}

func joinInstruction(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

type rawUtterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// decodeUtterances accepts a bare array, {"dialogue": [...]}, {"slide_n": [...]}
// or, failing those, the first value of the object.
func decodeUtterances(raw, key string) ([]Utterance, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedDialogue)
	}
	body := []byte(raw)
	if !json.Valid(body) {
		body = []byte(trimToJSON(raw))
		if !json.Valid(body) {
			return nil, fmt.Errorf("%w: not JSON", ErrMalformedDialogue)
		}
	}

	list := body
	if body[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDialogue, err)
		}
		switch {
		case obj["dialogue"] != nil:
			list = obj["dialogue"]
		case obj[key] != nil:
			list = obj[key]
		default:
			first, err := firstObjectValue(body)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedDialogue, err)
			}
			list = first
		}
	}

	var items []rawUtterance
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, fmt.Errorf("%w: utterance list: %v", ErrMalformedDialogue, err)
	}
	out := make([]Utterance, 0, len(items))
	for _, it := range items {
		text := strings.TrimSpace(it.Text)
		if text == "" {
			continue
		}
		out = append(out, Utterance{Speaker: normalizeRole(it.Speaker, len(out)), Text: text})
	}
	return out, nil
}

// normalizeRole maps legacy labels and falls back to alternating roles.
func normalizeRole(s string, index int) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "speaker1", "metan", "a":
		return Speaker1
	case "speaker2", "zundamon", "b":
		return Speaker2
	}
	if index%2 == 0 {
		return Speaker1
	}
	return Speaker2
}

// firstObjectValue returns the value of the first key in document order.
func firstObjectValue(body []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if !dec.More() {
		return nil, errors.New("empty object")
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// trimToJSON cuts leading and trailing prose around the outermost JSON value.
func trimToJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return s
	}
	return s[start : end+1]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
