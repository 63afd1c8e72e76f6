// Package dialogue turns per-slide text into a paced two-speaker script and
// keeps that script structurally intact through refinement, regeneration and
// CSV round trips.
package dialogue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Role is the abstract speaker of an utterance. Display names are resolved
// from job metadata.
type Role string

const (
	Speaker1 Role = "speaker1"
	Speaker2 Role = "speaker2"
)

// Utterance is one line of dialogue.
type Utterance struct {
	Speaker Role   `json:"speaker"`
	Text    string `json:"text"`
}

// Script maps slide keys (slide_<n>) to utterances in speaking order.
type Script map[string][]Utterance

const slideKeyPrefix = "slide_"

// SlideKey returns the script key of slide n (1-based).
func SlideKey(n int) string { return slideKeyPrefix + strconv.Itoa(n) }

// SlideNumber parses a slide key.
func SlideNumber(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, slideKeyPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Keys returns the slide keys in numeric order. Keys that are not slide keys
// sort last, alphabetically.
func (s Script) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aok := SlideNumber(keys[i])
		b, bok := SlideNumber(keys[j])
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

// Clone copies the key set. Utterance slices are shared until replaced, so
// untouched slides stay identical to the source.
func (s Script) Clone() Script {
	out := make(Script, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// UtteranceCount returns the number of utterances across all slides.
func (s Script) UtteranceCount() int {
	n := 0
	for _, u := range s {
		n += len(u)
	}
	return n
}

// HasSlides reports whether the key set is exactly slide_1..slide_n.
func (s Script) HasSlides(n int) bool {
	if len(s) != n {
		return false
	}
	for i := 1; i <= n; i++ {
		if _, ok := s[SlideKey(i)]; !ok {
			return false
		}
	}
	return true
}

// MarshalJSON writes slides in numeric order rather than Go's lexical map order.
func (s Script) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	out := bytes.NewBufferString("{")
	for i, k := range s.Keys() {
		if i > 0 {
			out.WriteByte(',')
		}
		buf.Reset()
		if err := enc.Encode(k); err != nil {
			return nil, err
		}
		out.Write(bytes.TrimSpace(buf.Bytes()))
		out.WriteByte(':')

		utterances := s[k]
		if utterances == nil {
			utterances = []Utterance{}
		}
		buf.Reset()
		if err := enc.Encode(utterances); err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		out.Write(bytes.TrimSpace(buf.Bytes()))
	}
	out.WriteByte('}')
	return out.Bytes(), nil
}

const (
	charsPerSecond = 5.5
	slidePause     = 0.5
	utterancePause = 0.3
)

// EstimateDuration approximates the narration length in seconds, rounded to 0.1.
func EstimateDuration(s Script) float64 {
	chars := 0
	for _, utterances := range s {
		for _, u := range utterances {
			chars += len([]rune(u.Text))
		}
	}
	total := float64(chars)/charsPerSecond + float64(len(s))*slidePause + float64(s.UtteranceCount())*utterancePause
	return math.Round(total*10) / 10
}

// FormatDuration renders seconds as "N分M秒".
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	whole := int(seconds)
	return fmt.Sprintf("%d分%d秒", whole/60, whole%60)
}
