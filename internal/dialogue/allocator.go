package dialogue

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Importance weights slides for time allocation. Keys are 1-based slide numbers.
type Importance map[int]float64

// UniformImportance weights n slides equally.
func UniformImportance(n int) Importance {
	imp := make(Importance, n)
	for i := 1; i <= n; i++ {
		imp[i] = 1.0
	}
	return imp
}

// Weight returns the weight of slide n, substituting 1.0 for missing or
// non-positive entries.
func (imp Importance) Weight(n int) float64 {
	if w, ok := imp[n]; ok && w > 0 {
		return w
	}
	return 1.0
}

// Validate rejects non-positive weights.
func (imp Importance) Validate() error {
	for n, w := range imp {
		if n < 1 {
			return fmt.Errorf("slide number %d out of range", n)
		}
		if w <= 0 {
			return fmt.Errorf("slide %d: weight must be positive, got %v", n, w)
		}
	}
	return nil
}

// MarshalJSON writes {"<n>": weight}.
func (imp Importance) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, len(imp))
	for n, w := range imp {
		m[strconv.Itoa(n)] = w
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads {"<n>": weight}.
func (imp *Importance) UnmarshalJSON(b []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	out := make(Importance, len(m))
	for k, w := range m {
		n, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("importance key %q: %w", k, err)
		}
		out[n] = w
	}
	*imp = out
	return nil
}

// Allocation is the speaking budget per slide in seconds, keyed by slide number.
type Allocation map[int]float64

// Allocate splits durationMinutes across slideCount slides proportionally to
// their weights.
func Allocate(slideCount int, imp Importance, durationMinutes float64) Allocation {
	alloc := make(Allocation, slideCount)
	if slideCount <= 0 {
		return alloc
	}
	total := 0.0
	for n := 1; n <= slideCount; n++ {
		total += imp.Weight(n)
	}
	targetSeconds := durationMinutes * 60
	for n := 1; n <= slideCount; n++ {
		alloc[n] = targetSeconds * imp.Weight(n) / total
	}
	return alloc
}

// importanceNote steers the model toward brevity or depth for outlying weights.
func importanceNote(weight float64) string {
	switch {
	case weight < 0.7:
		return "【重要】このトピックは概要的な内容なので、簡潔にまとめてください。"
	case weight > 1.3:
		return "【重要】このトピックは核心的な内容なので、しっかりと詳しく説明してください。"
	default:
		return ""
	}
}
