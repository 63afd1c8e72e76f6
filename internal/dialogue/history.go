package dialogue

import (
	"fmt"
	"strings"
	"time"
)

// HistoryEntry is one past regeneration instruction.
type HistoryEntry struct {
	Timestamp   string `json:"timestamp"`
	Instruction string `json:"instruction"`
}

// History holds append-only instructions per slide key. It is stored as
// {"slide_n": [{"timestamp", "instruction"}]}.
type History map[string][]HistoryEntry

// Add appends instruction to every listed slide with a shared timestamp.
func (h History) Add(slides []int, instruction string, now time.Time) {
	ts := now.Format("2006-01-02T15:04:05.000000")
	for _, n := range slides {
		key := SlideKey(n)
		h[key] = append(h[key], HistoryEntry{Timestamp: ts, Instruction: instruction})
	}
}

// Slide returns the instructions of slide n, oldest first.
func (h History) Slide(n int) []HistoryEntry {
	return h[SlideKey(n)]
}

// Combined merges past instructions of slide n with the new one, most recent last.
func (h History) Combined(n int, instruction string) string {
	past := h.Slide(n)
	if len(past) == 0 {
		return instruction
	}
	var sb strings.Builder
	sb.WriteString("このスライドに対する過去の指示:\n")
	for i, e := range past {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, e.Instruction)
	}
	fmt.Fprintf(&sb, "\n今回の新しい指示:\n%s\n", instruction)
	sb.WriteString("\n重要: すべての指示を考慮して対話を生成してください。")
	return sb.String()
}

// Clear drops the history of slide n.
func (h History) Clear(n int) {
	delete(h, SlideKey(n))
}
