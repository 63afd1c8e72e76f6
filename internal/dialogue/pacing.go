package dialogue

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SlideClass selects the utterance-count policy of a slide.
type SlideClass int

const (
	ClassOrdinary SlideClass = iota
	ClassTitle
	ClassAgenda
)

func (c SlideClass) String() string {
	return [...]string{"ordinary", "title", "agenda"}[c]
}

var (
	agendaKeywords   = []string{"アジェンダ", "目次", "Agenda", "Contents", "内容", "今日の内容", "本日の内容"}
	closingKeywords  = []string{"ありがとう", "終", "まとめ", "おわり", "Thank", "End", "Summary", "Conclusion"}
	countOverrideHit = []string{"短く", "少なく", "2回", "3回", "4回"}
	exchangeCountRe  = regexp.MustCompile(`(\d+)回`)
)

const shortSlideChars = 100

// Classify decides the class of slide n of total. Agenda detection wins over
// the title heuristics.
func Classify(n, total int, text string) SlideClass {
	if containsAny(text, agendaKeywords) {
		return ClassAgenda
	}
	switch {
	case n == 1:
		return ClassTitle
	case n == total:
		if containsAny(text, closingKeywords) {
			return ClassTitle
		}
	case len([]rune(strings.TrimSpace(text))) < shortSlideChars:
		return ClassTitle
	}
	return ClassOrdinary
}

// Pacing is the utterance budget of one slide.
type Pacing struct {
	Class             SlideClass
	Allocated         float64
	CharsPerUtterance int
	Estimated         int
	Min               int
	Max               int
	// Instruction is the natural-language count request sent to the model.
	Instruction string
}

// utteranceBucket returns the target characters per utterance for an allocation.
func utteranceBucket(allocated float64) int {
	switch {
	case allocated < 5:
		return 15
	case allocated < 10:
		return 30
	default:
		return 90
	}
}

// EstimateUtterances derives the utterance count that fits allocated seconds
// once pauses are accounted for.
func EstimateUtterances(allocated float64) int {
	bucket := float64(utteranceBucket(allocated))
	raw := allocated * charsPerSecond / bucket
	pause := slidePause + raw*utterancePause
	est := int((allocated - pause) * charsPerSecond / bucket)
	return max(utteranceFloor(allocated), est)
}

func utteranceFloor(allocated float64) int {
	if allocated < 5 {
		return 1
	}
	return 2
}

// PlanPacing computes the utterance bounds of slide n. A steering instruction
// asking for a specific exchange count overrides every other rule.
func PlanPacing(n, total int, text string, allocated float64, instruction string) Pacing {
	p := Pacing{
		Class:             Classify(n, total, text),
		Allocated:         allocated,
		CharsPerUtterance: utteranceBucket(allocated),
		Estimated:         EstimateUtterances(allocated),
	}

	switch p.Class {
	case ClassAgenda:
		p.Min, p.Max = 3, 4
		p.Instruction = "3〜4個の発話で簡潔に（speaker1が項目を読み上げ、speaker2が最後に期待感を示すだけ）"
	case ClassTitle:
		p.Min, p.Max = min(4, p.Estimated), min(6, p.Estimated)
		p.Instruction = fmt.Sprintf("%d〜%d個の発話で簡潔に", p.Min, p.Max)
	default:
		p.Min = max(utteranceFloor(allocated), int(float64(p.Estimated)*0.8))
		p.Max = max(p.Min, int(float64(p.Estimated)*1.2))
		charHint := int(float64(p.CharsPerUtterance) * 0.8)
		if allocated < 5 {
			p.Instruction = fmt.Sprintf("【厳守】%d〜%d個の発話のみ（各発話は必ず%d文字以内、合計%d秒以内）",
				p.Min, p.Max, charHint, int(allocated))
		} else {
			p.Instruction = fmt.Sprintf("%d〜%d個の発話を作成（各発話は%d文字程度、目安時間約%d秒）",
				p.Min, p.Max, charHint, int(allocated))
		}
	}

	if instruction != "" && containsAny(instruction, countOverrideHit) {
		if m := exchangeCountRe.FindStringSubmatch(instruction); m != nil {
			count, _ := strconv.Atoi(m[1])
			p.Min = count * 2
			p.Instruction = fmt.Sprintf("%d回の掛け合い（%d個の発話）を作成", count, count*2)
		} else {
			p.Min = 4
			p.Instruction = "4〜6回の会話のやり取りを作成"
		}
		p.Max = max(p.Max, p.Min)
	}
	return p
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
