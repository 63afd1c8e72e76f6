package dialogue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var longText = strings.Repeat("本文の説明が続きます。", 20)

func TestPlanPacingShortAllocation(t *testing.T) {
	p := PlanPacing(3, 5, longText, 4.5, "")

	assert.Equal(t, ClassOrdinary, p.Class)
	assert.Equal(t, 15, p.CharsPerUtterance)
	assert.Equal(t, 1, p.Min)
	assert.Contains(t, p.Instruction, "【厳守】")
	assert.Contains(t, p.Instruction, "12文字以内")
}

func TestPlanPacingBuckets(t *testing.T) {
	assert.Equal(t, 15, utteranceBucket(4.9))
	assert.Equal(t, 30, utteranceBucket(5))
	assert.Equal(t, 30, utteranceBucket(9.9))
	assert.Equal(t, 90, utteranceBucket(10))
}

func TestEstimateUtterances(t *testing.T) {
	// 300s: raw 18.33, pause 6.0, (294.0*5.5)/90 = 17.97
	assert.Equal(t, 17, EstimateUtterances(300))
	// 8s: raw 1.47, pause 0.94, (7.06*5.5)/30 = 1.29 -> floor 2
	assert.Equal(t, 2, EstimateUtterances(8))
}

func TestPlanPacingOrdinaryBounds(t *testing.T) {
	p := PlanPacing(2, 5, longText, 300, "")
	assert.Equal(t, ClassOrdinary, p.Class)
	assert.Equal(t, 13, p.Min) // int(17*0.8)
	assert.Equal(t, 20, p.Max) // int(17*1.2)
	assert.Equal(t, "13〜20個の発話を作成（各発話は72文字程度、目安時間約300秒）", p.Instruction)
}

func TestPlanPacingAgendaAlwaysThreeToFour(t *testing.T) {
	for _, alloc := range []float64{2, 30, 600} {
		for _, n := range []int{1, 3, 5} {
			p := PlanPacing(n, 5, "目次\n1. 背景\n2. 手法\n3. 結果", alloc, "")
			assert.Equal(t, ClassAgenda, p.Class)
			assert.Equal(t, 3, p.Min)
			assert.Equal(t, 4, p.Max)
		}
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassTitle, Classify(1, 5, longText))
	assert.Equal(t, ClassTitle, Classify(5, 5, longText+"ご清聴ありがとうございました"))
	assert.Equal(t, ClassOrdinary, Classify(5, 5, longText))
	assert.Equal(t, ClassTitle, Classify(3, 5, "短いタイトル"))
	assert.Equal(t, ClassOrdinary, Classify(3, 5, longText))
}

func TestPlanPacingTitle(t *testing.T) {
	p := PlanPacing(1, 5, "機械学習入門", 120, "")
	assert.Equal(t, 4, p.Min)
	assert.Equal(t, 6, p.Max)
	assert.Equal(t, "4〜6個の発話で簡潔に", p.Instruction)
}

func TestPlanPacingTitleClampedToEstimate(t *testing.T) {
	// 4.5s: a single short utterance fits.
	p := PlanPacing(1, 5, "機械学習入門", 4.5, "")
	assert.Equal(t, ClassTitle, p.Class)
	assert.Equal(t, 1, p.Estimated)
	assert.Equal(t, 1, p.Min)
	assert.Equal(t, 1, p.Max)
	assert.Equal(t, "1〜1個の発話で簡潔に", p.Instruction)

	// 30s on a short mid-deck slide: estimate 2.
	p = PlanPacing(7, 20, "クラウドの利点", 30, "")
	assert.Equal(t, ClassTitle, p.Class)
	assert.Equal(t, 2, p.Min)
	assert.Equal(t, 2, p.Max)
}

func TestPlanPacingExchangeOverride(t *testing.T) {
	p := PlanPacing(2, 5, longText, 300, "3回の掛け合いで")
	assert.Equal(t, 6, p.Min)
	assert.Equal(t, "3回の掛け合い（6個の発話）を作成", p.Instruction)

	p = PlanPacing(2, 5, longText, 300, "もっと短くして")
	assert.Equal(t, 4, p.Min)
	assert.Equal(t, "4〜6回の会話のやり取りを作成", p.Instruction)

	// Agenda slides are overridden too.
	p = PlanPacing(2, 5, "目次", 300, "2回だけ")
	assert.Equal(t, 4, p.Min)
	assert.GreaterOrEqual(t, p.Max, p.Min)
}
