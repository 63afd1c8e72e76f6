package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm/llmtest"
)

func sampleScript() Script {
	return Script{
		"slide_1": {{Speaker1, "AIの話をしよう"}, {Speaker2, "楽しみなのだ"}},
		"slide_2": {{Speaker2, "APIって何なのだ？"}, {Speaker1, "窓口のことよ"}, {Speaker2, "なるほどなのだ"}},
		"slide_3": {{Speaker1, "まとめね"}},
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten(sampleScript(), Names{Speaker1: "めたん", Speaker2: "ずんだもん"})
	want := strings.Join([]string{
		"[slide_1]", "めたん: AIの話をしよう", "ずんだもん: 楽しみなのだ", "",
		"[slide_2]", "ずんだもん: APIって何なのだ？", "めたん: 窓口のことよ", "ずんだもん: なるほどなのだ", "",
		"[slide_3]", "めたん: まとめね",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestLexTagsLines(t *testing.T) {
	lines := Lex("調整しました。\n\n[slide_2]\nめたん：こんにちは\n  ずんだもん: 時刻は10:30なのだ  \n")
	require.Len(t, lines, 4)
	assert.Equal(t, Line{Kind: LineOther, Text: "調整しました。"}, lines[0])
	assert.Equal(t, Line{Kind: LineMarker, Slide: "slide_2"}, lines[1])
	assert.Equal(t, Line{Kind: LineUtterance, Label: "めたん", Text: "こんにちは"}, lines[2])
	assert.Equal(t, Line{Kind: LineUtterance, Label: "ずんだもん", Text: "時刻は10:30なのだ"}, lines[3])
}

func TestAssembleTrustsOriginalRoles(t *testing.T) {
	original := sampleScript()
	out := "[slide_2]\nめたん: 一\nめたん: 二\nめたん: 三\nめたん: 四\nめたん: 五"

	parsed := Assemble(Lex(out), original)

	// Positions 0-2 follow the original, the rest alternate by parity.
	assert.Equal(t, []Utterance{
		{Speaker2, "一"}, {Speaker1, "二"}, {Speaker2, "三"}, {Speaker2, "四"}, {Speaker1, "五"},
	}, parsed["slide_2"])
}

func TestAssembleMarkerResetsSlide(t *testing.T) {
	parsed := Assemble(Lex("orphan: 無視\n[slide_1]\na: x\n[slide_1]\na: y"), sampleScript())
	assert.Equal(t, []Utterance{{Speaker1, "y"}}, parsed["slide_1"])
	assert.Len(t, parsed, 1)
}

func TestReconcileFallsBackAndDiscards(t *testing.T) {
	original := sampleScript()
	parsed := Script{
		"slide_1": {{Speaker1, "改"}},
		"slide_2": {},
		"slide_9": {{Speaker1, "invented"}},
	}

	got := Reconcile(original, parsed)

	assert.Equal(t, []Utterance{{Speaker1, "改"}}, got["slide_1"])
	assert.Equal(t, original["slide_2"], got["slide_2"])
	assert.Equal(t, original["slide_3"], got["slide_3"])
	assert.NotContains(t, got, "slide_9")
	assert.True(t, got.HasSlides(3))
}

func TestRefineRunsThreeStages(t *testing.T) {
	fake := llmtest.New(
		"[slide_1]\nめたん: エーアイの話をしよう\nずんだもん: 楽しみなのだ",
		"completely unrelated prose",
		"[slide_1]\nA: エーアイの話をしようね\nB: 楽しみなのだ\n[slide_3]\nA: まとめよ\n[slide_4]\nA: extra",
	)
	r := NewRefiner(fake, DefaultRefinerConfig())

	got, err := r.Refine(context.Background(), sampleScript(), Names{Speaker1: "めたん", Speaker2: "ずんだもん"}, "もっと簡潔に")
	require.NoError(t, err)

	assert.True(t, got.HasSlides(3))
	assert.Equal(t, []Utterance{{Speaker1, "エーアイの話をしようね"}, {Speaker2, "楽しみなのだ"}}, got["slide_1"])
	assert.Equal(t, sampleScript()["slide_2"], got["slide_2"])
	assert.Equal(t, []Utterance{{Speaker1, "まとめよ"}}, got["slide_3"])

	require.Len(t, fake.Calls, 3)
	assert.Equal(t, []float64{0.3, 0.1, 0.1}, []float64{fake.Calls[0].Temperature, fake.Calls[1].Temperature, fake.Calls[2].Temperature})
	assert.Contains(t, fake.Calls[0].User, "追加の指示: もっと簡潔に")
	assert.Contains(t, fake.Calls[1].System, "カタカナ")
	assert.Contains(t, fake.Calls[1].User, "[slide_1]\nめたん: エーアイの話をしよう")
	assert.Contains(t, fake.Calls[2].System, "表記統一")
	for _, c := range fake.Calls {
		assert.Equal(t, 4000, c.MaxTokens)
		assert.False(t, c.JSON)
	}
}

func TestRefineNeverLosesUtterancesOfUntouchedSlides(t *testing.T) {
	original := sampleScript()
	fake := &llmtest.Scripted{Fallback: func(llm.Request) (string, error) { return "[slide_1]\n", nil }}

	got, err := NewRefiner(fake, RefinerConfig{}).Refine(context.Background(), original, Names{}, "")
	require.NoError(t, err)
	for key, utterances := range original {
		assert.GreaterOrEqual(t, len(got[key]), len(utterances), key)
	}
}

func TestRefinePropagatesProviderError(t *testing.T) {
	fake := llmtest.New().Push(llmtest.Reply{Err: errors.New("boom")})
	_, err := NewRefiner(fake, RefinerConfig{}).Refine(context.Background(), sampleScript(), Names{}, "")
	assert.ErrorContains(t, err, "refine consistency")
}
