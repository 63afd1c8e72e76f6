package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm/llmtest"
)

func dialogueJSON(n int, prefix string) string {
	items := make([]Utterance, n)
	for i := range items {
		role := Speaker1
		if i%2 == 1 {
			role = Speaker2
		}
		items[i] = Utterance{Speaker: role, Text: fmt.Sprintf("%s-%d", prefix, i+1)}
	}
	b, _ := json.Marshal(map[string]any{"dialogue": items})
	return string(b)
}

func testSynth(p llm.Provider) *Synthesizer {
	return NewSynthesizer(p, SynthesizerConfig{MaxRetries: 3})
}

func TestSynthesizeSlideInsufficientAfterRetries(t *testing.T) {
	fake := llmtest.New(dialogueJSON(1, "a"), dialogueJSON(1, "b"), dialogueJSON(1, "c"))

	_, err := testSynth(fake).SynthesizeSlide(context.Background(), SlideRequest{
		Number: 1, Total: 3, Text: "タイトル", Allocated: 200,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientDialogue)
	var slideErr *SlideError
	require.ErrorAs(t, err, &slideErr)
	assert.Equal(t, 1, slideErr.Slide)
	assert.Equal(t, 3, slideErr.Attempts)
	assert.Equal(t, 3, fake.CallCount())
}

func TestSynthesizeSlideMalformedExhaustionIsInsufficient(t *testing.T) {
	fake := llmtest.New("not json", "", `{"dialogue": "text"}`)

	_, err := testSynth(fake).SynthesizeSlide(context.Background(), SlideRequest{
		Number: 2, Total: 3, Text: longText, Allocated: 60,
	})

	assert.ErrorIs(t, err, ErrInsufficientDialogue)
	assert.ErrorIs(t, err, ErrMalformedDialogue)
	var slideErr *SlideError
	require.ErrorAs(t, err, &slideErr)
	assert.Equal(t, 3, slideErr.Attempts)
}

func TestSynthesizeAbortsWholeRun(t *testing.T) {
	fake := llmtest.New(dialogueJSON(4, "s1"), `{"dialogue":[{"speaker":"speaker1","text":"x"}]}`, "", "not json")

	script, err := testSynth(fake).Synthesize(context.Background(), Input{
		Slides:          []string{"タイトル", longText, longText},
		DurationMinutes: 1,
	})

	assert.Nil(t, script)
	var slideErr *SlideError
	require.ErrorAs(t, err, &slideErr)
	assert.Equal(t, 2, slideErr.Slide)
	assert.Equal(t, 4, fake.CallCount())
}

func TestSynthesizeSlideRecoversOnRetry(t *testing.T) {
	fake := llmtest.New("", "```json\n{oops", dialogueJSON(5, "ok"))

	got, err := testSynth(fake).SynthesizeSlide(context.Background(), SlideRequest{
		Number: 1, Total: 1, Text: "表紙", Allocated: 60,
	})
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, 3, fake.CallCount())
}

func TestSynthesizeSlideStopsOnMissingCredential(t *testing.T) {
	fake := llmtest.New().Push(llmtest.Reply{Err: apperr.New(apperr.LLMNotConfigured, "no key")})

	_, err := testSynth(fake).SynthesizeSlide(context.Background(), SlideRequest{Number: 1, Total: 1, Text: "x", Allocated: 60})
	assert.True(t, apperr.IsCode(err, apperr.LLMNotConfigured))
	assert.Equal(t, 1, fake.CallCount())
}

func TestSynthesizeSlideLeavesProviderRetriesToProvider(t *testing.T) {
	fake := llmtest.New().
		Push(llmtest.Reply{Err: apperr.New(apperr.LLMRateLimited, "429")}).
		Push(llmtest.Reply{Text: dialogueJSON(6, "late")})

	_, err := testSynth(fake).SynthesizeSlide(context.Background(), SlideRequest{Number: 1, Total: 1, Text: "x", Allocated: 60})

	assert.True(t, apperr.IsCode(err, apperr.LLMRateLimited))
	assert.NotErrorIs(t, err, ErrInsufficientDialogue)
	var slideErr *SlideError
	require.ErrorAs(t, err, &slideErr)
	assert.Equal(t, 1, slideErr.Attempts)
	assert.Equal(t, 1, fake.CallCount())
}

func TestSynthesizeRequestParameters(t *testing.T) {
	fake := llmtest.New(dialogueJSON(4, "s1"), dialogueJSON(20, "s2"))

	script, err := testSynth(fake).Synthesize(context.Background(), Input{
		Slides:          []string{"はじめに", longText},
		DurationMinutes: 10,
		Names:           Names{Speaker1: "九州そら", Speaker2: "ずんだもん"},
		Instruction:     "ラジオ風に",
		Knowledge:       "補足資料",
	})
	require.NoError(t, err)
	assert.True(t, script.HasSlides(2))

	require.Len(t, fake.Calls, 2)
	first, second := fake.Calls[0], fake.Calls[1]
	assert.True(t, first.JSON)
	assert.Equal(t, 0.8, first.Temperature)
	assert.Equal(t, 3000, first.MaxTokens)
	assert.Contains(t, first.System, "九州そら（speaker1）")
	assert.Contains(t, first.System, "【会話スタイル】ラジオ風に")
	assert.Contains(t, first.User, "トピック1/2")
	assert.Contains(t, first.User, "表紙・タイトルページ")
	assert.Contains(t, first.User, "【補助ナレッジ】")
	assert.NotContains(t, first.User, "これまでの対話内容")

	assert.Contains(t, second.User, "これまでの対話内容")
	assert.Contains(t, second.User, "- speaker1: s1-1")
	assert.Contains(t, second.User, "これは2番目のトピックです")
}

func TestRecentContextKeepsTwoNonEmpty(t *testing.T) {
	script := Script{
		"slide_1":  {{Speaker: Speaker1, Text: "a"}},
		"slide_2":  {{Speaker: Speaker1, Text: "b"}},
		"slide_3":  {},
		"slide_4":  {{Speaker: Speaker2, Text: "d"}},
		"slide_10": {{Speaker: Speaker2, Text: "j"}},
	}
	got := recentContext(script, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "slide_2", got[0].Key)
	assert.Equal(t, "slide_4", got[1].Key)
	assert.Empty(t, recentContext(script, 1))
}

func TestDecodeUtterancesEnvelopes(t *testing.T) {
	arr := `[{"speaker":"speaker1","text":"一"},{"speaker":"speaker2","text":"二"}]`
	tests := []struct {
		name string
		raw  string
	}{
		{"bare array", arr},
		{"dialogue key", `{"dialogue":` + arr + `}`},
		{"slide key", `{"slide_7":` + arr + `}`},
		{"first value", `{"conversation":` + arr + `,"other":[]}`},
		{"prose around", "以下です。\n{\"dialogue\":" + arr + "}\nよろしく"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeUtterances(tt.raw, "slide_7")
			require.NoError(t, err)
			assert.Equal(t, []Utterance{{Speaker1, "一"}, {Speaker2, "二"}}, got)
		})
	}
}

func TestDecodeUtterancesNormalizesRoles(t *testing.T) {
	got, err := decodeUtterances(`{"dialogue":[{"speaker":"metan","text":"a"},{"speaker":"zundamon","text":"b"},{"speaker":"?","text":"c"},{"speaker":"x","text":"  "}]}`, "slide_1")
	require.NoError(t, err)
	assert.Equal(t, []Utterance{{Speaker1, "a"}, {Speaker2, "b"}, {Speaker1, "c"}}, got)
}

func TestDecodeUtterancesRejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "no json here", `{"dialogue": "text"}`, `{}`} {
		_, err := decodeUtterances(raw, "slide_1")
		assert.ErrorIs(t, err, ErrMalformedDialogue, raw)
	}
}

func TestSystemPromptCharacterStyles(t *testing.T) {
	p := synthesisSystemPrompt(Names{Speaker1: "未知の声", Speaker2: "ずんだもん"}, "")
	assert.Contains(t, p, "親しみやすく丁寧な話し方。")
	assert.Contains(t, p, "なのだ")
	assert.False(t, strings.Contains(p, "【会話スタイル】"))
}
