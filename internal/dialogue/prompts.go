package dialogue

import (
	"fmt"
	"strings"
)

// Names are the display names of the two roles.
type Names struct {
	Speaker1 string
	Speaker2 string
}

// DefaultNames are the voices used when a job names none.
func DefaultNames() Names {
	return Names{Speaker1: "四国めたん", Speaker2: "ずんだもん"}
}

func (n Names) withDefaults(fallback Names) Names {
	if n.Speaker1 == "" {
		n.Speaker1 = fallback.Speaker1
	}
	if n.Speaker2 == "" {
		n.Speaker2 = fallback.Speaker2
	}
	return n
}

// Display returns the display name of role.
func (n Names) Display(r Role) string {
	if r == Speaker2 {
		return n.Speaker2
	}
	return n.Speaker1
}

var characterStyles = map[string]string{
	"ずんだもん":    "【重要】必ず「〜なのだ」「〜だぞ」という語尾を使用。驚きや興味を素直に表現する。",
	"四国めたん":    "親しみやすく丁寧な話し方。標準語で話す。",
	"春日部つむぎ":   "元気で明るい話し方。「〜ですよ」「〜ですね」を使う。",
	"波音リツ":     "クールで知的な話し方。落ち着いたトーンで標準語を使う。",
	"九州そら":     "落ち着いた優しい話し方。丁寧で聞き取りやすい標準語を使う。「〜ですね」「〜でしょう」など。",
	"中国うさぎ":    "「〜あるよ」「〜ね」など独特な話し方。",
	"WhiteCUL": "感情豊かで「〜だよ！」「〜かな？」を使う。",
	"さとうささら":   "優しく柔らかい話し方。「〜ですわ」を使うことも。",
	"小夜/SAYO":  "ミステリアスで落ち着いた話し方。",
	"雨晴はう":     "のんびりとした話し方。「〜だねぇ」を使う。",
	"玄野武宏":     "落ち着いた男性的な話し方。ビジネスライクで信頼感がある。",
	"白上虎太郎":    "若々しく活発な男性の話し方。親しみやすい。",
	"青山龍星":     "プロフェッショナルで知的な男性の話し方。説得力がある。",
	"冥鳴ひまり":    "明るく元気な話し方。若々しい印象。",
}

var conversationStyleKeywords = []string{"ラジオ", "ビジネス", "友達", "教育番組", "ニュース", "ポッドキャスト", "バラエティ", "実況解説"}

func styleOf(name, fallback string) string {
	if s, ok := characterStyles[name]; ok {
		return s
	}
	return fallback
}

const synthesisRules = `

対話のルール：
1. 自然で生き生きとした会話にしてください
2. 【超重要】各キャラクターの話し方の特徴を必ず守ってください。キャラクター設定に書かれた話し方や語尾を使用すること
3. speaker1は専門知識を分かりやすく、時には例え話で説明する
4. 1つの発話は2〜3文程度にまとめる（内容は充実させつつ、簡潔に）
5. 感嘆詞（「へえ〜」「すごい！」「なるほど」など）を自然に入れる
6. 新しい発見や驚きがある展開にする
7. 聞き手（視聴者）が「もっと知りたい」と思うような会話にする
8. 具体的な数字、事例、メリット・デメリットなどを積極的に話題に含める
9. 技術的な内容も分かりやすい例え話で説明する

【非常に重要】会話形式について：
10. 質問・答えの単調なパターンを避けてください
11. 以下のような多様な会話パターンを使い分けてください：
    - 一緒に考える：「そういえば、これって〜とも関係してるよね」
    - 追加情報を提供：「あ、それで思い出したけど〜」
    - 体験談を共有：「実は前に〜したことがあって」
    - 別の視点を提示：「でも、こういう見方もできるよね」
    - 具体例を挙げる：「たとえば〜の場合は〜」
    - 共感を示す：「それは私も同じこと思ってた！」
    - 話を広げる：「それに関連して、〜も面白いよね」
12. 「どうして？」「なぜ？」のような直接的な質問ばかりでなく、感想や意見を交えた会話に
13. 両者が情報を持ち寄り、共に学び合うような会話に

重要な制約：
10. キャラクターは絶対に「スライド」という言葉を使わないでください
11. 「次のページ」「この図」「ここに書いてある」など、プレゼン資料への直接的な言及も避けてください
12. あくまで二人が知識を共有する自然な会話として展開してください
13. 最初のトピック以外では「こんにちは」「今日は」「今回は」などの挨拶は使わないでください

音声合成用の重要なルール：
14. 英単語は必ずカタカナで表記してください（音声合成エンジンが正しく読み上げるため）
15. 例：
    - Claude Code → クロードコード
    - AI → エーアイ
    - ChatGPT → チャットジーピーティー
    - Anthropic → アンソロピック
    - Constitutional AI → コンスティテューショナル エーアイ
    - OpenAI → オープンエーアイ
    - GPT → ジーピーティー
    - LLM → エルエルエム
    - Machine Learning → マシーンラーニング
    - Deep Learning → ディープラーニング
    - Google → グーグル
    - Microsoft → マイクロソフト
    - API → エーピーアイ
    - GitHub → ギットハブ
    - Python → パイソン
    - JavaScript → ジャバスクリプト
    - TypeScript → タイプスクリプト
    - React → リアクト
    - Node.js → ノードジェイエス
    - Docker → ドッカー
    - Kubernetes → クーベルネティス
    - AWS → エーダブリューエス
    - Azure → アジュール
    - Firebase → ファイアベース
    - md/MD → エムディー
    - yaml/YAML/yml/YML → ヤムル
    - JSON → ジェイソン
    - HTML → エイチティーエムエル
    - CSS → シーエスエス
    - SQL → エスキューエル
    - NoSQL → ノーエスキューエル
    - REST → レスト
    - GraphQL → グラフキューエル
16. 固有名詞や製品名も日本語の音声として自然に聞こえるようカタカナ表記にしてください

出力形式：
必ず以下のような有効なJSON形式で出力してください。コードブロックや余計な文字は含めないでください。
speakerは必ず"speaker1"か"speaker2"を使用してください。
{
  "dialogue": [
    {"speaker": "speaker1", "text": "今日はクロードコードの魅力について話すよ！"},
    {"speaker": "speaker2", "text": "おお、楽しみ！クロードコードって何がすごいの？"}
  ]
}`

// synthesisSystemPrompt builds the script-writer persona for one slide call.
func synthesisSystemPrompt(names Names, instruction string) string {
	style := ""
	if instruction != "" && containsAny(instruction, conversationStyleKeywords) {
		style = "\n\n【会話スタイル】" + instruction
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "あなたは魅力的な教育動画を作成するプロの脚本家です。%sと%sによる楽しい対話を書いてください。\n\n", names.Speaker1, names.Speaker2)
	sb.WriteString("キャラクター設定：\n")
	fmt.Fprintf(&sb, "- %s（speaker1）: AI・プログラミングの専門家だが、親しみやすく説明が上手。時々専門的な知識を披露する。%s\n",
		names.Speaker1, styleOf(names.Speaker1, "親しみやすく丁寧な話し方。"))
	fmt.Fprintf(&sb, "- %s（speaker2）: 好奇心旺盛で率直な質問をする。%s%s",
		names.Speaker2, styleOf(names.Speaker2, "好奇心旺盛で率直な質問をする。"), style)
	sb.WriteString(synthesisRules)
	return sb.String()
}

// priorSlide is a previously synthesized slide used as context.
type priorSlide struct {
	Key        string
	Utterances []Utterance
}

func agendaBlock(names Names) string {
	return fmt.Sprintf(`【アジェンダスライド専用の指示】
このスライドはアジェンダ（目次）スライドです。以下のルールを厳守してください：

1. speaker1（%s）の役割：
   - アジェンダの項目を一つ一つ、省略せずに読み上げる
   - 「今日は〜について、まず〇〇、次に△△、そして□□について見ていきます」のような形式で
   - 各項目を読む際、深い内容には踏み込まない（項目名の紹介に留める）
   - 全ての項目を漏れなく紹介する

2. speaker2（%s）の役割：
   - speaker1が全ての項目を読み上げるまで待つ
   - 最後に「楽しみだね！」「面白そうだ！」などの短い期待感を表現するだけ
   - 質問や深い感想は言わない

3. 対話の流れ：
   - speaker1がアジェンダを網羅的に紹介
   - speaker2が最後に短く期待感を示す
   - 3〜4回程度の短い対話で終了`, names.Speaker1, names.Speaker2)
}

const titleBlock = `特別な注意：
これは表紙・タイトルページなので、簡潔に導入してください：
- 挨拶と今日のテーマの紹介に焦点を当てる
- 詳細は後で説明することを示唆する（「後のスライド」とは言わない）
- 期待感を高める内容にする`

func continuationBlock(n int) string {
	return fmt.Sprintf(`特別な注意：
これは%d番目のトピックです：
- 「こんにちは」「今日は」「今回は」などの挨拶は絶対に使わないでください
- 前のトピックから自然に話を続けてください
- いきなり本題から入って構いません`, n)
}

// slidePromptInput is everything the user prompt of one slide depends on.
type slidePromptInput struct {
	Number      int
	Total       int
	Text        string
	Names       Names
	Previous    []priorSlide
	Pacing      Pacing
	Knowledge   string
	Instruction string
}

func synthesisUserPrompt(in slidePromptInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "トピック%d/%dの内容について、%sと%sの魅力的な対話を作成してください。\n\n",
		in.Number, in.Total, in.Names.Speaker1, in.Names.Speaker2)

	if len(in.Previous) > 0 {
		sb.WriteString("これまでの対話内容:\n")
		for _, prev := range in.Previous {
			fmt.Fprintf(&sb, "\n%s:\n", prev.Key)
			for _, u := range prev.Utterances {
				fmt.Fprintf(&sb, "- %s: %s\n", u.Speaker, u.Text)
			}
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "現在扱うトピック（%d番目）の内容：\n\n", in.Number)
	sb.WriteString("【重要】以下の内容すべてについて網羅的に話してください。最初の部分だけでなく、リストや図表、結論など、すべての要素を取り上げてください。\n")
	sb.WriteString(in.Text)

	var special string
	switch in.Pacing.Class {
	case ClassAgenda:
		special = agendaBlock(in.Names)
	case ClassTitle:
		special = titleBlock
	default:
		special = continuationBlock(in.Number)
	}

	fmt.Fprintf(&sb, `

重要な要望：
- このトピックについて%s
- 会話は具体的で内容が濃いものにする（単なる相槌ではなく、情報を含む発話）
- speaker1は設定された話し方で専門知識を噛み砕いて、例え話や具体例を交えて丁寧に説明
- speaker2は設定された話し方で具体的な質問や感想を述べる
- 過去の対話内容がある場合は、その文脈を踏まえて自然な流れで会話を続ける
- 前の話題で説明した内容は「さっき話した〜」のように参照する
- 話題の重複を避け、新しい情報や視点を提供する
- 以下の要素を必ず含める：
  * トピックの主要なポイントの詳細な説明
  * スライド内のすべての要素（リスト、図表、グラフ、結論など）の説明
  * 具体的な例や応用例の紹介
  * 多様な会話パターン（質問だけでなく、意見、感想、体験談など）
  * 関連する豆知識や補足情報
- 単純な「なるほど」「そうね」だけの返答は避ける
- 視聴者が理解を深められるよう、段階的に説明を展開

%s

必ず有効なJSON形式（{"dialogue": [...]}の形式）で出力してください。`, in.Pacing.Instruction, special)

	if in.Knowledge != "" {
		sb.WriteString("\n\n【補助ナレッジ】以下の情報を参考にすることができますが、あくまでもスライドの内容が主体です。スライドに書かれていない内容については話さないでください：\n")
		sb.WriteString(in.Knowledge)
	}
	if in.Instruction != "" {
		sb.WriteString("\n\n追加の指示：\n")
		sb.WriteString(in.Instruction)
	}
	return sb.String()
}

const selectorSystemPrompt = `あなたはユーザーの指示を分析して、どのスライドを再生成すべきか判断するアシスタントです。

ユーザーの指示を分析して、以下のルールに従ってスライド番号のリストを返してください：
1. 「1枚目」「最初のスライド」「スライド1」などの表現は slide_numbers: [1] 
2. 「2枚目と3枚目」「スライド2-3」などの表現は slide_numbers: [2, 3]
3. 「全部」「全体」「すべて」などの表現は slide_numbers: [1, 2, ..., total_slides]
4. 「最後」「最終」などの表現は slide_numbers: [total_slides]
5. 「前半」は slide_numbers: [1, 2, ..., total_slides/2]
6. 「後半」は slide_numbers: [total_slides/2+1, ..., total_slides]

必ず以下のJSON形式で返してください：
{
  "slide_numbers": [1, 2, 3],
  "reason": "なぜこれらのスライドを選んだか"
}`

func selectorUserPrompt(instruction string, total int) string {
	return fmt.Sprintf("全体で%d枚のスライドがあります。\n\nユーザーの指示: %s\n\nどのスライドを再生成すべきか判断してください。", total, instruction)
}

const importanceSystemPrompt = `あなたはプレゼンテーション分析の専門家です。
各スライドの内容を分析し、視聴者にとっての重要度を判断してください。

重要度の基準：
- タイトル/表紙スライド: 0.5 (簡潔に)
- まとめ/終了スライド: 0.5 (簡潔に)
- 概要/目次スライド: 0.7 (やや簡潔に)
- 核心的な技術説明: 1.5 (詳しく)
- 実装例/コード例: 1.3 (詳しく)
- 一般的な説明: 1.0 (標準)
- 補足情報: 0.8 (やや簡潔に)

JSON形式で各スライドの重要度係数を返してください。
例: {"1": 0.5, "2": 1.0, "3": 1.5, ...}`

func importanceUserPrompt(slides []string) string {
	var sb strings.Builder
	sb.WriteString("以下のスライド内容を分析し、各スライドの重要度係数を返してください：\n\n")
	for i, text := range slides {
		r := []rune(text)
		if len(r) > 200 {
			fmt.Fprintf(&sb, "スライド%d: %s...\n", i+1, string(r[:200]))
		} else {
			fmt.Fprintf(&sb, "スライド%d: %s\n", i+1, text)
		}
	}
	sb.WriteString("\n各スライドについて、内容の重要性に基づいて0.5〜1.5の係数を割り当ててください。")
	return sb.String()
}

const adjustmentSystemPrompt = `あなたはユーザーの指示を分析して、スライドの重要度調整を判断するアシスタントです。

ユーザーの指示から以下のパターンを識別してください：
1. 「1枚目を詳しく」「最初のスライドをもっと充実」→ そのスライドの重要度を上げる (×1.5)
2. 「3枚目は簡潔に」「スライド5を短く」→ そのスライドの重要度を下げる (×0.5)
3. 「技術的な部分を詳しく」→ 該当するスライドの重要度を上げる
4. 「概要部分は簡潔に」→ 該当するスライドの重要度を下げる
5. 「全体的に詳しく」→ すべてのスライドの重要度を少し上げる (×1.2)
6. 「全体的に簡潔に」→ すべてのスライドの重要度を少し下げる (×0.8)

JSON形式で調整係数を返してください。調整が必要ないスライドは含めないでください。
例: {"1": 1.5, "3": 0.5}`

func adjustmentUserPrompt(instruction string, total int) string {
	return fmt.Sprintf("全体で%d枚のスライドがあります。\n\nユーザーの指示: %s\n\nこの指示から、どのスライドの重要度を調整すべきか判断してください。\n調整が必要なスライドのみを返してください。", total, instruction)
}

func speakerLegend(names Names) string {
	return fmt.Sprintf("話者情報：\n- %s: speaker1として表示される話者\n- %s: speaker2として表示される話者", names.Speaker1, names.Speaker2)
}

func consistencySystemPrompt(names Names) string {
	return `あなたは日本語の対話スクリプトの一貫性調整の専門家です。
以下の指示に従って対話スクリプトの全体的な流れを調整してください：

1. 全体の流れと一貫性をチェックし、必要に応じて調整
2. 話者のキャラクター性を保持
3. 各発話は簡潔に（一文あたり40文字以内を目安）
4. 対話の自然さと教育的価値を向上

` + speakerLegend(names) + `

出力形式は元の形式を保持してください。`
}

func consistencyUserPrompt(flat, adjustment string) string {
	p := "以下の対話スクリプトの全体的な一貫性を調整してください。"
	if adjustment != "" {
		p += "\n\n追加の指示: " + adjustment
	}
	return p + "\n\n対話スクリプト:\n" + flat
}

func transliterationSystemPrompt(names Names) string {
	return `あなたは英語→カタカナ変換の専門家です。
【最重要任務】対話スクリプト内のすべての英語・ローマ字を漏れなくカタカナに変換してください。

【特に重要】後半のスライドほど注意深く確認してください。最後のスライドまで必ず英語が残っていないか確認すること。

変換例（これらは一例で、他の英語もすべて変換してください）：
- AI → エーアイ、API → エーピーアイ、PDF → ピーディーエフ
- Claude → クロード、ChatGPT → チャットジーピーティー
- Anthropic → アンソロピック、Constitutional AI → コンスティテューショナル エーアイ
- OpenAI → オープンエーアイ、GPT → ジーピーティー
- LLM → エルエルエム、NLP → エヌエルピー
- Machine Learning → マシーンラーニング、Deep Learning → ディープラーニング
- PowerPoint → パワーポイント、Excel → エクセル
- JavaScript → ジャバスクリプト、Python → パイソン
- TypeScript → タイプスクリプト、React → リアクト
- Node.js → ノードジェイエス、Vue.js → ビュージェイエス
- GitHub → ギットハブ、Docker → ドッカー
- Kubernetes → クーベルネティス、DevOps → デブオプス
- HTML → エイチティーエムエル、CSS → シーエスエス
- JSON → ジェイソン、XML → エックスエムエル
- HTTP → エイチティーティーピー、HTTPS → エイチティーティーピーエス
- REST → レスト、GraphQL → グラフキューエル
- USB → ユーエスビー、CLI → シーエルアイ
- SQL → エスキューエル、NoSQL → ノーエスキューエル
- MongoDB → モンゴディービー、PostgreSQL → ポストグレエスキューエル
- AWS → エーダブリューエス、Azure → アジュール
- Google → グーグル、Microsoft → マイクロソフト
- Windows → ウィンドウズ、Mac → マック、Linux → リナックス
- iOS → アイオーエス、Android → アンドロイド
- Swift → スウィフト、Kotlin → コトリン
- Firebase → ファイアベース、Stripe → ストライプ
- WordPress → ワードプレス、Drupal → ドルーパル
- Bootstrap → ブートストラップ、Tailwind → テイルウィンド
- Figma → フィグマ、Sketch → スケッチ
- Slack → スラック、Discord → ディスコード
- Zoom → ズーム、Teams → チームズ
- md/MD → エムディー、yaml/YAML/yml/YML → ヤムル
- IDE → アイディーイー、SDK → エスディーケー、Framework → フレームワーク

【処理手順】
1. 最初から最後のスライドまで順番に確認
2. 各発話で英語・ローマ字を発見したら即座にカタカナに変換
3. 特に後半のスライドは二重チェック
4. 変換後、全体を再度確認して英語が残っていないことを確認

` + speakerLegend(names) + `

出力形式は元の形式を保持してください。内容は変更せず、英語のカタカナ変換のみ行ってください。`
}

func transliterationUserPrompt(flat string) string {
	return "以下の対話スクリプト内のすべての英語・ローマ字をカタカナに変換してください。後半のスライドまで漏れなく確認してください。\n\n対話スクリプト:\n" + flat
}

func notationSystemPrompt(names Names) string {
	return `あなたは表記統一の専門家です。
対話スクリプト全体で表記の一貫性を確保してください。

【修正対象】
1. 同じ技術用語・製品名の表記揺れを統一
2. カタカナ表記の統一（例：「エーアイ」「A.I.」→「エーアイ」に統一）
3. 数字・記号の表記統一
4. 助詞・語尾の統一

【重要】内容は変更せず、表記の統一のみ行ってください。

` + speakerLegend(names) + `

出力形式は元の形式を保持してください。`
}

func notationUserPrompt(flat string) string {
	return "以下の対話スクリプトの表記揺れを修正し、全体で一貫した表記に統一してください。\n\n対話スクリプト:\n" + flat
}
