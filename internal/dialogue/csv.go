package dialogue

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
)

var (
	csvHeader = []string{"会話番号", "スライド番号", "発話者名", "テキスト"}
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
)

const maxListedCSVErrors = 10

// WriteCSV exports the script with a UTF-8 BOM so spreadsheet tools detect the encoding.
func WriteCSV(w io.Writer, script Script, names Names) error {
	names = names.withDefaults(DefaultNames())
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	seq := 0
	for _, key := range script.Keys() {
		n, ok := SlideNumber(key)
		if !ok {
			continue
		}
		for _, u := range script[key] {
			seq++
			record := []string{strconv.Itoa(seq), strconv.Itoa(n), names.Display(u.Speaker), u.Text}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeText returns data as UTF-8, trying UTF-8 (with or without BOM) and
// then Shift_JIS/CP932.
func DecodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), data)
	if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
		return "", errors.New("unsupported text encoding")
	}
	return string(out), nil
}

// ReadCSV parses an exported (or hand-edited) CSV back into a script. Rows are
// validated individually; all problems are reported together. When slideCount
// is positive, slide numbers must be within range and slides without rows
// become empty.
func ReadCSV(data []byte, names Names, slideCount int) (Script, error) {
	names = names.withDefaults(DefaultNames())
	text, err := DecodeText(data)
	if err != nil {
		return nil, apperr.New(apperr.InvalidArgument,
			"CSVファイルのエンコーディングが不正です（UTF-8、Shift-JIS、またはCP932を使用してください）")
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.InvalidArgument, "CSVファイルを解析できません")
	}
	if len(records) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "有効な対話データが含まれていません")
	}

	col := map[string]int{}
	for i, h := range records[0] {
		col[strings.TrimSpace(h)] = i
	}
	var missing []string
	for _, h := range csvHeader {
		if _, ok := col[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.Newf(apperr.InvalidArgument, "CSVファイルに以下のエラーがあります:\n行1: 必要な列がありません: %s", strings.Join(missing, ", "))
	}

	field := func(rec []string, name string) string {
		if i := col[name]; i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	script := make(Script)
	var problems []string
	for i, rec := range records[1:] {
		line := i + 2
		seq, slide := field(rec, csvHeader[0]), field(rec, csvHeader[1])
		display, body := field(rec, csvHeader[2]), field(rec, csvHeader[3])

		if n, err := strconv.Atoi(seq); err != nil {
			problems = append(problems, fmt.Sprintf("行%d: 会話番号が数値ではありません: %s", line, seq))
			continue
		} else if n < 1 {
			problems = append(problems, fmt.Sprintf("行%d: 会話番号は1以上である必要があります", line))
			continue
		}
		n, err := strconv.Atoi(slide)
		if err != nil {
			problems = append(problems, fmt.Sprintf("行%d: スライド番号が数値ではありません: %s", line, slide))
			continue
		}
		if n < 1 {
			problems = append(problems, fmt.Sprintf("行%d: スライド番号は1以上である必要があります", line))
			continue
		}
		if slideCount > 0 && n > slideCount {
			problems = append(problems, fmt.Sprintf("行%d: スライド番号が範囲外です（1〜%d）: %d", line, slideCount, n))
			continue
		}
		role, ok := matchRole(display, names)
		if !ok {
			problems = append(problems, fmt.Sprintf("行%d: 発話者名が不正です（'%s'または'%s'である必要があります）: '%s'",
				line, names.Speaker1, names.Speaker2, display))
			continue
		}
		if body == "" {
			problems = append(problems, fmt.Sprintf("行%d: テキストが空です", line))
			continue
		}
		key := SlideKey(n)
		script[key] = append(script[key], Utterance{Speaker: role, Text: body})
	}

	if len(problems) > 0 {
		msg := "CSVファイルに以下のエラーがあります:\n" + strings.Join(problems[:min(len(problems), maxListedCSVErrors)], "\n")
		if extra := len(problems) - maxListedCSVErrors; extra > 0 {
			msg += fmt.Sprintf("\n... 他%d個のエラー", extra)
		}
		return nil, apperr.New(apperr.InvalidArgument, msg).WithMetadata("errors", strconv.Itoa(len(problems)))
	}
	if len(script) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "有効な対話データが含まれていません")
	}
	for n := 1; n <= slideCount; n++ {
		if _, ok := script[SlideKey(n)]; !ok {
			script[SlideKey(n)] = []Utterance{}
		}
	}
	return script, nil
}

// matchRole accepts display names loosely (either contains the other) and the
// generic labels speaker1/キャラ1/キャラクター1.
func matchRole(display string, names Names) (Role, bool) {
	if display == "" {
		return "", false
	}
	switch {
	case strings.Contains(names.Speaker1, display) || strings.Contains(display, names.Speaker1):
		return Speaker1, true
	case strings.Contains(names.Speaker2, display) || strings.Contains(display, names.Speaker2):
		return Speaker2, true
	}
	switch strings.ToLower(display) {
	case "speaker1", "キャラ1", "キャラクター1":
		return Speaker1, true
	case "speaker2", "キャラ2", "キャラクター2":
		return Speaker2, true
	}
	return "", false
}
