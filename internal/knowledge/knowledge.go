// Package knowledge extracts plain text from supplementary documents attached
// to an upload. The text is passed verbatim to dialogue synthesis.
package knowledge

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/dialogue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/extract"
)

// Extensions lists the accepted file types.
var Extensions = []string{".txt", ".md", ".csv", ".docx", ".pptx", ".pdf", ".html", ".htm", ".rtf", ".odt"}

// Extractor converts a knowledge file into text.
type Extractor struct {
	pdf *extract.Extractor
}

func NewExtractor(pdf *extract.Extractor) *Extractor {
	return &Extractor{pdf: pdf}
}

// Extract dispatches on the file extension of name.
func (e *Extractor) Extract(ctx context.Context, name string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	var (
		text string
		err  error
	)
	switch ext {
	case ".txt", ".md", ".rtf", ".odt":
		text, err = dialogue.DecodeText(data)
	case ".csv":
		text, err = csvText(data)
	case ".docx":
		text, err = docxText(data)
	case ".pptx":
		text, err = pptxText(data)
	case ".pdf":
		text, err = e.pdfText(ctx, data)
	case ".html", ".htm":
		text, err = htmlText(data)
	default:
		return "", apperr.Newf(apperr.UnsupportedFormat, "対応していないファイル形式: %s", ext)
	}
	if err != nil {
		return "", apperr.Wrapf(err, apperr.InvalidArgument, "failed to read knowledge file %s", name)
	}
	return strings.TrimSpace(text), nil
}

func csvText(data []byte) (string, error) {
	decoded, err := dialogue.DecodeText(data)
	if err != nil {
		return "", err
	}
	r := csv.NewReader(strings.NewReader(decoded))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var lines []string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		var cells []string
		for _, c := range row {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, " "))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	f, err := openZip(zr, "word/document.xml")
	if err != nil {
		return "", err
	}
	defer f.Close()
	return xmlText(f, "p", "\n")
}

var slideXML = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func pptxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slideXML.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n, f})
		}
	}
	sort.Slice(slides, func(a, b int) bool { return slides[a].n < slides[b].n })

	var parts []string
	for _, s := range slides {
		rc, err := s.f.Open()
		if err != nil {
			return "", err
		}
		text, err := xmlText(rc, "t", "\n")
		rc.Close()
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func openZip(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// xmlText collects the character data of every <t> element, closing a
// block of text at each end of the element named by blockEnd.
func xmlText(r io.Reader, blockEnd, sep string) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		blocks  []string
		current strings.Builder
		inText  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			blocks = append(blocks, s)
		}
		current.Reset()
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
			if t.Name.Local == blockEnd {
				flush()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	flush()
	return strings.Join(blocks, sep), nil
}

func (e *Extractor) pdfText(ctx context.Context, data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "knowledge-*.pdf")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	pages, err := extract.Validate(tmp.Name())
	if err != nil {
		return "", err
	}
	texts, err := e.pdf.Texts(ctx, tmp.Name(), pages)
	if err != nil {
		return "", err
	}
	var kept []string
	for _, t := range texts {
		if t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, "\n"), nil
}

func htmlText(data []byte) (string, error) {
	decoded, err := dialogue.DecodeText(data)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(decoded))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var lines []string
	for _, line := range strings.Split(root.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
