package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// docxEngine extracts text from DOCX in-process: the format is a ZIP
// archive with the body in word/document.xml.
type docxEngine struct{}

func (e *docxEngine) Name() string { return "docx_xml" }

func (e *docxEngine) Parse(_ context.Context, data []byte) (*Document, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	for _, f := range r.File {
		if f.Name != "word/document.xml" {
			continue
		}
		text, err := extractXMLText(f, "w:t", "w:p")
		if err != nil {
			return nil, err
		}
		return &Document{Text: text, PageCount: estimatePagesFromText(text)}, nil
	}
	return nil, fmt.Errorf("word/document.xml not found")
}

// hwpxEngine extracts text from HWPX: a ZIP archive with body XML under
// Contents/section*.xml.
type hwpxEngine struct{}

func (e *hwpxEngine) Name() string { return "hwpx_xml" }

func (e *hwpxEngine) Parse(_ context.Context, data []byte) (*Document, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	var sections []*zip.File
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "Contents/section") && strings.HasSuffix(f.Name, ".xml") {
			sections = append(sections, f)
		}
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no Contents/section*.xml entries found")
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].Name < sections[j].Name })

	var sb strings.Builder
	for _, f := range sections {
		text, err := extractXMLText(f, "t", "p")
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", f.Name, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	text := sb.String()
	return &Document{Text: text, PageCount: estimatePagesFromText(text)}, nil
}

// extractXMLText streams an XML entry and concatenates the character data
// of textElem elements, inserting newlines at paraElem boundaries.
func extractXMLText(f *zip.File, textElem, paraElem string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var sb strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if matchXMLName(t.Name, textElem) {
				inText = true
			}
		case xml.EndElement:
			if matchXMLName(t.Name, textElem) {
				inText = false
			}
			if matchXMLName(t.Name, paraElem) {
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

// matchXMLName matches either the plain local name or a prefixed form
// ("w:t" matches local "t"); namespaces vary between producers.
func matchXMLName(name xml.Name, want string) bool {
	if idx := strings.Index(want, ":"); idx >= 0 {
		want = want[idx+1:]
	}
	return name.Local == want
}

func estimatePagesFromText(text string) int {
	pages := len(text) / 2500
	if pages < 1 {
		pages = 1
	}
	return pages
}
