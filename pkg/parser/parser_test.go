package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthive/cvflow/pkg/router"
)

func TestCleanText(t *testing.T) {
	in := "line one\r\nline two\r\n\n\n\n\nline three   \nend\x00\x08"
	out := CleanText(in)
	assert.NotContains(t, out, "\r")
	assert.NotContains(t, out, "\x00")
	assert.NotContains(t, out, "\n\n\n")
	assert.Contains(t, out, "line one\nline two")
}

func docxBytes(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDocxEngine_ExtractsParagraphText(t *testing.T) {
	body := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>김철수</w:t></w:r></w:p>
    <w:p><w:r><w:t>백엔드 </w:t></w:r><w:r><w:t>개발자</w:t></w:r></w:p>
  </w:body>
</w:document>`
	doc, err := (&docxEngine{}).Parse(context.Background(), docxBytes(t, body))
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "김철수")
	assert.Contains(t, doc.Text, "백엔드 개발자")
	// Paragraph boundary becomes a newline.
	assert.Contains(t, doc.Text, "김철수\n")
}

func TestDocxEngine_MissingBody(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	_, err := w.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = (&docxEngine{}).Parse(context.Background(), buf.Bytes())
	assert.Error(t, err)
}

func TestHwpxEngine_ExtractsSectionsInOrder(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"Contents/section1.xml": `<sec><p><t>두번째 섹션</t></p></sec>`,
		"Contents/section0.xml": `<sec><p><t>첫번째 섹션</t></p></sec>`,
	} {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	doc, err := (&hwpxEngine{}).Parse(context.Background(), buf.Bytes())
	require.NoError(t, err)
	first := bytes.Index([]byte(doc.Text), []byte("첫번째"))
	second := bytes.Index([]byte(doc.Text), []byte("두번째"))
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second, "sections concatenate in name order")
}

func TestDispatcher_UnknownType(t *testing.T) {
	d := NewDispatcher()
	_, err := d.Parse(context.Background(), router.TypeUnknown, nil)
	assert.Error(t, err)
}

type fakeEngine struct{ text string }

func (f *fakeEngine) Name() string { return "fake" }
func (f *fakeEngine) Parse(context.Context, []byte) (*Document, error) {
	return &Document{Text: f.text, PageCount: 1}, nil
}

func TestDispatcher_RegisterOverridesEngine(t *testing.T) {
	d := NewDispatcher()
	d.Register(router.TypePDF, &fakeEngine{text: "  extracted\r\ntext  "})

	doc, err := d.Parse(context.Background(), router.TypePDF, []byte("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "fake", doc.Method)
	assert.Equal(t, "extracted\ntext", doc.Text)
}
