package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestExtractPlainText(t *testing.T) {
	text, err := ExtractText([]byte("Hello, world.\nSecond line."), "text/plain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello, world.\nSecond line." {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestExtractPlainTextWithCharsetParameter(t *testing.T) {
	text, err := ExtractText([]byte("content"), "text/plain; charset=utf-8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "content" {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestExtractMarkdown(t *testing.T) {
	text, err := ExtractText([]byte("# Title\n\nBody paragraph."), "text/markdown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "Body paragraph.") {
		t.Errorf("markdown body missing from %q", text)
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	_, err := ExtractText([]byte("data"), "application/zip")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestExtractEmptyText(t *testing.T) {
	_, err := ExtractText([]byte("   \n\t "), "text/plain")
	if !errors.Is(err, ErrNoText) {
		t.Errorf("expected ErrNoText for whitespace-only content, got %v", err)
	}
}

func TestExtractInvalidUTF8(t *testing.T) {
	_, err := ExtractText([]byte{0xff, 0xfe, 0x00, 0x01}, "text/plain")
	if err == nil {
		t.Error("expected error for invalid UTF-8 content")
	}
}

func TestExtractInvalidPDF(t *testing.T) {
	_, err := ExtractText([]byte("this is not a pdf"), "application/pdf")
	if err == nil {
		t.Error("expected error for malformed PDF content")
	}
}

func TestExtractDOCX(t *testing.T) {
	doc := buildDOCX(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t xml:space="preserve">Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	text, err := ExtractText(doc, "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "First paragraph.") {
		t.Errorf("first paragraph missing from %q", text)
	}
	if !strings.Contains(text, "Second paragraph.") {
		t.Errorf("split text runs not joined in %q", text)
	}
	if !strings.Contains(text, "First paragraph.\n") {
		t.Errorf("paragraph break missing in %q", text)
	}
}

func TestExtractDOCXEscapedEntities(t *testing.T) {
	doc := buildDOCX(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body><w:p><w:r><w:t>Profit &amp; loss &lt;2024&gt;.</w:t></w:r></w:p></w:body>
</w:document>`)

	text, err := ExtractText(doc, "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "Profit & loss <2024>.") {
		t.Errorf("entities not unescaped in %q", text)
	}
}

func TestExtractDOCXMissingDocumentPart(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/styles.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("<styles/>")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = ExtractText(buf.Bytes(), "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	if err == nil {
		t.Error("expected error for archive without word/document.xml")
	}
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
