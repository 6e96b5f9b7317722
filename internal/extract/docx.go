package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

var (
	docxTextRe      = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	docxParagraphRe = regexp.MustCompile(`</w:p>`)
)

// extractDOCX reads the main document part of a DOCX archive and strips
// the WordprocessingML markup down to text runs. Paragraph boundaries
// become newlines so downstream chunking sees sentence structure.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open DOCX archive: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open document part: %w", err)
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read document part: %w", err)
		}
		break
	}

	if docXML == nil {
		return "", fmt.Errorf("DOCX archive has no word/document.xml")
	}

	// Paragraph closes become newlines so text runs from different
	// paragraphs don't glue together.
	marked := docxParagraphRe.ReplaceAllString(string(docXML), "\n")

	var sb strings.Builder
	segments := strings.Split(marked, "\n")
	for i, seg := range segments {
		for _, match := range docxTextRe.FindAllStringSubmatch(seg, -1) {
			sb.WriteString(html.UnescapeString(match[1]))
		}
		if i < len(segments)-1 {
			sb.WriteString("\n")
		}
	}

	return sb.String(), nil
}
