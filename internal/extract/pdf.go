package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"neurospace-backend/internal/logger"
)

// extractPDF pulls plain text out of every page it can read. A single
// corrupt page must not sink the whole document, so page-level failures
// are logged and skipped. Scanned PDFs with no text layer come back
// empty here and are reported as ErrNoText by the caller.
func extractPDF(content []byte) (text string, err error) {
	defer func() {
		// The pdf library panics on some malformed cross-reference
		// tables instead of returning an error.
		if r := recover(); r != nil {
			logger.Warn("PDF parser panicked", "panic", r)
			text = ""
			err = fmt.Errorf("PDF parser failed: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	var sb strings.Builder
	total := reader.NumPage()
	skipped := 0

	for pageNum := 1; pageNum <= total; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			skipped++
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn("Skipping unreadable PDF page", "page", pageNum, "error", err)
			skipped++
			continue
		}

		sb.WriteString(text)
		sb.WriteString("\n")
	}

	if skipped > 0 {
		logger.Info("PDF extraction finished with skipped pages", "total_pages", total, "skipped", skipped)
	}

	return sb.String(), nil
}
