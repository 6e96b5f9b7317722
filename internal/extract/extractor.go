package extract

import (
	"errors"
	"strings"
)

// Sentinel errors returned by ExtractText. Callers distinguish "we don't
// handle this format" from "we handled it and found nothing" because the
// two map to different user-facing outcomes.
var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrNoText          = errors.New("no extractable text")
)

const (
	contentTypePDF      = "application/pdf"
	contentTypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	contentTypeText     = "text/plain"
	contentTypeMarkdown = "text/markdown"
)

// ExtractText converts raw document bytes into plain text based on the
// declared content type. Content types may carry parameters
// ("text/plain; charset=utf-8"); only the media type is considered.
func ExtractText(content []byte, contentType string) (string, error) {
	mediaType := contentType
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		mediaType = contentType[:idx]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	var (
		text string
		err  error
	)

	switch mediaType {
	case contentTypePDF:
		text, err = extractPDF(content)
	case contentTypeDOCX:
		text, err = extractDOCX(content)
	case contentTypeText, contentTypeMarkdown:
		text, err = extractPlain(content)
	default:
		return "", ErrUnsupportedType
	}

	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}

	return text, nil
}
