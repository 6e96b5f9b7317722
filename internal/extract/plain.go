package extract

import (
	"fmt"
	"unicode/utf8"
)

// extractPlain passes through text and markdown content unchanged after
// checking it is valid UTF-8. Binary files mislabeled as text are
// rejected rather than fed to the embedding model.
func extractPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", fmt.Errorf("content is not valid UTF-8 text")
	}
	return string(content), nil
}
