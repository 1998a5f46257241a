package extract

import (
	"fmt"
	"strings"

	"github.com/lu4p/cat"
)

// extractOpenDocument handles .odt and .rtf, whose layouts lu4p/cat decodes correctly.
func extractOpenDocument(content []byte, ext string) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", strings.TrimPrefix(ext, "."), err)
	}
	return strings.TrimSpace(text), nil
}
