package types

import (
	"strings"

	"github.com/goccy/go-json"
)

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// extractText is the implementation behind ExtractText; split out so it can
// be unit tested without exporting the contentBlock shape.
func extractText(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return ""
	}

	// Bare JSON string: "hello"
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	// Array of content blocks: [{"type":"text","text":"hello"},...]
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "text" || b.Type == "" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}

	// Fall back to raw bytes verbatim (e.g. unquoted plain text in tests).
	return trimmed
}
