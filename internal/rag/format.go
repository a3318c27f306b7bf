package rag

import (
	"fmt"
	"strings"
)

// ContextFormat selects how retrieved chunks render into prompt text.
type ContextFormat string

const (
	// FormatNumbered renders "[i] Source: <source>" headers so the
	// model can cite chunks by number.
	FormatNumbered ContextFormat = "numbered"
	// FormatPlain joins chunk bodies with a horizontal rule.
	FormatPlain ContextFormat = "plain"
)

// FormatContext renders a retrieval result for prompt injection.
// Empty results render as an empty string.
func FormatContext(result *RetrievalResult, format ContextFormat) string {
	if result == nil || len(result.Chunks) == 0 {
		return ""
	}

	if format == FormatNumbered {
		var b strings.Builder
		for i, chunk := range result.Chunks {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "[%d] Source: %s\n%s", i+1, chunkSource(chunk.Metadata), chunk.Text)
		}
		return b.String()
	}

	texts := make([]string, len(result.Chunks))
	for i, chunk := range result.Chunks {
		texts[i] = chunk.Text
	}
	return strings.Join(texts, "\n\n---\n\n")
}
