package llm

import "strings"

// StripCodeFence returns text without the Markdown code fence models like to
// wrap JSON answers in. Unfenced text is only trimmed.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	// Drop the opening fence line (which may carry a language tag)
	if _, body, ok := strings.Cut(text, "\n"); ok {
		text = body
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
