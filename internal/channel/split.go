package channel

import "strings"

// splitMessage breaks msg into chunks no longer than maxLen, preferring to
// cut at a newline when one falls in the second half of the window.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > maxLen {
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx
		}
		chunks = append(chunks, msg[:cut])
		msg = strings.TrimLeft(msg[cut:], "\n")
	}
	if len(msg) > 0 {
		chunks = append(chunks, msg)
	}
	return chunks
}
