package ingestion

import (
	"strings"
)

// Split divides text into overlapping chunks of at most size characters.
// Sizes and offsets count runes, not bytes, so multibyte text is never cut
// mid-character. When a chunk would cut mid-sentence, the break point moves
// back to the last sentence end (". ") or newline, provided that keeps the
// chunk longer than half of size. Consecutive chunks overlap by overlap
// characters so context is not lost at boundaries.
func Split(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		if bp := lastBreak(runes[start:end]); bp > size/2 {
			end = start + bp + 1
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// lastBreak returns the rune index of the last sentence end (the '.' of a
// ". " pair) or newline in the window, or -1 when neither occurs.
func lastBreak(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '\n' {
			return i
		}
		if window[i] == '.' && i+1 < len(window) && window[i+1] == ' ' {
			return i
		}
	}
	return -1
}
