package chunker

import (
	"strings"
	"unicode"
)

// Chunk splits text into overlapping pieces of at most size characters,
// preferring to cut on word boundaries. Identical input always yields
// identical output, so re-chunking a document reproduces the same pieces.
//
// An overlap >= size cannot make progress, so the advance step treats it
// as zero in that case.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	advanceOverlap := overlap
	if advanceOverlap < 0 || advanceOverlap >= size {
		advanceOverlap = 0
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Back up to the nearest whitespace so words stay intact. When a
			// single unbroken run fills the whole window, cut at size anyway.
			cut := end
			for cut > start && !unicode.IsSpace(runes[cut]) {
				cut--
			}
			if cut > start {
				end = cut
			}
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}

		next := end - advanceOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
