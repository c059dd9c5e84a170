package dispatch

import "strings"

// ReplyLimit is the maximum message length the gateway accepts.
const ReplyLimit = 2000

// boundaryWindow is how far back from the cut point we look for a
// newline or space before giving up and hard-cutting.
const boundaryWindow = 500

// Split breaks text into chunks of at most limit characters, preferring
// to break at a newline or space within the trailing boundary window so
// chunks do not end mid-word. The boundary character itself is dropped
// and leading whitespace is trimmed from the remainder.
func Split(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= limit {
			chunks = append(chunks, text)
			break
		}

		candidate := text[:limit]
		cut := limit
		skip := 0

		floor := limit - boundaryWindow
		if floor < 1 {
			floor = 1 // a boundary at index 0 would yield an empty chunk
		}
		if idx := lastBoundary(candidate, floor); idx >= 0 {
			cut = idx
			skip = 1
		}

		chunks = append(chunks, candidate[:cut])
		text = strings.TrimLeft(text[cut+skip:], " \n\t")
	}
	return chunks
}

// lastBoundary returns the index of the last newline or space at or
// after floor, or -1 when none exists.
func lastBoundary(s string, floor int) int {
	for i := len(s) - 1; i >= floor; i-- {
		if s[i] == '\n' || s[i] == ' ' {
			return i
		}
	}
	return -1
}
