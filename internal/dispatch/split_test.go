package dispatch

import (
	"strings"
	"testing"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	for _, text := range []string{"", "hi", strings.Repeat("a", 2000)} {
		chunks := Split(text, 2000)
		if len(chunks) != 1 || chunks[0] != text {
			t.Errorf("text of length %d should be a single unchanged chunk, got %d chunks", len(text), len(chunks))
		}
	}
}

func TestSplitRespectsLimit(t *testing.T) {
	words := strings.Repeat("word ", 500) // 2500 chars
	chunks := Split(words, 2000)

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 2000 {
			t.Errorf("chunk %d exceeds limit: %d chars", i, len(c))
		}
		if len(c) == 0 {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestSplitBreaksAtWordBoundary(t *testing.T) {
	words := strings.Repeat("word ", 500)
	chunks := Split(words, 2000)

	for i, c := range chunks {
		for _, w := range strings.Fields(c) {
			if w != "word" {
				t.Errorf("chunk %d contains a broken word %q", i, w)
			}
		}
	}
}

func TestSplitReconstruction(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon ", 200)
	chunks := Split(text, 2000)

	joined := strings.Join(chunks, " ")
	normalize := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	if normalize(joined) != normalize(text) {
		t.Error("rejoined chunks do not reproduce the original text")
	}
}

func TestSplitPrefersNewline(t *testing.T) {
	// a newline late in the candidate should win over earlier spaces
	text := strings.Repeat("x", 1500) + "\n" + strings.Repeat("y", 1000)
	chunks := Split(text, 2000)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != strings.Repeat("x", 1500) {
		t.Errorf("first chunk should end at the newline, got %d chars", len(chunks[0]))
	}
	if chunks[1] != strings.Repeat("y", 1000) {
		t.Errorf("second chunk should be the remainder, got %d chars", len(chunks[1]))
	}
}

func TestSplitHardCutsSingleToken(t *testing.T) {
	token := strings.Repeat("z", 4500)
	chunks := Split(token, 2000)

	if len(chunks) != 3 { // ceil(4500/2000)
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		if len(c) > 2000 {
			t.Errorf("chunk %d exceeds limit: %d", i, len(c))
		}
		total += len(c)
	}
	if total != 4500 {
		t.Errorf("hard cut lost characters: total %d", total)
	}
}

func TestSplitSmallLimit(t *testing.T) {
	chunks := Split("a b c d e", 3)
	for i, c := range chunks {
		if len(c) > 3 || len(c) == 0 {
			t.Errorf("chunk %d invalid: %q", i, c)
		}
	}
	joined := strings.Join(chunks, " ")
	if strings.Join(strings.Fields(joined), " ") != "a b c d e" {
		t.Errorf("reconstruction failed: %q", joined)
	}
}
