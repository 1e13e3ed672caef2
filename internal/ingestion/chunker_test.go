package ingestion

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitEmpty(t *testing.T) {
	t.Parallel()

	if got := Split("", 1000, 200); got != nil {
		t.Errorf("expected nil for empty text, got %v", got)
	}
	if got := Split("   \n  ", 1000, 200); got != nil {
		t.Errorf("expected nil for whitespace text, got %v", got)
	}
}

func TestSplitShortText(t *testing.T) {
	t.Parallel()

	got := Split("one small note.", 1000, 200)
	if len(got) != 1 || got[0] != "one small note." {
		t.Errorf("Split = %v", got)
	}
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	t.Parallel()

	// First sentence ends past the midpoint of the chunk size, so the break
	// should land right after it instead of mid-word.
	first := strings.Repeat("a", 70) + ". "
	second := strings.Repeat("b", 100)
	got := Split(first+second, 100, 10)

	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	if !strings.HasSuffix(got[0], ".") {
		t.Errorf("first chunk should end at the sentence boundary, got %q", got[0])
	}
}

func TestSplitOverlap(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 250)
	got := Split(text, 100, 20)

	if len(got) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(got))
	}
	// With no boundary to prefer, consecutive chunks share the overlap.
	tail := got[0][len(got[0])-20:]
	if !strings.HasPrefix(got[1], tail) {
		t.Errorf("chunks do not overlap: %q vs %q", tail, got[1][:20])
	}
}

func TestSplitCoversAllText(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("every byte matters ", 200)
	got := Split(text, 300, 50)

	joined := strings.Join(got, "")
	if !strings.Contains(joined, "every byte matters") {
		t.Fatal("content lost")
	}
	last := got[len(got)-1]
	if !strings.HasSuffix(strings.TrimSpace(text), last) {
		t.Errorf("final chunk does not reach the end of the text: %q", last)
	}
}

func TestSplitMultibyteText(t *testing.T) {
	t.Parallel()

	// 2000 three-byte runes; byte-offset chunking would cut mid-character.
	got := Split(strings.Repeat("日", 2000), 1000, 200)
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	for i, c := range got {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
		if n := utf8.RuneCountInString(c); n > 1000 {
			t.Errorf("chunk %d has %d runes, want <= 1000", i, n)
		}
	}
}

func TestSplitMultibyteSentenceBoundary(t *testing.T) {
	t.Parallel()

	first := strings.Repeat("微", 70) + ". "
	second := strings.Repeat("积", 100)
	got := Split(first+second, 100, 10)

	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	if !strings.HasSuffix(got[0], ".") {
		t.Errorf("first chunk should end at the sentence boundary, got %q", got[0])
	}
	for i, c := range got {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
	}
}

func TestFileType(t *testing.T) {
	t.Parallel()

	if got := FileType("Notes.PDF"); got != "pdf" {
		t.Errorf("FileType = %q", got)
	}
	if got := FileType("noext"); got != "" {
		t.Errorf("FileType = %q", got)
	}
}

func TestDefaultTopic(t *testing.T) {
	t.Parallel()

	if got := DefaultTopic("Calc Notes.pdf"); got != "uploaded_content_calc_notes" {
		t.Errorf("DefaultTopic = %q", got)
	}
	if got := DefaultTopic(".pdf"); got != "uploaded_content_file" {
		t.Errorf("DefaultTopic = %q", got)
	}
}

func TestClampDifficulty(t *testing.T) {
	t.Parallel()

	cases := map[int]int{0: 5, -3: 1, 1: 1, 7: 7, 10: 10, 42: 10}
	for in, want := range cases {
		if got := ClampDifficulty(in); got != want {
			t.Errorf("ClampDifficulty(%d) = %d, want %d", in, got, want)
		}
	}
}
