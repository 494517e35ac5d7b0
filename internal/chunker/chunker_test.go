package chunker

import (
	"reflect"
	"strings"
	"testing"
)

func TestChunkEmptyInput(t *testing.T) {
	if got := Chunk("", 500, 50); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := Chunk("   \n\t  ", 500, 50); got != nil {
		t.Fatalf("expected nil for whitespace input, got %v", got)
	}
}

func TestChunkInvalidSize(t *testing.T) {
	if got := Chunk("some text", 0, 0); got != nil {
		t.Fatalf("expected nil for zero size, got %v", got)
	}
	if got := Chunk("some text", -5, 0); got != nil {
		t.Fatalf("expected nil for negative size, got %v", got)
	}
}

func TestChunkShortTextSinglePiece(t *testing.T) {
	text := "short document"
	got := Chunk(text, 500, 50)
	if len(got) != 1 {
		t.Fatalf("expected one chunk, got %d", len(got))
	}
	if got[0] != text {
		t.Fatalf("expected text returned unchanged, got %q", got[0])
	}
}

func TestChunkWordBoundaries(t *testing.T) {
	got := Chunk("hello world foo", 8, 0)
	want := []string{"hello", "world", "foo"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestChunkLongDocument(t *testing.T) {
	text := strings.Repeat("word ", 240) // 1200 characters
	got := Chunk(text, 500, 50)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks for 1200 chars at size=500 overlap=50, got %d", len(got))
	}
	for i, c := range got {
		if len([]rune(c)) > 500 {
			t.Fatalf("chunk %d exceeds size: %d runes", i, len([]rune(c)))
		}
		if c != strings.TrimSpace(c) {
			t.Fatalf("chunk %d not trimmed: %q", i, c)
		}
	}
}

func TestChunkDeterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 40)
	first := Chunk(text, 120, 20)
	second := Chunk(text, 120, 20)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("chunking is not deterministic")
	}
}

func TestChunkOverlapAtLeastSizeStillTerminates(t *testing.T) {
	text := strings.Repeat("abc def ", 100)
	got := Chunk(text, 20, 20)
	if len(got) == 0 {
		t.Fatalf("expected chunks despite overlap >= size")
	}
	// With overlap disabled the pieces must cover all words in order.
	joined := strings.Fields(strings.Join(got, " "))
	original := strings.Fields(text)
	if len(joined) != len(original) {
		t.Fatalf("expected %d words covered, got %d", len(original), len(joined))
	}
}

func TestChunkUnbrokenRunCutsAtSize(t *testing.T) {
	text := strings.Repeat("x", 1000)
	got := Chunk(text, 100, 0)
	if len(got) != 10 {
		t.Fatalf("expected 10 chunks for unbroken 1000-char run, got %d", len(got))
	}
	for i, c := range got {
		if len(c) != 100 {
			t.Fatalf("chunk %d: expected 100 chars, got %d", i, len(c))
		}
	}
}
