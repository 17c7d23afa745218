package chunker

import (
	"errors"
	"strings"
	"testing"
)

func TestSplitWindowGeometry(t *testing.T) {
	// 1500 chars with size=1000 overlap=200 must give exactly two chunks,
	// the second starting at offset 800.
	text := strings.Repeat("a", 800) + strings.Repeat("b", 700)

	chunks, err := Split("doc", text, Options{Size: 1000, Overlap: 200})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Split() got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0].Content) != 1000 {
		t.Errorf("first chunk length = %d, want 1000", len(chunks[0].Content))
	}
	if len(chunks[1].Content) != 700 {
		t.Errorf("second chunk length = %d, want 700", len(chunks[1].Content))
	}
	// Offset 800 is where the b-run starts.
	if chunks[1].Content[0] != 'b' {
		t.Errorf("second chunk starts with %q, want 'b'", chunks[1].Content[0])
	}
	if chunks[0].Ordinal != 0 || chunks[1].Ordinal != 1 {
		t.Errorf("ordinals = %d,%d, want 0,1", chunks[0].Ordinal, chunks[1].Ordinal)
	}
}

func TestSplitCoversEveryCharacter(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		size    int
		overlap int
	}{
		{name: "exact multiple", length: 2000, size: 1000, overlap: 200},
		{name: "tiny remainder", length: 1601, size: 1000, overlap: 200},
		{name: "no overlap", length: 950, size: 100, overlap: 0},
		{name: "heavy overlap", length: 500, size: 100, overlap: 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Repeat("x", tt.length)
			chunks, err := Split("doc", text, Options{Size: tt.size, Overlap: tt.overlap})
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}

			covered := 0
			step := tt.size - tt.overlap
			for i, c := range chunks {
				start := i * step
				if start+len(c.Content) > covered {
					if start > covered {
						t.Fatalf("gap before chunk %d: covered %d, chunk starts at %d", i, covered, start)
					}
					covered = start + len(c.Content)
				}
			}
			if covered != tt.length {
				t.Errorf("covered %d characters, want %d", covered, tt.length)
			}
		})
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox ", 200)
	opts := Options{Size: 300, Overlap: 50}

	first, err := Split("doc", text, opts)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	second, err := Split("doc", text, opts)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitNormalizesWhitespace(t *testing.T) {
	chunks, err := Split("doc", "  hello\n\n\tworld   again\r\n", Options{Size: 100, Overlap: 10})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Content != "hello world again" {
		t.Errorf("content = %q, want %q", chunks[0].Content, "hello world again")
	}
}

func TestSplitEdgeCases(t *testing.T) {
	t.Run("empty text", func(t *testing.T) {
		chunks, err := Split("doc", "", Options{Size: 100, Overlap: 10})
		if err != nil {
			t.Fatalf("Split() error = %v", err)
		}
		if len(chunks) != 0 {
			t.Errorf("got %d chunks, want 0", len(chunks))
		}
	})

	t.Run("whitespace only", func(t *testing.T) {
		chunks, err := Split("doc", " \n\t ", Options{Size: 100, Overlap: 10})
		if err != nil {
			t.Fatalf("Split() error = %v", err)
		}
		if len(chunks) != 0 {
			t.Errorf("got %d chunks, want 0", len(chunks))
		}
	})

	t.Run("text shorter than window", func(t *testing.T) {
		chunks, err := Split("doc", "short text", Options{Size: 1000, Overlap: 200})
		if err != nil {
			t.Fatalf("Split() error = %v", err)
		}
		if len(chunks) != 1 {
			t.Fatalf("got %d chunks, want 1", len(chunks))
		}
		if chunks[0].Content != "short text" {
			t.Errorf("content = %q", chunks[0].Content)
		}
	})

	t.Run("overlap >= size rejected", func(t *testing.T) {
		_, err := Split("doc", "text", Options{Size: 100, Overlap: 100})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("error = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("negative overlap rejected", func(t *testing.T) {
		_, err := Split("doc", "text", Options{Size: 100, Overlap: -1})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("error = %v, want ErrInvalidConfig", err)
		}
	})
}

func TestChunkID(t *testing.T) {
	if got := ChunkID("report", 7); got != "report-7" {
		t.Errorf("ChunkID() = %q, want %q", got, "report-7")
	}
	c := Chunk{DocumentID: "manual", Ordinal: 0}
	if c.ID() != "manual-0" {
		t.Errorf("Chunk.ID() = %q, want %q", c.ID(), "manual-0")
	}
}
