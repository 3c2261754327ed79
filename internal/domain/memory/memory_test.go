package memory

import (
	"fmt"
	"strings"
	"testing"
)

func fill(s *Store, n int) {
	for i := 1; i <= n; i++ {
		s.Append(Turn{Action: fmt.Sprintf("cmd-%d", i), Outcome: OutcomeSuccess, Output: fmt.Sprintf("out-%d", i)})
	}
}

func TestCompressNoOpWhenSmall(t *testing.T) {
	for n := 0; n <= 5; n++ {
		s := NewStore("goal", DefaultOptions())
		fill(s, n)
		before := s.Turns()

		view := s.Compress()

		if s.Len() != n {
			t.Fatalf("n=%d: expected %d turns, got %d", n, n, s.Len())
		}
		for i := range before {
			if s.Turns()[i] != before[i] {
				t.Fatalf("n=%d: turn %d changed", n, i)
			}
		}
		if view.Ratio != 1.0 || s.Ratio() != 1.0 {
			t.Fatalf("n=%d: expected ratio 1.0, got %v", n, view.Ratio)
		}
		if s.Compressed() {
			t.Fatalf("n=%d: expected uncompressed", n)
		}
	}
}

func TestCompressKeepsFirstAndLast(t *testing.T) {
	tests := []struct {
		n       int
		ratio   float64
		omitted int
	}{
		{6, 1.2, 1},
		{7, 1.4, 2},
		{13, 2.6, 8},
		{50, 10, 45},
	}
	for _, tt := range tests {
		s := NewStore("goal", DefaultOptions())
		fill(s, tt.n)

		view := s.Compress()

		if s.Len() != 5 {
			t.Fatalf("n=%d: expected 5 kept turns, got %d", tt.n, s.Len())
		}
		if view.Ratio != tt.ratio {
			t.Fatalf("n=%d: expected ratio %v, got %v", tt.n, tt.ratio, view.Ratio)
		}
		if got := s.Omitted(); got != tt.omitted {
			t.Fatalf("n=%d: expected %d omitted, got %d", tt.n, tt.omitted, got)
		}
		turns := s.Turns()
		want := []string{"cmd-1", "cmd-2", fmt.Sprintf("cmd-%d", tt.n-2), fmt.Sprintf("cmd-%d", tt.n-1), fmt.Sprintf("cmd-%d", tt.n)}
		for i, w := range want {
			if turns[i].Action != w {
				t.Fatalf("n=%d: turn %d expected %s, got %s", tt.n, i, w, turns[i].Action)
			}
		}
		if len(view.First) != 2 || len(view.Last) != 3 {
			t.Fatalf("n=%d: unexpected view split %d/%d", tt.n, len(view.First), len(view.Last))
		}
	}
}

func TestRenderContextCompressed(t *testing.T) {
	s := NewStore("goal", DefaultOptions())
	fill(s, 13)
	s.Compress()

	out := s.RenderContext()
	if !strings.Contains(out, "[8 turns omitted]") {
		t.Fatalf("expected omitted marker, got:\n%s", out)
	}
	first := strings.Index(out, "cmd-2")
	marker := strings.Index(out, "omitted")
	last := strings.Index(out, "cmd-11")
	if first < 0 || marker < 0 || last < 0 || !(first < marker && marker < last) {
		t.Fatalf("expected first block, marker, last block in order:\n%s", out)
	}
	if strings.Contains(out, "cmd-5\n") {
		t.Fatalf("omitted turn rendered:\n%s", out)
	}
}

func TestRenderContextUncompressed(t *testing.T) {
	s := NewStore("goal", DefaultOptions())
	s.Append(Turn{Action: "ls", Outcome: OutcomeSuccess, Output: "a.txt\n"})
	s.Append(Turn{Action: "cat missing", Outcome: OutcomeError, Output: "No such file"})

	out := s.RenderContext()
	want := "Step 1: ls\nResult (success):\na.txt\n\nStep 2: cat missing\nResult (error):\nNo such file"
	if out != want {
		t.Fatalf("unexpected render:\n%q\nwant:\n%q", out, want)
	}
	if strings.Contains(out, "omitted") {
		t.Fatal("uncompressed memory must not render an omitted marker")
	}
}

func TestRenderContextEmpty(t *testing.T) {
	s := NewStore("goal", DefaultOptions())
	if got := s.RenderContext(); got != "No actions taken yet." {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestAppendAutoCompresses(t *testing.T) {
	s := NewStore("goal", Options{MaxTurns: 10, KeepFirst: 2, KeepLast: 3})
	fill(s, 10)
	if s.Compressed() {
		t.Fatal("should not compress at exactly MaxTurns")
	}
	fill(s, 1)
	if !s.Compressed() {
		t.Fatal("expected compression after exceeding MaxTurns")
	}
	if s.Len() != 5 {
		t.Fatalf("expected 5 turns, got %d", s.Len())
	}
	if s.TotalTurns() != 11 {
		t.Fatalf("expected 11 total turns, got %d", s.TotalTurns())
	}
	if s.Ratio() != 2.2 {
		t.Fatalf("expected ratio 2.2, got %v", s.Ratio())
	}
}

func TestAppendEstimatesTokens(t *testing.T) {
	s := NewStore("goal", DefaultOptions())
	s.Append(Turn{Action: "abcd", Output: "abcdefgh"})
	if s.TotalTokens() != 3 {
		t.Fatalf("expected 3 tokens, got %d", s.TotalTokens())
	}
	s.Append(Turn{Action: "x", Tokens: 10})
	if s.TotalTokens() != 13 {
		t.Fatalf("expected 13 tokens, got %d", s.TotalTokens())
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2}
	for in, want := range tests {
		if got := EstimateTokens(in); got != want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestRenderContextAfterAppendingToCompressedStore(t *testing.T) {
	tests := []struct {
		n       int
		stored  int
		ratio   float64
		omitted int
	}{
		{61, 15, 10.2, 46},
		{97, 5, 19.4, 92},
	}
	for _, tt := range tests {
		s := NewStore("goal", DefaultOptions())
		for i := 1; i <= tt.n; i++ {
			s.Append(Turn{Action: fmt.Sprintf("cmd-%d", i), Outcome: OutcomeSuccess, Output: "ok"})
		}

		if s.Len() != tt.stored {
			t.Fatalf("n=%d: stored = %d, want %d", tt.n, s.Len(), tt.stored)
		}
		if s.Ratio() != tt.ratio {
			t.Fatalf("n=%d: ratio = %v, want %v", tt.n, s.Ratio(), tt.ratio)
		}
		if s.Omitted() != tt.omitted || s.Omitted()+s.Len() != tt.n {
			t.Fatalf("n=%d: omitted = %d, want %d", tt.n, s.Omitted(), tt.omitted)
		}

		out := s.RenderContext()
		if !strings.Contains(out, fmt.Sprintf("... [%d turns omitted] ...", tt.omitted)) {
			t.Fatalf("n=%d: missing omitted marker:\n%s", tt.n, out)
		}
		// Step numbers must line up with the original turn positions.
		for _, step := range []int{1, 2, tt.n - 1, tt.n} {
			want := fmt.Sprintf("Step %d: cmd-%d\n", step, step)
			if !strings.Contains(out, want) {
				t.Fatalf("n=%d: missing %q in:\n%s", tt.n, want, out)
			}
		}
		if strings.Contains(out, fmt.Sprintf("Step %d:", tt.n+1)) {
			t.Fatalf("n=%d: rendered a step past the last turn", tt.n)
		}
	}
}
