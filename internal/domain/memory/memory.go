// Package memory implements the bounded per-task transcript of agent actions.
//
// A Store holds an append-only sequence of turns plus the task's global goal.
// Once the sequence grows past MaxTurns it is compressed to a sliding window
// of the first KeepFirst and last KeepLast turns.
package memory

import (
	"fmt"
	"math"
	"strings"
)

// Outcome classifies the result of a turn.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Turn is one recorded action/outcome pair.
type Turn struct {
	Action  string  `json:"action"`
	Outcome Outcome `json:"outcome"`
	Output  string  `json:"output"`
	Tokens  int     `json:"tokens"`
}

// Options bound the size of a Store.
type Options struct {
	MaxTurns  int `yaml:"max_turns"`
	KeepFirst int `yaml:"keep_first"`
	KeepLast  int `yaml:"keep_last"`
}

// DefaultOptions returns MaxTurns=50, KeepFirst=2, KeepLast=3.
func DefaultOptions() Options {
	return Options{MaxTurns: 50, KeepFirst: 2, KeepLast: 3}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxTurns <= 0 {
		o.MaxTurns = d.MaxTurns
	}
	if o.KeepFirst < 0 {
		o.KeepFirst = d.KeepFirst
	}
	if o.KeepLast < 0 {
		o.KeepLast = d.KeepLast
	}
	if o.KeepFirst+o.KeepLast == 0 {
		o.KeepFirst, o.KeepLast = d.KeepFirst, d.KeepLast
	}
	return o
}

// Compressed is the derived view produced by a compression pass.
type Compressed struct {
	First      []Turn  `json:"first"`
	Last       []Turn  `json:"last"`
	Ratio      float64 `json:"ratio"`
	TotalTurns int     `json:"total_turns"`
}

// Store is the transcript of one task execution. It is owned by a single
// execution loop and is not safe for concurrent use.
type Store struct {
	goal        string
	opts        Options
	turns       []Turn
	totalTurns  int
	totalTokens int
	compressed  bool
	ratio       float64
}

// NewStore creates an empty Store for the given goal.
func NewStore(goal string, opts Options) *Store {
	return &Store{
		goal:  goal,
		opts:  opts.withDefaults(),
		ratio: 1.0,
	}
}

// Append adds a turn, estimating its token cost when unset, and compresses
// once the stored sequence exceeds MaxTurns.
func (s *Store) Append(t Turn) {
	if t.Tokens <= 0 {
		t.Tokens = EstimateTokens(t.Action) + EstimateTokens(t.Output)
	}
	s.turns = append(s.turns, t)
	s.totalTurns++
	s.recountTokens()

	if len(s.turns) > s.opts.MaxTurns {
		s.Compress()
	}
}

// Compress keeps the first KeepFirst and last KeepLast turns. When the stored
// sequence already fits it is left untouched.
func (s *Store) Compress() Compressed {
	keep := s.opts.KeepFirst + s.opts.KeepLast
	if len(s.turns) <= keep {
		return s.view()
	}

	kept := make([]Turn, 0, keep)
	kept = append(kept, s.turns[:s.opts.KeepFirst]...)
	kept = append(kept, s.turns[len(s.turns)-s.opts.KeepLast:]...)
	s.turns = kept
	s.ratio = roundTo(float64(s.totalTurns)/float64(keep), 2)
	s.compressed = true
	s.recountTokens()

	return s.view()
}

// RenderContext returns the human-readable transcript given to the model.
func (s *Store) RenderContext() string {
	if len(s.turns) == 0 {
		return "No actions taken yet."
	}

	var b strings.Builder
	if !s.compressed {
		for i, t := range s.turns {
			writeTurn(&b, i+1, t)
		}
		return strings.TrimRight(b.String(), "\n")
	}

	first := min(s.opts.KeepFirst, len(s.turns))
	for i, t := range s.turns[:first] {
		writeTurn(&b, i+1, t)
	}
	omitted := s.Omitted()
	fmt.Fprintf(&b, "... [%d turns omitted] ...\n\n", omitted)
	for i, t := range s.turns[first:] {
		writeTurn(&b, first+omitted+i+1, t)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Omitted returns the number of turns hidden by compression:
// floor((ratio-1) * keptCount).
func (s *Store) Omitted() int {
	if !s.compressed {
		return 0
	}
	kept := float64(s.opts.KeepFirst + s.opts.KeepLast)
	// epsilon absorbs binary rounding of the two-decimal ratio
	return int(math.Floor((s.ratio-1)*kept + 1e-9))
}

// Goal returns the task's global goal.
func (s *Store) Goal() string { return s.goal }

// Turns returns a copy of the stored sequence.
func (s *Store) Turns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of stored turns.
func (s *Store) Len() int { return len(s.turns) }

// TotalTurns returns the number of turns ever appended.
func (s *Store) TotalTurns() int { return s.totalTurns }

// TotalTokens returns the token estimate of the stored turns.
func (s *Store) TotalTokens() int { return s.totalTokens }

// Ratio returns the current compression ratio (1.0 when uncompressed).
func (s *Store) Ratio() float64 { return s.ratio }

// Compressed reports whether a compression pass has run.
func (s *Store) Compressed() bool { return s.compressed }

func (s *Store) view() Compressed {
	first := min(s.opts.KeepFirst, len(s.turns))
	v := Compressed{
		First:      append([]Turn(nil), s.turns[:first]...),
		Last:       append([]Turn(nil), s.turns[first:]...),
		Ratio:      s.ratio,
		TotalTurns: s.totalTurns,
	}
	return v
}

func (s *Store) recountTokens() {
	n := 0
	for _, t := range s.turns {
		n += t.Tokens
	}
	s.totalTokens = n
}

func writeTurn(b *strings.Builder, step int, t Turn) {
	fmt.Fprintf(b, "Step %d: %s\n", step, t.Action)
	fmt.Fprintf(b, "Result (%s):\n%s\n\n", t.Outcome, strings.TrimRight(t.Output, "\n"))
}

// EstimateTokens approximates token count as one token per four bytes.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
