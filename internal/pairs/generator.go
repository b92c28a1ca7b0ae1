// Package pairs enumerates the embedding pairs a scoring task needs and scores them lazily.
package pairs

import (
	"fmt"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/vector"
)

// Generator walks delta x current in insertion order and yields one scored pair per step.
// A Generator is single use: once Next returns false it stays exhausted.
//
//	g := pairs.New(current, delta)
//	for g.Next() {
//		key, p := g.Record()
//		...
//	}
//	if err := g.Err(); err != nil { ... }
type Generator struct {
	current, delta *models.EmbeddingSet
	newIDs         []string
	currentIDs     []string
	newPairs       bool

	i, j int
	// k walks the delta ids preceding newIDs[i] once the current ids are exhausted.
	k int

	key  string
	pair models.Pair
	err  error
	done bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithNewPairs makes the generator also score delta entries against the delta entries before them.
// Pairs where either id is also in current are skipped: the new-vs-current pass already covers them.
func WithNewPairs(enabled bool) Option {
	return func(g *Generator) {
		g.newPairs = enabled
	}
}

// New returns a generator over the pairs (n, c) for n in delta and c in current, n != c.
func New(current, delta *models.EmbeddingSet, opts ...Option) *Generator {
	g := &Generator{
		current:    current,
		delta:      delta,
		newIDs:     delta.Keys(),
		currentIDs: current.Keys(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next advances to the next pair. It returns false when the pairs are exhausted or scoring failed.
func (g *Generator) Next() bool {
	if g.done {
		return false
	}
	for g.i < len(g.newIDs) {
		n := g.newIDs[g.i]
		if g.j < len(g.currentIDs) {
			c := g.currentIDs[g.j]
			g.j++
			if n == c {
				continue
			}
			cv, _ := g.current.Get(c)
			return g.emit(n, c, cv)
		}
		if g.newPairs && g.k < g.i && !g.current.Has(n) {
			m := g.newIDs[g.k]
			g.k++
			if m == n || g.current.Has(m) {
				continue
			}
			mv, _ := g.delta.Get(m)
			return g.emit(n, m, mv)
		}
		g.i++
		g.j, g.k = 0, 0
	}
	g.done = true
	return false
}

func (g *Generator) emit(n, other string, otherVec models.Embedding) bool {
	nv, _ := g.delta.Get(n)
	s, err := vector.Similarity(nv, otherVec)
	if err != nil {
		g.err = fmt.Errorf("score %s against %s: %w", n, other, err)
		g.done = true
		return false
	}
	g.key = models.PairKey(n, other)
	g.pair = models.Pair{ID1: n, ID2: other, Similarity: s}
	return true
}

// Record returns the pair produced by the last successful call to Next.
func (g *Generator) Record() (string, models.Pair) {
	return g.key, g.pair
}

// Err returns the scoring error that stopped iteration, if any.
func (g *Generator) Err() error {
	return g.err
}

// Collect drains g into a result mapping keyed by pair key. No partial result is returned on error.
func Collect(g *Generator) (models.PairSet, error) {
	out := make(models.PairSet)
	for g.Next() {
		key, p := g.Record()
		out[key] = p
	}
	if err := g.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns how many pairs a task over current and delta produces without scoring them.
func Count(current, delta *models.EmbeddingSet, newPairs bool) int {
	total := 0
	prior := 0
	delta.Each(func(n string, _ models.Embedding) bool {
		total += current.Len()
		if current.Has(n) {
			total--
		}
		if !current.Has(n) {
			if newPairs {
				total += prior
			}
			prior++
		}
		return true
	})
	return total
}
