package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
)

// Pool spreads one task across several workers by splitting its delta into contiguous chunks.
type Pool struct {
	workers  []*Worker
	newPairs bool
}

// NewPool starts size workers. A size below 1 is treated as 1.
func NewPool(size int, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	o := buildOptions(opts)
	p := &Pool{workers: make([]*Worker, size), newPairs: o.newPairs}
	for i := range p.workers {
		p.workers[i] = newWorker(fmt.Sprintf("worker-%d", i), o)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Score scores task across the pool and merges the chunk results.
// With new-vs-new pairs enabled, chunks after the first also carry the delta entries before them
// so every pair is still scored exactly once.
func (p *Pool) Score(ctx context.Context, task models.Task) (models.PairSet, error) {
	chunks := p.split(task)
	if len(chunks) == 1 {
		return p.workers[0].Score(ctx, chunks[0])
	}
	results := make([]models.PairSet, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			r, err := p.workers[i].Score(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	merged := make(models.PairSet)
	for _, r := range results {
		for k, v := range r {
			merged[k] = v
		}
	}
	return merged, nil
}

func (p *Pool) split(task models.Task) []models.Task {
	n := len(p.workers)
	keys := task.NewEmbeddings.Keys()
	if n == 1 || len(keys) < 2 {
		return []models.Task{task}
	}
	if p.newPairs && overlaps(task.Embeddings, keys) {
		// Re-scored ids pair differently across chunk boundaries; keep the task whole.
		return []models.Task{task}
	}
	if n > len(keys) {
		n = len(keys)
	}
	size := (len(keys) + n - 1) / n
	var chunks []models.Task
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		delta := models.NewEmbeddingSet()
		for _, id := range keys[start:end] {
			e, _ := task.NewEmbeddings.Get(id)
			delta.Put(id, e)
		}
		current := task.Embeddings
		if p.newPairs && start > 0 {
			current = prefixed(task.Embeddings, task.NewEmbeddings, keys[:start])
		}
		chunks = append(chunks, models.Task{Embeddings: current, NewEmbeddings: delta})
	}
	return chunks
}

func overlaps(current *models.EmbeddingSet, ids []string) bool {
	for _, id := range ids {
		if current.Has(id) {
			return true
		}
	}
	return false
}

// prefixed returns current extended with the given earlier delta entries that are not already in it.
func prefixed(current, delta *models.EmbeddingSet, earlier []string) *models.EmbeddingSet {
	out := models.NewEmbeddingSet()
	current.Each(func(id string, e models.Embedding) bool {
		out.Put(id, e)
		return true
	})
	for _, id := range earlier {
		if current.Has(id) {
			continue
		}
		e, _ := delta.Get(id)
		out.Put(id, e)
	}
	return out
}

// Close closes every worker.
func (p *Pool) Close() error {
	for _, w := range p.workers {
		_ = w.Close()
	}
	return nil
}
