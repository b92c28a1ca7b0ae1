package worker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
)

func spread(prefix string, n int) *models.EmbeddingSet {
	s := models.NewEmbeddingSet()
	for i := 0; i < n; i++ {
		s.Put(fmt.Sprintf("%s%d", prefix, i), models.Embedding{float32(i + 1), float32(n - i), 0.5})
	}
	return s
}

func TestPool_MatchesSingleWorker(t *testing.T) {
	for _, newPairs := range []bool{false, true} {
		t.Run(fmt.Sprintf("newPairs=%t", newPairs), func(t *testing.T) {
			task := models.Task{Embeddings: spread("c", 5), NewEmbeddings: spread("n", 7)}

			w := New(WithNewPairs(newPairs))
			defer w.Close()
			want, err := w.Score(context.Background(), task)
			require.NoError(t, err)

			p := NewPool(3, WithNewPairs(newPairs))
			defer p.Close()
			assert.Equal(t, 3, p.Size())
			got, err := p.Score(context.Background(), task)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestPool_OverlapWithNewPairs(t *testing.T) {
	task := models.Task{Embeddings: spread("c", 3), NewEmbeddings: spread("n", 4)}
	e, _ := task.Embeddings.Get("c1")
	task.NewEmbeddings.Put("c1", e)

	w := New(WithNewPairs(true))
	defer w.Close()
	want, err := w.Score(context.Background(), task)
	require.NoError(t, err)

	p := NewPool(2, WithNewPairs(true))
	defer p.Close()
	got, err := p.Score(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPool_Error(t *testing.T) {
	task := models.Task{Embeddings: spread("c", 2), NewEmbeddings: spread("n", 4)}
	task.NewEmbeddings.Put("bad", models.Embedding{1})

	p := NewPool(2)
	defer p.Close()
	got, err := p.Score(context.Background(), task)
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestNewPool_MinimumSize(t *testing.T) {
	p := NewPool(0)
	defer p.Close()
	assert.Equal(t, 1, p.Size())
}
