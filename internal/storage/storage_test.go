package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
)

func openBackends(t *testing.T) map[string]Storage {
	t.Helper()
	dir := t.TempDir()
	out := make(map[string]Storage)
	for backend, file := range map[string]string{BackendSQLite: "graph.db", BackendBolt: "graph.bolt"} {
		s, err := New(backend, filepath.Join(dir, backend, file))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		out[backend] = s
	}
	return out
}

func TestStorage_Embeddings(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			set := models.NewEmbeddingSet()
			set.Put("b", models.Embedding{1, 0})
			set.Put("a", models.Embedding{0, 1})
			require.NoError(t, s.SaveEmbeddings(ctx, set))

			update := models.NewEmbeddingSet()
			update.Put("c", models.Embedding{0.5, 0.5})
			update.Put("b", models.Embedding{2, 2})
			require.NoError(t, s.SaveEmbeddings(ctx, update))

			got, err := s.LoadEmbeddings(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "a", "c"}, got.Keys())
			b, _ := got.Get("b")
			assert.Equal(t, models.Embedding{2, 2}, b)
		})
	}
}

func TestStorage_GraphAndPairs(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			nodes := []models.Node{
				{ID: "A", Title: "Alpha", Position: &models.Position{X: 1, Y: 2, Z: 3}},
				{ID: "B", Text: "beta text"},
				{ID: "C", Color: "#ffffff"},
			}
			require.NoError(t, s.SaveNodes(ctx, nodes))
			require.NoError(t, s.ReplaceLinks(ctx, []models.Link{
				{Source: "A", Target: "B", Weight: 0.9, Color: "#111111"},
				{Source: "B", Target: "C", Weight: 0.85},
			}))
			require.NoError(t, s.SavePairs(ctx, []models.Pair{
				{ID1: "B", ID2: "A", Similarity: 0.9},
				{ID1: "C", ID2: "B", Similarity: 0.85},
				{ID1: "C", ID2: "A", Similarity: 0.2},
			}))

			gotNodes, err := s.LoadNodes(ctx)
			require.NoError(t, err)
			assert.Equal(t, nodes, gotNodes)

			require.NoError(t, s.DeleteNodes(ctx, []string{"A"}))

			gotNodes, err = s.LoadNodes(ctx)
			require.NoError(t, err)
			assert.Len(t, gotNodes, 2)
			links, err := s.LoadLinks(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.Link{{Source: "B", Target: "C", Weight: 0.85}}, links)
			pairs, err := s.LoadPairs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.Pair{{ID1: "C", ID2: "B", Similarity: 0.85}}, pairs)

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Nodes: 2, Links: 1, Pairs: 1}, st)
		})
	}
}

func TestStorage_SourcesAndClear(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ids, err := s.SourceIDs(ctx, "/drop/a.json")
			require.NoError(t, err)
			assert.Nil(t, ids)

			require.NoError(t, s.SaveSource(ctx, "/drop/a.json", []string{"x", "y"}))
			ids, err = s.SourceIDs(ctx, "/drop/a.json")
			require.NoError(t, err)
			assert.Equal(t, []string{"x", "y"}, ids)

			set := models.NewEmbeddingSet()
			set.Put("x", models.Embedding{1})
			require.NoError(t, s.SaveEmbeddings(ctx, set))
			require.NoError(t, s.Clear(ctx))

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{}, st)

			require.NoError(t, s.SaveSource(ctx, "/drop/b.json", []string{"z"}))
			require.NoError(t, s.DeleteSource(ctx, "/drop/b.json"))
			ids, err = s.SourceIDs(ctx, "/drop/b.json")
			require.NoError(t, err)
			assert.Nil(t, ids)
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New("postgres", filepath.Join(t.TempDir(), "x"))
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestStorage_DeletePairs(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveNodes(ctx, []models.Node{{ID: "A"}, {ID: "B"}, {ID: "C"}}))
			require.NoError(t, s.SavePairs(ctx, []models.Pair{
				{ID1: "B", ID2: "A", Similarity: 0.9},
				{ID1: "C", ID2: "A", Similarity: 0.2},
				{ID1: "C", ID2: "B", Similarity: 0.85},
			}))

			require.NoError(t, s.DeletePairs(ctx, []string{"B"}))

			pairs, err := s.LoadPairs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.Pair{{ID1: "C", ID2: "A", Similarity: 0.2}}, pairs)
			nodes, err := s.LoadNodes(ctx)
			require.NoError(t, err)
			assert.Len(t, nodes, 3, "nodes are untouched")
		})
	}
}
