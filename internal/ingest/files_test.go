package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/fileid"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	single := filepath.Join(dir, "one.json")
	require.NoError(t, os.WriteFile(single, []byte(`{"title":"solo","embedding":[1,0]}`), 0644))
	items, err := ReadFile(single)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, fileid.SourceID(single, 0), items[0].ID)
	assert.Equal(t, "solo", items[0].Title)

	many := filepath.Join(dir, "many.json")
	require.NoError(t, os.WriteFile(many, []byte(` [{"id":"x","embedding":[1,0]},{"embedding":[0,1]}]`), 0644))
	items, err = ReadFile(many)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "x", items[0].ID)
	assert.Equal(t, fileid.SourceID(many, 1), items[1].ID)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{not json`), 0644))
	_, err = ReadFile(bad)
	assert.Error(t, err)
}

func TestService_IngestAndRemoveFile(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "drop.json")

	require.NoError(t, os.WriteFile(path, []byte(`[{"embedding":[1,0]},{"embedding":[0,1]}]`), 0644))
	sum, err := svc.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.NodesAdded)
	assert.True(t, store.HasNode(fileid.SourceID(path, 1)))

	// The rewritten file drops its second record.
	require.NoError(t, os.WriteFile(path, []byte(`[{"embedding":[1,0]}]`), 0644))
	_, err = svc.IngestFile(ctx, path)
	require.NoError(t, err)
	n, _ := store.Counts()
	assert.Equal(t, 1, n)
	assert.False(t, store.HasNode(fileid.SourceID(path, 1)))

	require.NoError(t, svc.RemoveFile(ctx, path))
	n, _ = store.Counts()
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, svc.Stats().Embeddings)
}

func TestService_IngestFileFailureKeepsEarlierVersion(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "drop.json")

	require.NoError(t, os.WriteFile(path, []byte(`[{"embedding":[1,0]},{"embedding":[0,1]}]`), 0644))
	_, err := svc.IngestFile(ctx, path)
	require.NoError(t, err)

	// The rewrite drops a record and carries a vector of the wrong size.
	require.NoError(t, os.WriteFile(path, []byte(`[{"embedding":[1,0,0]}]`), 0644))
	_, err = svc.IngestFile(ctx, path)
	require.ErrorIs(t, err, ErrInvalidEmbedding)

	assert.True(t, store.HasNode(fileid.SourceID(path, 0)))
	assert.True(t, store.HasNode(fileid.SourceID(path, 1)))
	assert.Equal(t, 2, svc.Stats().Embeddings)
}
