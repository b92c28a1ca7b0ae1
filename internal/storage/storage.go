// Package storage defines the persistence interface for embeddings, graph data and scores.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Supported backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Stats holds row counts per collection.
type Stats struct {
	Embeddings int64 `json:"embeddings"`
	Nodes      int64 `json:"nodes"`
	Links      int64 `json:"links"`
	Pairs      int64 `json:"pairs"`
	Sources    int64 `json:"sources"`
}

// Storage persists the state needed to rebuild the graph after a restart.
// Embeddings and nodes are returned in first-insertion order; saving an existing id
// replaces its value in place.
type Storage interface {
	// Embedding operations
	SaveEmbeddings(ctx context.Context, set *models.EmbeddingSet) error
	LoadEmbeddings(ctx context.Context) (*models.EmbeddingSet, error)

	// Graph operations
	SaveNodes(ctx context.Context, nodes []models.Node) error
	LoadNodes(ctx context.Context) ([]models.Node, error)
	ReplaceLinks(ctx context.Context, links []models.Link) error
	LoadLinks(ctx context.Context) ([]models.Link, error)

	// Score operations
	SavePairs(ctx context.Context, pairs []models.Pair) error
	LoadPairs(ctx context.Context) ([]models.Pair, error)
	// DeletePairs removes every score involving one of ids.
	DeletePairs(ctx context.Context, ids []string) error

	// Source files from the drop directory
	SaveSource(ctx context.Context, path string, ids []string) error
	SourceIDs(ctx context.Context, path string) ([]string, error)
	DeleteSource(ctx context.Context, path string) error

	// DeleteNodes removes nodes, their embeddings, their scores and every link touching them.
	DeleteNodes(ctx context.Context, ids []string) error
	// Clear removes everything.
	Clear(ctx context.Context) error

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// New opens the backend named by backend at path.
func New(backend, path string) (Storage, error) {
	switch backend {
	case "", BackendSQLite:
		return NewSQLiteStorage(path)
	case BackendBolt:
		return NewBoltStorage(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
