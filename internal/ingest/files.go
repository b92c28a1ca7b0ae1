package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/fileid"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/storage"
)

// ReadFile parses a drop-directory file holding one embedded node or an array of them.
// Records without an id get fileid.SourceID(path, index).
func ReadFile(path string) ([]models.EmbeddedNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	data = bytes.TrimSpace(data)
	var items []models.EmbeddedNode
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		var item models.EmbeddedNode
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		items = []models.EmbeddedNode{item}
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = fileid.SourceID(path, i)
		}
	}
	return items, nil
}

// IngestFile ingests the records of a drop-directory file. Nodes that an earlier version of
// the file produced but this one no longer contains are removed once the new records are in,
// so a file that fails to ingest leaves the earlier version in place.
func (s *Service) IngestFile(ctx context.Context, path string) (*Summary, error) {
	items, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	keep := make(map[string]struct{}, len(items))
	for i, item := range items {
		ids[i] = item.ID
		keep[item.ID] = struct{}{}
	}

	summary, err := s.Ingest(ctx, items)
	if err != nil {
		return nil, err
	}

	var stale []string
	for _, id := range s.sourceIDs(ctx, path) {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.Remove(ctx, stale); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.sources[path] = ids
	s.persist(ctx, "save_source", func(st storage.Storage) error {
		return st.SaveSource(ctx, path, ids)
	})
	s.mu.Unlock()
	s.logger.Debug("Ingested file", zap.String("path", path), zap.Int("records", len(items)))
	return summary, nil
}

// RemoveFile removes every node a drop-directory file produced.
func (s *Service) RemoveFile(ctx context.Context, path string) error {
	ids := s.sourceIDs(ctx, path)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(ctx, ids)
	delete(s.sources, path)
	s.persist(ctx, "delete_source", func(st storage.Storage) error {
		return st.DeleteSource(ctx, path)
	})
	return nil
}

func (s *Service) sourceIDs(ctx context.Context, path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ids, ok := s.sources[path]; ok {
		return ids
	}
	if s.storage == nil {
		return nil
	}
	ids, err := s.storage.SourceIDs(ctx, path)
	if err != nil {
		s.logger.Warn("Failed to look up source", zap.String("path", path), zap.Error(err))
		return nil
	}
	return ids
}
