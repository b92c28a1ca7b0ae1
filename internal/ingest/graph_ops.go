package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/keyword"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/storage"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/vector"
)

// AddNodes adds nodes to the graph as they are and persists them.
func (s *Service) AddNodes(ctx context.Context, nodes []models.Node) error {
	return s.AddBoth(ctx, models.GraphData{Nodes: nodes})
}

// AddLinks adds links between existing nodes and persists the resulting link set.
func (s *Service) AddLinks(ctx context.Context, links []models.Link) error {
	return s.AddBoth(ctx, models.GraphData{Links: links})
}

// AddBoth adds data to the graph unscored, then persists and indexes what it added.
// Links added this way are kept across threshold redraws.
func (s *Service) AddBoth(ctx context.Context, data models.GraphData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.AddBoth(data); err != nil {
		return err
	}
	s.persist(ctx, "add", func(st storage.Storage) error {
		if len(data.Nodes) > 0 {
			if err := st.SaveNodes(ctx, data.Nodes); err != nil {
				return err
			}
		}
		if len(data.Links) == 0 {
			return nil
		}
		return st.ReplaceLinks(ctx, s.store.Snapshot().Links)
	})
	if s.index != nil && len(data.Nodes) > 0 {
		if err := s.index.Index(ctx, data.Nodes...); err != nil {
			s.logger.Warn("Failed to index nodes", zap.Error(err))
		}
	}
	return nil
}

// RedrawLinks replaces the graph's links with links and persists them. An empty set changes nothing.
func (s *Service) RedrawLinks(ctx context.Context, links []models.Link) error {
	if len(links) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.RedrawLinks(links); err != nil {
		return err
	}
	s.persist(ctx, "redraw", func(st storage.Storage) error {
		return st.ReplaceLinks(ctx, s.store.Snapshot().Links)
	})
	return nil
}

// Remove deletes the nodes with the given ids, every link touching them, their embeddings
// and their remembered scores. The graph is republished once.
func (s *Service) Remove(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(ctx, ids)
	return nil
}

func (s *Service) remove(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	s.store.RemoveNodesByID(set)
	for _, id := range ids {
		s.cache.Remove(id)
	}
	s.forget(set)

	s.persist(ctx, "remove", func(st storage.Storage) error {
		return st.DeleteNodes(ctx, ids)
	})
	if s.index != nil {
		if err := s.index.Delete(ctx, ids...); err != nil {
			s.logger.Warn("Failed to delete nodes from index", zap.Error(err))
		}
	}
	s.logger.Info("Removed nodes", zap.Int("count", len(ids)))
}

// Clear empties the graph, the cache and the remembered scores.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, n := range s.store.Snapshot().Nodes {
		ids = append(ids, n.ID)
	}
	s.store.Clear()
	s.cache = models.NewEmbeddingSet()
	s.scores = make(map[string]models.Pair)
	s.scoreOrder = nil
	s.sources = make(map[string][]string)

	s.persist(ctx, "clear", func(st storage.Storage) error {
		return st.Clear(ctx)
	})
	if s.index != nil {
		if err := s.index.Delete(ctx, ids...); err != nil {
			s.logger.Warn("Failed to clear index", zap.Error(err))
		}
	}
	s.logger.Info("Cleared graph")
	return nil
}

// SetThreshold changes the link threshold and rebuilds the similarity links from the remembered
// scores. Links that did not come from scoring are kept.
func (s *Service) SetThreshold(ctx context.Context, t float64) error {
	if err := checkThreshold(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = t
	return s.redraw(ctx, "threshold")
}

// Restyle changes the link colours and recolours every similarity link.
func (s *Service) Restyle(ctx context.Context, low, high string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setColors(low, high); err != nil {
		return err
	}
	return s.redraw(ctx, "restyle")
}

// redraw recomputes the similarity links and hands them to the store in one redraw.
func (s *Service) redraw(ctx context.Context, op string) error {
	return s.rebuildLinks(ctx, op, s.manualLinks())
}

// manualLinks returns the current links that did not come from a remembered score.
func (s *Service) manualLinks() []models.Link {
	var links []models.Link
	for _, l := range s.store.Snapshot().Links {
		if _, scored := s.scores[models.UnorderedKey(l.Source, l.Target)]; !scored {
			links = append(links, l)
		}
	}
	return links
}

// rebuildLinks replaces the graph's links with manual plus a link for every remembered
// score at or above the threshold whose pair manual does not already join, and persists the result.
func (s *Service) rebuildLinks(ctx context.Context, op string, manual []models.Link) error {
	links := append([]models.Link(nil), manual...)
	taken := make(map[string]struct{}, len(manual))
	for _, l := range manual {
		taken[models.UnorderedKey(l.Source, l.Target)] = struct{}{}
	}
	for _, key := range s.scoreOrder {
		if _, ok := taken[key]; ok {
			continue
		}
		p := s.scores[key]
		if p.Similarity >= s.threshold && s.cache.Has(p.ID1) && s.cache.Has(p.ID2) {
			links = append(links, s.link(p))
		}
	}
	var err error
	if len(links) == 0 {
		// RedrawLinks ignores an empty set, so dropping the last link goes through ClearLinks.
		s.store.ClearLinks()
	} else {
		err = s.store.RedrawLinks(links)
	}
	if err != nil {
		return fmt.Errorf("redraw links: %w", err)
	}
	s.persist(ctx, op, func(st storage.Storage) error {
		return st.ReplaceLinks(ctx, links)
	})
	s.logger.Info("Redrew links", zap.String("reason", op), zap.Int("links", len(links)), zap.Float64("threshold", s.threshold))
	return nil
}

// Restore loads the persisted graph, embeddings and scores. It is meant to run once at startup,
// before anything is ingested.
func (s *Service) Restore(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cache, err := s.storage.LoadEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}
	nodes, err := s.storage.LoadNodes(ctx)
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	links, err := s.storage.LoadLinks(ctx)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}
	pairs, err := s.storage.LoadPairs(ctx)
	if err != nil {
		return fmt.Errorf("load scores: %w", err)
	}
	links = s.knownLinks(nodes, links)
	if err := s.store.AddBoth(models.GraphData{Nodes: nodes, Links: links}); err != nil {
		return fmt.Errorf("restore graph: %w", err)
	}
	s.cache.Merge(cache)
	for _, p := range pairs {
		s.remember(p)
	}
	if s.index != nil {
		if err := s.index.Index(ctx, nodes...); err != nil {
			s.logger.Warn("Failed to index restored nodes", zap.Error(err))
		}
	}
	s.logger.Info("Restored graph",
		zap.Int("nodes", len(nodes)),
		zap.Int("links", len(links)),
		zap.Int("embeddings", cache.Len()),
		zap.Int("scores", len(pairs)))
	return nil
}

// knownLinks drops links whose endpoints are not among nodes.
func (s *Service) knownLinks(nodes []models.Node, links []models.Link) []models.Link {
	ids := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = struct{}{}
	}
	kept := links[:0]
	for _, l := range links {
		_, a := ids[l.Source]
		_, b := ids[l.Target]
		if !a || !b {
			s.logger.Warn("Dropping persisted link with unknown endpoint",
				zap.String("source", l.Source), zap.String("target", l.Target))
			continue
		}
		kept = append(kept, l)
	}
	return kept
}

// Similar returns the k nodes whose embeddings are closest to id's.
func (s *Service) Similar(id string, k int) ([]vector.Neighbor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return vector.Nearest(e, s.cache, k, id)
}

// Search returns nodes whose title or text match query. Without a keyword index it returns nothing.
func (s *Service) Search(ctx context.Context, query string, limit int, opts *keyword.SearchOptions) ([]keyword.Hit, error) {
	if s.index == nil {
		return nil, nil
	}
	return s.index.Search(ctx, query, limit, opts)
}

// Stats returns counts and the current styling.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes, links := s.store.Counts()
	return Stats{
		Nodes:      nodes,
		Links:      links,
		Embeddings: s.cache.Len(),
		Dimensions: s.cache.Dimensions(),
		Scores:     len(s.scores),
		Threshold:  s.threshold,
		LinkLow:    s.lowHex,
		LinkHigh:   s.highHex,
	}
}

// Embeddings returns a copy of the cache.
func (s *Service) Embeddings() *models.EmbeddingSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Clone()
}
