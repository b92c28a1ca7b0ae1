// Package ingest turns newly arrived embeddings into graph nodes and similarity links.
// It owns the embedding cache, dispatches scoring tasks, applies the threshold,
// and keeps the graph store, persistence and search index in step.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/graph"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/keyword"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/metrics"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/storage"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/vector"
)

var (
	// ErrScoringFailed is returned when a scoring task still fails after its retries.
	ErrScoringFailed = errors.New("scoring failed")
	// ErrInvalidEmbedding is returned for empty, non-finite, zero-norm or wrongly sized embeddings.
	ErrInvalidEmbedding = errors.New("invalid embedding")
	// ErrUnknownNode is returned when an id has no embedding.
	ErrUnknownNode = errors.New("unknown node")
	// ErrInvalidSetting is returned for an out-of-range threshold or an unparsable colour.
	ErrInvalidSetting = errors.New("invalid setting")
)

// Scorer scores a task. *worker.Worker and *worker.Pool implement it.
type Scorer interface {
	Score(ctx context.Context, task models.Task) (models.PairSet, error)
}

// Summary describes the outcome of one Ingest call.
type Summary struct {
	TaskID     string        `json:"task_id"`
	Received   int           `json:"received"`
	NodesAdded int           `json:"nodes_added"`
	Pairs      int           `json:"pairs"`
	LinksAdded int           `json:"links_added"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
}

// Stats describes the current state of the service.
type Stats struct {
	Nodes      int     `json:"nodes"`
	Links      int     `json:"links"`
	Embeddings int     `json:"embeddings"`
	Dimensions int     `json:"dimensions"`
	Scores     int     `json:"scores"`
	Threshold  float64 `json:"threshold"`
	LinkLow    string  `json:"link_color_low"`
	LinkHigh   string  `json:"link_color_high"`
}

// Service is the orchestration boundary between scoring and the graph store.
// Its methods are safe for concurrent use and run one at a time.
type Service struct {
	mu     sync.Mutex
	store  *graph.Store
	scorer Scorer

	cache *models.EmbeddingSet
	// scores remembers every scored pair by unordered key, in scoring order, so the
	// link set can be rebuilt when the threshold or colours change.
	scores     map[string]models.Pair
	scoreOrder []string
	sources    map[string][]string

	threshold float64
	retries   int
	low, high colorful.Color
	nodeColor string

	storage  storage.Storage
	index    *keyword.NodeIndex
	logger   *zap.Logger
	recorder metrics.Recorder

	lowHex, highHex string
}

// Option configures a Service.
type Option func(*Service)

// WithStorage persists state to st.
func WithStorage(st storage.Storage) Option {
	return func(s *Service) {
		s.storage = st
	}
}

// WithKeywordIndex indexes node text in idx.
func WithKeywordIndex(idx *keyword.NodeIndex) Option {
	return func(s *Service) {
		s.index = idx
	}
}

// WithThreshold sets the minimum similarity for a link.
func WithThreshold(t float64) Option {
	return func(s *Service) {
		s.threshold = t
	}
}

// WithRetries sets how many times a failed task is retried.
func WithRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithLinkColors sets the colours for the weakest and strongest links as hex strings.
func WithLinkColors(low, high string) Option {
	return func(s *Service) {
		s.lowHex, s.highHex = low, high
	}
}

// WithNodeColor sets the colour given to nodes that arrive without one.
func WithNodeColor(c string) Option {
	return func(s *Service) {
		s.nodeColor = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder used for persistence timings.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewService returns a service that applies scoring results to store.
func NewService(store *graph.Store, scorer Scorer, opts ...Option) (*Service, error) {
	s := &Service{
		store:     store,
		scorer:    scorer,
		cache:     models.NewEmbeddingSet(),
		scores:    make(map[string]models.Pair),
		sources:   make(map[string][]string),
		threshold: 0.8,
		retries:   1,
		lowHex:    "#1f3b73",
		highHex:   "#f2c14e",
		logger:    zap.NewNop(),
		recorder:  metrics.NewNoopRecorder(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := checkThreshold(s.threshold); err != nil {
		return nil, err
	}
	if err := s.setColors(s.lowHex, s.highHex); err != nil {
		return nil, err
	}
	return s, nil
}

func checkThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("%w: threshold %v not in [0,1]", ErrInvalidSetting, t)
	}
	return nil
}

func (s *Service) setColors(low, high string) error {
	lc, err := colorful.Hex(low)
	if err != nil {
		return fmt.Errorf("%w: link colour %q: %v", ErrInvalidSetting, low, err)
	}
	hc, err := colorful.Hex(high)
	if err != nil {
		return fmt.Errorf("%w: link colour %q: %v", ErrInvalidSetting, high, err)
	}
	s.low, s.high = lc, hc
	s.lowHex, s.highHex = lc.Hex(), hc.Hex()
	return nil
}

// Ingest scores items against the cache, adds their nodes and the links at or above the
// threshold to the graph, then absorbs them into the cache. Items without an id get a generated
// one; when a batch repeats an id the last item wins.
//
// Items whose id is already a node update that node's attributes. An item whose id is cached
// with a different vector is re-scored: its earlier scores are dropped and the similarity links
// are rebuilt, so the graph never keeps a link from a vector that has been replaced.
func (s *Service) Ingest(ctx context.Context, items []models.EmbeddedNode) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	summary := &Summary{TaskID: uuid.NewString(), Received: len(items)}
	if len(items) == 0 {
		return summary, nil
	}
	items = uniqueItems(items)
	delta, err := s.buildDelta(items)
	if err != nil {
		return nil, err
	}

	rescored := make(map[string]struct{})
	current := s.cache
	for _, item := range items {
		old, ok := s.cache.Get(item.ID)
		switch {
		case !ok:
		case slices.Equal(old, item.Embedding):
			delta.Remove(item.ID)
		default:
			rescored[item.ID] = struct{}{}
		}
	}
	if len(rescored) > 0 {
		// Replaced vectors must not be scored against their own old value.
		current = s.cache.Clone()
		for id := range rescored {
			current.Remove(id)
		}
	}

	var result models.PairSet
	if delta.Len() > 0 {
		task := models.Task{Embeddings: current, NewEmbeddings: delta}
		var attempts int
		result, attempts, err = s.score(ctx, summary.TaskID, task)
		summary.Attempts = attempts
		if err != nil {
			return nil, err
		}
	}
	summary.Pairs = len(result)

	var added, updated []models.Node
	for _, item := range items {
		n := item.Node()
		if n.Color == "" {
			n.Color = s.nodeColor
		}
		if s.store.HasNode(item.ID) {
			updated = append(updated, n)
		} else {
			added = append(added, n)
		}
	}

	pairs := orderedPairs(result)
	if len(rescored) == 0 {
		links := s.newLinks(pairs)
		if err := s.store.AddBoth(models.GraphData{Nodes: added, Links: links}); err != nil {
			return nil, fmt.Errorf("apply scoring result: %w", err)
		}
		if err := s.store.UpdateNodes(updated); err != nil {
			return nil, fmt.Errorf("apply scoring result: %w", err)
		}
		for _, p := range pairs {
			s.remember(p)
		}
		s.cache.Merge(delta)
		summary.LinksAdded = len(links)
	} else {
		manual := s.manualLinks()
		if len(added) > 0 {
			if err := s.store.AddNodes(added); err != nil {
				return nil, fmt.Errorf("apply scoring result: %w", err)
			}
		}
		if err := s.store.UpdateNodes(updated); err != nil {
			return nil, fmt.Errorf("apply scoring result: %w", err)
		}
		s.forget(rescored)
		for _, p := range pairs {
			s.remember(p)
			if p.Similarity >= s.threshold {
				summary.LinksAdded++
			}
		}
		s.cache.Merge(delta)
		if err := s.rebuildLinks(ctx, "rescore", manual); err != nil {
			return nil, err
		}
	}

	summary.NodesAdded = len(added)
	summary.Duration = time.Since(start)

	saved := s.storedNodes(items)
	s.persist(ctx, "ingest", func(st storage.Storage) error {
		if len(rescored) > 0 {
			if err := st.DeletePairs(ctx, sortedIDs(rescored)); err != nil {
				return err
			}
		}
		if err := st.SaveEmbeddings(ctx, delta); err != nil {
			return err
		}
		if err := st.SaveNodes(ctx, saved); err != nil {
			return err
		}
		if err := st.SavePairs(ctx, pairs); err != nil {
			return err
		}
		return st.ReplaceLinks(ctx, s.store.Snapshot().Links)
	})
	if s.index != nil {
		if err := s.index.Index(ctx, saved...); err != nil {
			s.logger.Warn("Failed to index nodes", zap.Error(err))
		}
	}

	s.logger.Info("Ingested embeddings",
		zap.String("task", summary.TaskID),
		zap.Int("received", summary.Received),
		zap.Int("nodes", summary.NodesAdded),
		zap.Int("updated", len(updated)),
		zap.Int("rescored", len(rescored)),
		zap.Int("pairs", summary.Pairs),
		zap.Int("links", summary.LinksAdded),
		zap.Duration("took", summary.Duration))
	return summary, nil
}

// storedNodes returns the graph's current copy of each item's node, in item order.
func (s *Service) storedNodes(items []models.EmbeddedNode) []models.Node {
	want := make(map[string]struct{}, len(items))
	for _, item := range items {
		want[item.ID] = struct{}{}
	}
	byID := make(map[string]models.Node, len(items))
	for _, n := range s.store.Snapshot().Nodes {
		if _, ok := want[n.ID]; ok {
			byID[n.ID] = n
		}
	}
	out := make([]models.Node, 0, len(items))
	for _, item := range items {
		if n, ok := byID[item.ID]; ok {
			out = append(out, n)
		}
	}
	return out
}

// uniqueItems copies items, assigns missing ids and collapses repeated ids.
// A repeated id keeps its first position and takes the last item's values.
func uniqueItems(items []models.EmbeddedNode) []models.EmbeddedNode {
	out := make([]models.EmbeddedNode, 0, len(items))
	pos := make(map[string]int, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if i, ok := pos[item.ID]; ok {
			out[i] = item
			continue
		}
		pos[item.ID] = len(out)
		out = append(out, item)
	}
	return out
}

func sortedIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Service) buildDelta(items []models.EmbeddedNode) (*models.EmbeddingSet, error) {
	dims := s.cache.Dimensions()
	delta := models.NewEmbeddingSet()
	for i := range items {
		e := items[i].Embedding
		if len(e) == 0 {
			return nil, fmt.Errorf("%w: %s is empty", ErrInvalidEmbedding, items[i].ID)
		}
		if dims == 0 {
			dims = len(e)
		}
		if len(e) != dims {
			return nil, fmt.Errorf("%w: %s has %d dimensions, want %d", ErrInvalidEmbedding, items[i].ID, len(e), dims)
		}
		norm := vector.L2Norm(e)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return nil, fmt.Errorf("%w: %s is degenerate", ErrInvalidEmbedding, items[i].ID)
		}
		delta.Put(items[i].ID, e.Clone())
	}
	return delta, nil
}

// score runs task, retrying failures up to s.retries times. A cancelled ctx is not retried.
func (s *Service) score(ctx context.Context, taskID string, task models.Task) (models.PairSet, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.retries+1; attempt++ {
		result, err := s.scorer.Score(ctx, task)
		if err == nil {
			return result, attempt, nil
		}
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		lastErr = err
		s.logger.Warn("Scoring task failed",
			zap.String("task", taskID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, s.retries + 1, fmt.Errorf("%w: %w", ErrScoringFailed, lastErr)
}

// orderedPairs returns the result's pairs sorted by key so link order is deterministic.
func orderedPairs(result models.PairSet) []models.Pair {
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.Pair, len(keys))
	for i, k := range keys {
		out[i] = result[k]
	}
	return out
}

// newLinks returns links for pairs at or above the threshold whose unordered pair has no link yet.
func (s *Service) newLinks(pairs []models.Pair) []models.Link {
	existing := make(map[string]struct{})
	for _, l := range s.store.Snapshot().Links {
		existing[models.UnorderedKey(l.Source, l.Target)] = struct{}{}
	}
	var links []models.Link
	for _, p := range pairs {
		if p.Similarity < s.threshold {
			continue
		}
		key := models.UnorderedKey(p.ID1, p.ID2)
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}
		links = append(links, s.link(p))
	}
	return links
}

func (s *Service) link(p models.Pair) models.Link {
	return models.Link{Source: p.ID1, Target: p.ID2, Weight: p.Similarity, Color: s.colorFor(p.Similarity)}
}

// colorFor blends from the low to the high colour in Lab space as weight goes from the threshold to 1.
func (s *Service) colorFor(weight float64) string {
	t := 1.0
	if s.threshold < 1 {
		t = (weight - s.threshold) / (1 - s.threshold)
	}
	t = math.Max(0, math.Min(1, t))
	return s.low.BlendLab(s.high, t).Clamped().Hex()
}

func (s *Service) remember(p models.Pair) {
	key := models.UnorderedKey(p.ID1, p.ID2)
	if _, ok := s.scores[key]; !ok {
		s.scoreOrder = append(s.scoreOrder, key)
	}
	s.scores[key] = p
}

func (s *Service) forget(ids map[string]struct{}) {
	order := s.scoreOrder[:0]
	for _, key := range s.scoreOrder {
		p := s.scores[key]
		_, a := ids[p.ID1]
		_, b := ids[p.ID2]
		if a || b {
			delete(s.scores, key)
			continue
		}
		order = append(order, key)
	}
	s.scoreOrder = order
}

// persist runs fn against the storage, if any. Failures are logged; the in-memory state stays authoritative.
func (s *Service) persist(ctx context.Context, op string, fn func(st storage.Storage) error) {
	if s.storage == nil {
		return
	}
	done := metrics.TimeOp(s.recorder, op)
	err := fn(s.storage)
	done(err == nil)
	if err != nil {
		s.logger.Warn("Failed to persist", zap.String("op", op), zap.Error(err))
	}
}
