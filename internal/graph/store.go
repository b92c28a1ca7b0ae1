// Package graph holds the authoritative node and link collections and republishes
// a full snapshot to every subscriber after each mutation.
package graph

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/metrics"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
)

var (
	// ErrInvalidNode is returned for a node with an empty id.
	ErrInvalidNode = errors.New("invalid node")
	// ErrInvalidLink is returned for a link with an empty endpoint or a non-finite weight.
	ErrInvalidLink = errors.New("invalid link")
	// ErrDuplicateNode is returned by a store created WithUniqueIDs when an id is already taken.
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrUnknownEndpoint is returned by a store created WithStrictLinks when a link endpoint is missing,
	// and by UpdateNodes for an id that is not in the graph.
	ErrUnknownEndpoint = errors.New("link endpoint not in graph")
)

// Publisher receives a snapshot after every mutation. Publish is called synchronously,
// in mutation order, and the snapshot belongs to the publisher. Publish must not call back
// into the Store.
type Publisher interface {
	Publish(data models.GraphData)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(data models.GraphData)

// Publish calls f(data).
func (f PublisherFunc) Publish(data models.GraphData) { f(data) }

// Store is the graph data store. All methods are safe for concurrent use;
// mutations are serialised and applied in call order.
type Store struct {
	mu          sync.Mutex
	data        models.GraphData
	publishers  []Publisher
	uniqueIDs   bool
	strictLinks bool
	logger      *zap.Logger
	recorder    metrics.Recorder
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher subscribes p from construction on.
func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publishers = append(s.publishers, p)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Store) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithUniqueIDs rejects node batches that repeat an id or reuse one already in the store.
func WithUniqueIDs(enabled bool) Option {
	return func(s *Store) {
		s.uniqueIDs = enabled
	}
}

// WithStrictLinks rejects links whose endpoints are not nodes of the store.
func WithStrictLinks(enabled bool) Option {
	return func(s *Store) {
		s.strictLinks = enabled
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		data:     models.GraphData{Nodes: []models.Node{}, Links: []models.Link{}},
		logger:   zap.NewNop(),
		recorder: metrics.NewNoopRecorder(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe adds p to the publishers. It does not receive the current snapshot.
func (s *Store) Subscribe(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = append(s.publishers, p)
}

// Snapshot returns a deep copy of the current graph.
func (s *Store) Snapshot() models.GraphData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

// Counts returns the number of nodes and links.
func (s *Store) Counts() (nodes, links int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.Nodes), len(s.data.Links)
}

// HasNode reports whether a node with id is present.
func (s *Store) HasNode(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.data.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// AddNodes appends nodes in input order and republishes.
func (s *Store) AddNodes(nodes []models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateNodes(nodes); err != nil {
		return err
	}
	s.appendNodes(nodes)
	s.publish("add_nodes")
	return nil
}

// AddLinks appends links in input order and republishes.
func (s *Store) AddLinks(links []models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateLinks(links, nil); err != nil {
		return err
	}
	s.appendLinks(links)
	s.publish("add_links")
	return nil
}

// AddBoth adds data's nodes (publishing if there are any), then its links (publishing if there are any).
// Links may reference nodes from the same call. Nothing is applied unless both halves are valid.
func (s *Store) AddBoth(data models.GraphData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateNodes(data.Nodes); err != nil {
		return err
	}
	if err := s.validateLinks(data.Links, data.Nodes); err != nil {
		return err
	}
	if len(data.Nodes) > 0 {
		s.appendNodes(data.Nodes)
		s.publish("add_nodes")
	}
	if len(data.Links) > 0 {
		s.appendLinks(data.Links)
		s.publish("add_links")
	}
	return nil
}

// RemoveNodesByID drops every node whose id is in ids and every link touching one,
// then publishes exactly once.
func (s *Store) RemoveNodesByID(ids map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := s.data.Nodes[:0:0]
	for _, n := range s.data.Nodes {
		if _, ok := ids[n.ID]; !ok {
			nodes = append(nodes, n)
		}
	}
	links := s.data.Links[:0:0]
	for _, l := range s.data.Links {
		if !l.Touches(ids) {
			links = append(links, l)
		}
	}
	s.logger.Debug("Removed nodes",
		zap.Int("nodes", len(s.data.Nodes)-len(nodes)),
		zap.Int("links", len(s.data.Links)-len(links)))
	s.data.Nodes, s.data.Links = nodes, links
	s.publish("remove_nodes")
}

// Clear empties both collections and republishes.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = models.GraphData{Nodes: []models.Node{}, Links: []models.Link{}}
	s.publish("clear")
}

// RedrawLinks replaces the link collection with a copy of links through the add path.
// An empty slice is a no-op and publishes nothing.
func (s *Store) RedrawLinks(links []models.Link) error {
	if len(links) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateLinks(links, nil); err != nil {
		return err
	}
	s.data.Links = []models.Link{}
	s.appendLinks(models.CloneLinks(links))
	s.publish("redraw_links")
	return nil
}

// ClearLinks drops every link and keeps the nodes. It publishes only if there were links.
func (s *Store) ClearLinks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data.Links) == 0 {
		return
	}
	s.data.Links = []models.Link{}
	s.publish("clear_links")
}

// UpdateNodes replaces the attributes of nodes already in the graph, matched by id, and publishes once.
// A node without a position keeps its current one. Nothing is applied if any id is missing.
func (s *Store) UpdateNodes(nodes []models.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	index := make(map[string][]int, len(s.data.Nodes))
	for i, n := range s.data.Nodes {
		index[n.ID] = append(index[n.ID], i)
	}
	for i, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has an empty id", ErrInvalidNode, i)
		}
		if _, ok := index[n.ID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEndpoint, n.ID)
		}
	}
	for _, n := range nodes {
		for _, i := range index[n.ID] {
			updated := n.Clone()
			if updated.Position == nil {
				updated.Position = s.data.Nodes[i].Position
			}
			s.data.Nodes[i] = updated
		}
	}
	s.publish("update_nodes")
	return nil
}

func (s *Store) appendNodes(nodes []models.Node) {
	for _, n := range nodes {
		s.data.Nodes = append(s.data.Nodes, n.Clone())
	}
}

func (s *Store) appendLinks(links []models.Link) {
	s.data.Links = append(s.data.Links, links...)
}

func (s *Store) validateNodes(nodes []models.Node) error {
	var seen map[string]struct{}
	if s.uniqueIDs {
		seen = make(map[string]struct{}, len(s.data.Nodes)+len(nodes))
		for _, n := range s.data.Nodes {
			seen[n.ID] = struct{}{}
		}
	}
	for i, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has an empty id", ErrInvalidNode, i)
		}
		if seen != nil {
			if _, dup := seen[n.ID]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
			}
			seen[n.ID] = struct{}{}
		}
	}
	return nil
}

// validateLinks checks links against the store's nodes plus pending, the nodes of the same call.
func (s *Store) validateLinks(links []models.Link, pending []models.Node) error {
	var known map[string]struct{}
	if s.strictLinks {
		known = make(map[string]struct{}, len(s.data.Nodes)+len(pending))
		for _, n := range s.data.Nodes {
			known[n.ID] = struct{}{}
		}
		for _, n := range pending {
			known[n.ID] = struct{}{}
		}
	}
	for i, l := range links {
		if l.Source == "" || l.Target == "" {
			return fmt.Errorf("%w: link %d has an empty endpoint", ErrInvalidLink, i)
		}
		if math.IsNaN(l.Weight) || math.IsInf(l.Weight, 0) {
			return fmt.Errorf("%w: link %s-%s has a non-finite weight", ErrInvalidLink, l.Source, l.Target)
		}
		if known != nil {
			for _, id := range []string{l.Source, l.Target} {
				if _, ok := known[id]; !ok {
					return fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
				}
			}
		}
	}
	return nil
}

func (s *Store) publish(op string) {
	s.recorder.IncPublish(op, len(s.data.Nodes), len(s.data.Links))
	for _, p := range s.publishers {
		p.Publish(s.data.Clone())
	}
}
