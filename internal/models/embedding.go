// Package models defines core data structures for embeddings, similarity pairs, and graph data.
package models

import (
	"encoding/json"
	"fmt"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Embedding is a fixed-length vector describing an entity's semantic content.
type Embedding []float32

// Clone returns a copy of e that shares no memory with it.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// EmbeddingSet maps ids to embeddings and remembers insertion order.
// Re-putting an existing id replaces its vector but keeps its position.
// The zero value is an empty set ready to use. An EmbeddingSet is not safe for concurrent use.
type EmbeddingSet struct {
	m *linkedhashmap.Map
}

// NewEmbeddingSet returns an empty set.
func NewEmbeddingSet() *EmbeddingSet {
	return &EmbeddingSet{m: linkedhashmap.New()}
}

func (s *EmbeddingSet) table() *linkedhashmap.Map {
	if s.m == nil {
		s.m = linkedhashmap.New()
	}
	return s.m
}

// Put stores e under id.
func (s *EmbeddingSet) Put(id string, e Embedding) {
	s.table().Put(id, e)
}

// Get returns the embedding stored under id.
func (s *EmbeddingSet) Get(id string) (Embedding, bool) {
	if s == nil || s.m == nil {
		return nil, false
	}
	v, ok := s.m.Get(id)
	if !ok {
		return nil, false
	}
	return v.(Embedding), true
}

// Has reports whether id is present.
func (s *EmbeddingSet) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Remove deletes id from the set. Missing ids are ignored.
func (s *EmbeddingSet) Remove(id string) {
	if s == nil || s.m == nil {
		return
	}
	s.m.Remove(id)
}

// Len returns the number of embeddings.
func (s *EmbeddingSet) Len() int {
	if s == nil || s.m == nil {
		return 0
	}
	return s.m.Size()
}

// Keys returns the ids in insertion order.
func (s *EmbeddingSet) Keys() []string {
	if s == nil || s.m == nil {
		return nil
	}
	raw := s.m.Keys()
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = k.(string)
	}
	return keys
}

// Each calls fn for every entry in insertion order until fn returns false.
func (s *EmbeddingSet) Each(fn func(id string, e Embedding) bool) {
	if s == nil || s.m == nil {
		return
	}
	it := s.m.Iterator()
	for it.Next() {
		if !fn(it.Key().(string), it.Value().(Embedding)) {
			return
		}
	}
}

// Dimensions returns the length of the first embedding, or 0 for an empty set.
func (s *EmbeddingSet) Dimensions() int {
	dims := 0
	s.Each(func(_ string, e Embedding) bool {
		dims = len(e)
		return false
	})
	return dims
}

// Clone returns a deep copy: vectors are copied, order is preserved.
func (s *EmbeddingSet) Clone() *EmbeddingSet {
	out := NewEmbeddingSet()
	s.Each(func(id string, e Embedding) bool {
		out.Put(id, e.Clone())
		return true
	})
	return out
}

// Merge puts every entry of other into s, in other's order.
func (s *EmbeddingSet) Merge(other *EmbeddingSet) {
	other.Each(func(id string, e Embedding) bool {
		s.Put(id, e.Clone())
		return true
	})
}

// MarshalJSON encodes the set as a JSON object whose keys follow insertion order.
func (s *EmbeddingSet) MarshalJSON() ([]byte, error) {
	if s == nil || s.m == nil {
		return []byte("{}"), nil
	}
	return s.m.ToJSON()
}

// UnmarshalJSON decodes a JSON object of id -> array of numbers, keeping the document's key order.
func (s *EmbeddingSet) UnmarshalJSON(data []byte) error {
	raw := linkedhashmap.New()
	if err := raw.FromJSON(data); err != nil {
		return fmt.Errorf("decode embeddings: %w", err)
	}
	m := linkedhashmap.New()
	it := raw.Iterator()
	for it.Next() {
		id := it.Key().(string)
		values, ok := it.Value().([]interface{})
		if !ok {
			return fmt.Errorf("decode embeddings: %q is not an array of numbers", id)
		}
		e := make(Embedding, len(values))
		for i, v := range values {
			f, ok := v.(float64)
			if !ok {
				return fmt.Errorf("decode embeddings: %q[%d] is not a number", id, i)
			}
			e[i] = float32(f)
		}
		m.Put(id, e)
	}
	s.m = m
	return nil
}

var (
	_ json.Marshaler   = (*EmbeddingSet)(nil)
	_ json.Unmarshaler = (*EmbeddingSet)(nil)
)
