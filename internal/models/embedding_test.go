package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestEmbeddingSet_Order(t *testing.T) {
	s := NewEmbeddingSet()
	s.Put("b", Embedding{1})
	s.Put("a", Embedding{2})
	s.Put("c", Embedding{3})
	s.Put("b", Embedding{4})

	if got := s.Keys(); !reflect.DeepEqual(got, []string{"b", "a", "c"}) {
		t.Errorf("Keys = %v", got)
	}
	if e, _ := s.Get("b"); e[0] != 4 {
		t.Errorf("re-put should replace the vector, got %v", e)
	}
	s.Remove("a")
	if s.Len() != 2 || s.Has("a") {
		t.Errorf("Remove failed: %v", s.Keys())
	}
}

func TestEmbeddingSet_ZeroValue(t *testing.T) {
	var s EmbeddingSet
	if s.Len() != 0 || s.Keys() != nil || s.Dimensions() != 0 {
		t.Error("zero value should be empty")
	}
	s.Put("x", Embedding{1, 2})
	if s.Dimensions() != 2 {
		t.Errorf("Dimensions = %d", s.Dimensions())
	}
}

func TestEmbeddingSet_CloneIsDeep(t *testing.T) {
	s := NewEmbeddingSet()
	s.Put("a", Embedding{1, 2})
	c := s.Clone()
	e, _ := s.Get("a")
	e[0] = 99
	s.Put("b", Embedding{3})

	ce, _ := c.Get("a")
	if ce[0] != 1 {
		t.Errorf("clone shares vector memory: %v", ce)
	}
	if c.Has("b") {
		t.Error("clone observed a later put")
	}
}

func TestEmbeddingSet_JSONKeepsDocumentOrder(t *testing.T) {
	var s EmbeddingSet
	if err := json.Unmarshal([]byte(`{"z":[1,0],"a":[0,1],"m":[0.5,0.5]}`), &s); err != nil {
		t.Fatal(err)
	}
	if got := s.Keys(); !reflect.DeepEqual(got, []string{"z", "a", "m"}) {
		t.Errorf("Keys = %v", got)
	}
	if e, _ := s.Get("m"); e[1] != 0.5 {
		t.Errorf("m = %v", e)
	}

	if err := json.Unmarshal([]byte(`{"a":"nope"}`), &s); err == nil {
		t.Error("expected error for non-array value")
	}
	if err := json.Unmarshal([]byte(`{"a":[1,"x"]}`), &s); err == nil {
		t.Error("expected error for non-number component")
	}

	empty, err := json.Marshal(NewEmbeddingSet())
	if err != nil {
		t.Fatal(err)
	}
	if string(empty) != "{}" {
		t.Errorf("empty set encodes as %s", empty)
	}
}

func TestTask_JSON(t *testing.T) {
	var task Task
	raw := `{"embeddings":{"A":[1,0],"B":[0,1]},"newEmbeddings":{"C":[1,0]}}`
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		t.Fatal(err)
	}
	if got := task.Embeddings.Keys(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("embeddings keys = %v", got)
	}
	if task.NewEmbeddings.Len() != 1 {
		t.Errorf("newEmbeddings len = %d", task.NewEmbeddings.Len())
	}
}

func TestGraphData_Clone(t *testing.T) {
	g := GraphData{
		Nodes: []Node{{ID: "a", Position: &Position{X: 1}}},
		Links: []Link{{Source: "a", Target: "b", Weight: 0.9}},
	}
	c := g.Clone()
	g.Nodes[0].Position.X = 5
	g.Links[0].Weight = 0
	if c.Nodes[0].Position.X != 1 || c.Links[0].Weight != 0.9 {
		t.Errorf("clone not independent: %+v", c)
	}

	empty := GraphData{}.Clone()
	if empty.Nodes == nil || empty.Links == nil {
		t.Error("clone of empty graph should have non-nil slices")
	}
}

func TestPairKeys(t *testing.T) {
	if PairKey("C", "A") != "C+A" {
		t.Errorf("PairKey = %s", PairKey("C", "A"))
	}
	if UnorderedKey("x", "y") != UnorderedKey("y", "x") {
		t.Error("UnorderedKey should ignore order")
	}
}
