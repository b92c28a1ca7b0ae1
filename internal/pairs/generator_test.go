package pairs

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/vector"
)

func set(entries ...interface{}) *models.EmbeddingSet {
	s := models.NewEmbeddingSet()
	for i := 0; i < len(entries); i += 2 {
		s.Put(entries[i].(string), models.Embedding(entries[i+1].([]float32)))
	}
	return s
}

func TestCollect_Scenario(t *testing.T) {
	current := set("A", []float32{1, 0}, "B", []float32{0, 1})
	delta := set("C", []float32{1, 0})

	got, err := Collect(New(current, delta))
	if err != nil {
		t.Fatal(err)
	}
	want := models.PairSet{
		"C+A": {ID1: "C", ID2: "A", Similarity: 1.0},
		"C+B": {ID1: "C", ID2: "B", Similarity: 0.5},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestGenerator_Order(t *testing.T) {
	current := set("A", []float32{1, 0}, "B", []float32{0, 1})
	delta := set("D", []float32{1, 1}, "C", []float32{1, 0})

	var keys []string
	g := New(current, delta)
	for g.Next() {
		k, _ := g.Record()
		keys = append(keys, k)
	}
	if g.Err() != nil {
		t.Fatal(g.Err())
	}
	if want := []string{"D+A", "D+B", "C+A", "C+B"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("order = %v, want %v", keys, want)
	}
	if g.Next() {
		t.Error("exhausted generator should stay exhausted")
	}
}

func TestGenerator_SelfExclusionAndCompleteness(t *testing.T) {
	tests := []struct {
		name    string
		current *models.EmbeddingSet
		delta   *models.EmbeddingSet
		want    int
	}{
		{"disjoint", set("A", []float32{1, 0}, "B", []float32{0, 1}, "C", []float32{1, 1}), set("X", []float32{1, 2}, "Y", []float32{2, 1}), 6},
		{"overlap", set("A", []float32{1, 0}, "B", []float32{0, 1}), set("A", []float32{1, 0}, "Z", []float32{3, 1}), 3},
		{"empty current", models.NewEmbeddingSet(), set("A", []float32{1, 0}), 0},
		{"empty delta", set("A", []float32{1, 0}), models.NewEmbeddingSet(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Collect(New(tt.current, tt.delta))
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
			if n := Count(tt.current, tt.delta, false); n != tt.want {
				t.Errorf("Count = %d, want %d", n, tt.want)
			}
			for k, p := range got {
				if p.ID1 == p.ID2 {
					t.Errorf("self pair emitted: %s", k)
				}
				if k != models.PairKey(p.ID1, p.ID2) {
					t.Errorf("key %s does not match pair %+v", k, p)
				}
				if p.Similarity < 0 || p.Similarity > 1 {
					t.Errorf("similarity out of range: %v", p.Similarity)
				}
			}
		})
	}
}

func TestGenerator_NewPairs(t *testing.T) {
	current := set("A", []float32{1, 0})
	delta := set("B", []float32{0, 1}, "C", []float32{1, 0}, "A", []float32{1, 0})

	off, err := Collect(New(current, delta))
	if err != nil {
		t.Fatal(err)
	}
	if len(off) != 2 {
		t.Errorf("default should only score against current, got %v", off)
	}

	on, err := Collect(New(current, delta, WithNewPairs(true)))
	if err != nil {
		t.Fatal(err)
	}
	// B+A, C+A, C+B; A is in current so A+B and A+C are covered by B+A and C+A.
	if len(on) != 3 {
		t.Fatalf("expected 3 pairs, got %v", on)
	}
	p, ok := on["C+B"]
	if !ok {
		t.Fatalf("missing C+B in %v", on)
	}
	if math.Abs(p.Similarity-0.5) > 1e-9 {
		t.Errorf("C+B = %v", p.Similarity)
	}
	if n := Count(current, delta, true); n != 3 {
		t.Errorf("Count = %d", n)
	}
}

func TestGenerator_ErrorStopsIteration(t *testing.T) {
	current := set("A", []float32{1, 0}, "B", []float32{0, 0})
	delta := set("C", []float32{1, 0})

	g := New(current, delta)
	if !g.Next() {
		t.Fatal("first pair should score")
	}
	if g.Next() {
		t.Fatal("degenerate vector should stop iteration")
	}
	if !errors.Is(g.Err(), vector.ErrDegenerateVector) {
		t.Errorf("Err = %v", g.Err())
	}

	res, err := Collect(New(current, set("C", []float32{1, 0, 0})))
	if !errors.Is(err, vector.ErrDimensionMismatch) || res != nil {
		t.Errorf("expected mismatch with no partial result, got %v %v", res, err)
	}
}
