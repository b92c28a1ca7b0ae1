package models

// Pair is a similarity result between a newly arrived embedding (ID1) and an existing one (ID2).
// Similarity is cosine similarity remapped from [-1,1] to [0,1].
type Pair struct {
	ID1        string  `json:"id1"`
	ID2        string  `json:"id2"`
	Similarity float64 `json:"similarity"`
}

// PairSet is a scoring result keyed by PairKey.
type PairSet map[string]Pair

// PairKey returns the result key for a pair: new id first, existing id second.
func PairKey(newID, currentID string) string {
	return newID + "+" + currentID
}

// UnorderedKey identifies the pair {a, b} regardless of which side was new.
func UnorderedKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

// Task is the message handed to a similarity worker: the already scored cache
// and the delta that still needs scoring against it.
type Task struct {
	Embeddings    *EmbeddingSet `json:"embeddings"`
	NewEmbeddings *EmbeddingSet `json:"newEmbeddings"`
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	return Task{
		Embeddings:    t.Embeddings.Clone(),
		NewEmbeddings: t.NewEmbeddings.Clone(),
	}
}
