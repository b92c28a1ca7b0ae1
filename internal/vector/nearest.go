package vector

import (
	"fmt"
	"sort"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
)

// Neighbor is one entry of a nearest-neighbour result.
type Neighbor struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Nearest returns the k entries of set most similar to query, best first, ties broken by id.
// Entries whose id is in exclude are skipped. Brute force over the whole set.
func Nearest(query []float32, set *models.EmbeddingSet, k int, exclude ...string) ([]Neighbor, error) {
	if k <= 0 || set.Len() == 0 {
		return nil, nil
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	scores := make([]Neighbor, 0, set.Len())
	var err error
	set.Each(func(id string, e models.Embedding) bool {
		if _, ok := skip[id]; ok {
			return true
		}
		s, serr := Similarity(query, e)
		if serr != nil {
			err = fmt.Errorf("score %s: %w", id, serr)
			return false
		}
		scores = append(scores, Neighbor{ID: id, Score: s})
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ID < scores[j].ID
	})
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}
