// Package keyword indexes node titles and text for full-text search with Bleve.
package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
)

// SearchOptions optional parameters for a search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score of title matches. Values <= 1 search both fields as one.
	TitleBoost float64
	// Fuzzy enables typo tolerant matching.
	Fuzzy bool
	// Fuzziness is the maximum edit distance when Fuzzy is set (default 1).
	Fuzziness int
}

// Hit is a single search result.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type document struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// NodeIndex is a Bleve index over node title and text.
type NodeIndex struct {
	index bleve.Index
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase and tokenize, no stemming.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	im.AddDocumentMapping("node", docMapping)
	im.DefaultType = "node"
	im.DefaultMapping = docMapping
	return im
}

// NewNodeIndex creates or opens an index at path. An empty path keeps the index in memory.
func NewNodeIndex(path string) (*NodeIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &NodeIndex{index: index}, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &NodeIndex{index: index}, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &NodeIndex{index: index}, nil
}

// Index adds or replaces nodes in one batch. Nodes without title or text are skipped.
func (n *NodeIndex) Index(ctx context.Context, nodes ...models.Node) error {
	batch := n.index.NewBatch()
	for _, node := range nodes {
		if node.Title == "" && node.Text == "" {
			continue
		}
		if err := batch.Index(node.ID, document{Title: node.Title, Text: node.Text}); err != nil {
			return fmt.Errorf("index node %s: %w", node.ID, err)
		}
	}
	if batch.Size() == 0 {
		return nil
	}
	return n.index.Batch(batch)
}

// Delete removes nodes by id. Unknown ids are ignored.
func (n *NodeIndex) Delete(ctx context.Context, ids ...string) error {
	batch := n.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if batch.Size() == 0 {
		return nil
	}
	return n.index.Batch(batch)
}

// Search returns up to limit node ids matching query, best first.
func (n *NodeIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Hit, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	o := SearchOptions{TitleBoost: 1, Fuzziness: 1}
	if opts != nil {
		if opts.TitleBoost > 0 {
			o.TitleBoost = opts.TitleBoost
		}
		o.Fuzzy = opts.Fuzzy
		if opts.Fuzziness > 0 {
			o.Fuzziness = opts.Fuzziness
		}
	}
	if o.TitleBoost <= 1 {
		return n.run(ctx, buildQuery(query, "", o), limit, 1)
	}

	// Title and text are scored separately and summed so title matches rank higher.
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	titleHits, err := n.run(ctx, buildQuery(query, "title", o), reqSize, o.TitleBoost)
	if err != nil {
		return nil, err
	}
	textHits, err := n.run(ctx, buildQuery(query, "text", o), reqSize, 1)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(titleHits)+len(textHits))
	for _, h := range append(titleHits, textHits...) {
		scores[h.ID] += h.Score
	}
	merged := make([]Hit, 0, len(scores))
	for id, s := range scores {
		merged = append(merged, Hit{ID: id, Score: s})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (n *NodeIndex) run(ctx context.Context, q blevequery.Query, size int, boost float64) ([]Hit, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	results, err := n.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Hit, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = Hit{ID: hit.ID, Score: hit.Score * boost}
	}
	return out, nil
}

// buildQuery returns a match query, or a disjunction of fuzzy term queries when o.Fuzzy is set.
// An empty field searches all fields.
func buildQuery(query, field string, o SearchOptions) blevequery.Query {
	terms := strings.Fields(strings.ToLower(query))
	if !o.Fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(o.Fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the number of indexed nodes.
func (n *NodeIndex) DocCount() (uint64, error) {
	return n.index.DocCount()
}

// Close closes the Bleve index.
func (n *NodeIndex) Close() error {
	return n.index.Close()
}
