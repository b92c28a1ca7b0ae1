// Package cli provides output formatting for the FeedSpace CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/ingest"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/server"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WritePairs writes a scoring result. JSON output is the result message itself,
// keyed "<newId>+<currentId>". Text output lists one pair per line, sorted by key.
func WritePairs(w io.Writer, pairs models.PairSet, format OutputFormat) error {
	if format == OutputJSON {
		if pairs == nil {
			pairs = models.PairSet{}
		}
		return writeJSON(w, pairs)
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := pairs[k]
		fmt.Fprintf(w, "%-24s %.4f\n", p.ID1+" ~ "+p.ID2, p.Similarity)
	}
	fmt.Fprintf(w, "%d pair(s)\n", len(pairs))
	return nil
}

// WriteSummary writes the outcome of ingesting source.
func WriteSummary(w io.Writer, source string, s *ingest.Summary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, struct {
			Source string `json:"source"`
			*ingest.Summary
		}{source, s})
	}
	fmt.Fprintf(w, "%s: %d received, %d node(s) added, %d pair(s) scored, %d link(s) added in %s\n",
		source, s.Received, s.NodesAdded, s.Pairs, s.LinksAdded, s.Duration)
	return nil
}

// WriteStatus writes the server or local status.
func WriteStatus(w io.Writer, status *server.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	g := status.Graph
	fmt.Fprintf(w, "nodes:              %d\n", g.Nodes)
	fmt.Fprintf(w, "links:              %d\n", g.Links)
	fmt.Fprintf(w, "embeddings:         %d   # cached vectors\n", g.Embeddings)
	if g.Dimensions > 0 {
		fmt.Fprintf(w, "dimensions:         %d\n", g.Dimensions)
	}
	fmt.Fprintf(w, "scores:             %d   # remembered pair scores\n", g.Scores)
	fmt.Fprintf(w, "threshold:          %.3f\n", g.Threshold)
	fmt.Fprintf(w, "link_colors:        %s .. %s\n", g.LinkLow, g.LinkHigh)
	if status.Stored != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# stored")
		fmt.Fprintf(w, "embeddings:         %d\n", status.Stored.Embeddings)
		fmt.Fprintf(w, "nodes:              %d\n", status.Stored.Nodes)
		fmt.Fprintf(w, "links:              %d\n", status.Stored.Links)
		fmt.Fprintf(w, "pairs:              %d\n", status.Stored.Pairs)
		fmt.Fprintf(w, "sources:            %d\n", status.Stored.Sources)
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # storage + indices on disk\n", *status.DiskUsageBytes)
	}
	if c := status.Config; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "backend:            %s\n", c.Backend)
		if c.DatabasePath != "" {
			fmt.Fprintf(w, "database_path:      %s\n", c.DatabasePath)
		}
		if c.KeywordIndexPath != "" {
			fmt.Fprintf(w, "keyword_index_path: %s\n", c.KeywordIndexPath)
		}
		fmt.Fprintf(w, "workers:            %d\n", c.Workers)
		fmt.Fprintf(w, "include_new_pairs:  %t\n", c.IncludeNewPairs)
		for _, d := range c.WatchDirectories {
			fmt.Fprintf(w, "watch:              %s\n", d)
		}
	}
	return nil
}
