package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/ingest"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/server"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/storage"
)

func TestParseOutputFormat(t *testing.T) {
	for _, s := range []string{"text", "json"} {
		if _, err := ParseOutputFormat(s); err != nil {
			t.Errorf("ParseOutputFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

func TestWritePairs_JSON(t *testing.T) {
	pairs := models.PairSet{
		"C+A": {ID1: "C", ID2: "A", Similarity: 1},
		"C+B": {ID1: "C", ID2: "B", Similarity: 0.5},
	}
	var buf bytes.Buffer
	if err := WritePairs(&buf, pairs, OutputJSON); err != nil {
		t.Fatalf("WritePairs(json): %v", err)
	}
	var decoded models.PairSet
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded["C+B"].Similarity != 0.5 || decoded["C+A"].ID2 != "A" {
		t.Errorf("decoded: got %+v", decoded)
	}

	buf.Reset()
	if err := WritePairs(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "{}" {
		t.Errorf("empty result should encode as {}, got %q", buf.String())
	}
}

func TestWritePairs_Text(t *testing.T) {
	pairs := models.PairSet{
		"C+B": {ID1: "C", ID2: "B", Similarity: 0.5},
		"C+A": {ID1: "C", ID2: "A", Similarity: 1},
	}
	var buf bytes.Buffer
	if err := WritePairs(&buf, pairs, OutputText); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "C ~ A") || !strings.Contains(lines[0], "1.0000") {
		t.Errorf("first line: got %q", lines[0])
	}
	if lines[2] != "2 pair(s)" {
		t.Errorf("footer: got %q", lines[2])
	}
}

func TestWriteSummary(t *testing.T) {
	s := &ingest.Summary{TaskID: "t1", Received: 2, NodesAdded: 2, Pairs: 3, LinksAdded: 1, Duration: time.Millisecond}
	var buf bytes.Buffer
	if err := WriteSummary(&buf, "drop/a.json", s, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "drop/a.json: 2 received, 2 node(s) added, 3 pair(s) scored, 1 link(s) added") {
		t.Errorf("text: got %q", buf.String())
	}

	buf.Reset()
	if err := WriteSummary(&buf, "drop/a.json", s, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["source"] != "drop/a.json" || decoded["task_id"] != "t1" {
		t.Errorf("json: got %v", decoded)
	}
}

func TestWriteStatus(t *testing.T) {
	disk := int64(4096)
	status := &server.Status{
		Graph:          ingest.Stats{Nodes: 3, Links: 1, Embeddings: 3, Dimensions: 2, Threshold: 0.8, LinkLow: "#000000", LinkHigh: "#ffffff"},
		Stored:         &storage.Stats{Nodes: 3, Embeddings: 3},
		DiskUsageBytes: &disk,
		Config:         &server.StatusConfig{Backend: "bolt", Workers: 2, WatchDirectories: []string{"/tmp/drop"}},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, status, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"nodes:              3", "threshold:          0.800", "# stored", "disk_usage_bytes:   4096", "backend:            bolt", "watch:              /tmp/drop"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteStatus(&buf, status, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded server.Status
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Graph.Nodes != 3 || decoded.Config.Backend != "bolt" {
		t.Errorf("json: got %+v", decoded)
	}
}
