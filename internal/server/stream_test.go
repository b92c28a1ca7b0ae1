package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
)

func readEvent(t *testing.T, r *bufio.Reader) models.GraphData {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" && data != "" {
			break
		}
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	if event != "graph" {
		t.Fatalf("event: got %q", event)
	}
	var out models.GraphData
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestStream_PublishesSnapshots(t *testing.T) {
	f := newFixture(t)
	if err := f.store.AddNodes([]models.Node{{ID: "a"}}); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/graph/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: got %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	first := readEvent(t, r)
	if len(first.Nodes) != 1 || first.Nodes[0].ID != "a" {
		t.Fatalf("initial snapshot: got %+v", first)
	}

	if err := f.store.AddBoth(models.GraphData{
		Nodes: []models.Node{{ID: "b"}},
		Links: []models.Link{{Source: "a", Target: "b", Weight: 1}},
	}); err != nil {
		t.Fatal(err)
	}
	next := readEvent(t, r)
	if len(next.Nodes) != 2 || len(next.Links) != 1 {
		t.Errorf("published snapshot: got %d nodes, %d links", len(next.Nodes), len(next.Links))
	}
}

func TestBroadcaster_SlowClientKeepsLatest(t *testing.T) {
	b := NewBroadcaster(func() models.GraphData { return models.GraphData{} }, nil)
	ch, ok := b.subscribe()
	if !ok {
		t.Fatal("subscribe failed")
	}
	b.Publish(models.GraphData{Nodes: []models.Node{{ID: "old"}}})
	b.Publish(models.GraphData{Nodes: []models.Node{{ID: "new"}}})

	payload := <-ch
	if !strings.Contains(string(payload), `"new"`) {
		t.Errorf("expected latest snapshot, got %s", payload)
	}
	select {
	case extra := <-ch:
		t.Errorf("expected one buffered snapshot, got another: %s", extra)
	default:
	}
	if b.Clients() != 1 {
		t.Errorf("clients: got %d", b.Clients())
	}
	b.unsubscribe(ch)
	b.Close()
	if _, ok := b.subscribe(); ok {
		t.Error("subscribe after Close should fail")
	}
}
