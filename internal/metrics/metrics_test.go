package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPrometheusRecorder_Handler(t *testing.T) {
	p := NewPrometheusRecorder()
	p.ObserveTask(10*time.Millisecond, 3, nil)
	p.ObserveTask(time.Millisecond, 0, errors.New("boom"))
	p.IncPublish("add_nodes", 2, 1)
	done := TimeOp(p, "save_graph")
	done(true)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`feedspace_scoring_tasks_total{success="true"} 1`,
		`feedspace_scoring_tasks_total{success="false"} 1`,
		`feedspace_scored_pairs_total 3`,
		`feedspace_graph_publishes_total{op="add_nodes"} 1`,
		`feedspace_graph_nodes 2`,
		`feedspace_storage_ops_total{op="save_graph",success="true"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNoopRecorder(t *testing.T) {
	r := NewNoopRecorder()
	r.ObserveTask(time.Second, 1, nil)
	r.IncPublish("clear", 0, 0)
	TimeOp(r, "x")(false)
}
