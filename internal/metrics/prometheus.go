package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder is a Recorder backed by its own Prometheus registry.
type PrometheusRecorder struct {
	registry     *prom.Registry
	taskTotal    *prom.CounterVec
	taskSeconds  prom.Histogram
	pairsTotal   prom.Counter
	publishTotal *prom.CounterVec
	graphNodes   prom.Gauge
	graphLinks   prom.Gauge
	storeTotal   *prom.CounterVec
	storeSeconds *prom.HistogramVec
}

// NewPrometheusRecorder creates and registers the collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	p := &PrometheusRecorder{
		registry: prom.NewRegistry(),
		taskTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "feedspace_scoring_tasks_total",
			Help: "Total number of scoring tasks",
		}, []string{"success"}),
		taskSeconds: prom.NewHistogram(prom.HistogramOpts{
			Name:    "feedspace_scoring_task_seconds",
			Help:    "Scoring task duration in seconds",
			Buckets: prom.DefBuckets,
		}),
		pairsTotal: prom.NewCounter(prom.CounterOpts{
			Name: "feedspace_scored_pairs_total",
			Help: "Total number of scored pairs",
		}),
		publishTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "feedspace_graph_publishes_total",
			Help: "Total number of graph snapshots published",
		}, []string{"op"}),
		graphNodes: prom.NewGauge(prom.GaugeOpts{
			Name: "feedspace_graph_nodes",
			Help: "Nodes in the last published snapshot",
		}),
		graphLinks: prom.NewGauge(prom.GaugeOpts{
			Name: "feedspace_graph_links",
			Help: "Links in the last published snapshot",
		}),
		storeTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "feedspace_storage_ops_total",
			Help: "Total number of storage operations",
		}, []string{"op", "success"}),
		storeSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "feedspace_storage_op_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
	}
	p.registry.MustRegister(p.taskTotal, p.taskSeconds, p.pairsTotal, p.publishTotal,
		p.graphNodes, p.graphLinks, p.storeTotal, p.storeSeconds)
	return p
}

func (p *PrometheusRecorder) ObserveTask(d time.Duration, pairs int, err error) {
	p.taskTotal.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	p.taskSeconds.Observe(d.Seconds())
	p.pairsTotal.Add(float64(pairs))
}

func (p *PrometheusRecorder) IncPublish(op string, nodes, links int) {
	p.publishTotal.WithLabelValues(op).Inc()
	p.graphNodes.Set(float64(nodes))
	p.graphLinks.Set(float64(links))
}

func (p *PrometheusRecorder) ObserveStoreOp(op string, success bool, seconds float64) {
	s := strconv.FormatBool(success)
	p.storeTotal.WithLabelValues(op, s).Inc()
	p.storeSeconds.WithLabelValues(op, s).Observe(seconds)
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
