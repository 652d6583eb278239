package emit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusEmitter implements Emitter by translating events into
// Prometheus metrics, grounded on the teacher's graph.PrometheusMetrics
// (node latency histogram, retry counter) and extended with the
// dropped-event counter SPEC_FULL.md's aggregate logging calls for
// (§4.15: "one ERROR per N dropped, not one per event").
//
// Metrics (namespace "landscape"):
//   - node_duration_ms (histogram, labels run_id/node_id/status): node
//     execution duration, read from Meta["duration_ms"].
//   - retries_total (counter, labels run_id/node_id): incremented when
//     Msg == "retry".
//   - dropped_events_total (counter, labels run_id/reason): incremented
//     when Msg == "dropped". FanoutEmitter does not emit such events; it
//     reports its own drops through its logger.
type PrometheusEmitter struct {
	nodeDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	dropped      *prometheus.CounterVec
}

// NewPrometheusEmitter registers its metrics with registry. A nil registry
// falls back to prometheus.DefaultRegisterer.
func NewPrometheusEmitter(registry prometheus.Registerer) *PrometheusEmitter {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusEmitter{
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "landscape",
			Name:      "node_duration_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"run_id", "node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "landscape",
			Name:      "retries_total",
			Help:      "Cumulative count of node retry attempts",
		}, []string{"run_id", "node_id"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "landscape",
			Name:      "dropped_events_total",
			Help:      "Telemetry events dropped because an exporter was unavailable",
		}, []string{"run_id", "reason"}),
	}
}

func (p *PrometheusEmitter) Emit(event Event) {
	switch event.Msg {
	case "node_end":
		status, _ := event.Meta["status"].(string)
		if status == "" {
			status = "success"
		}
		if d, ok := durationMillis(event.Meta["duration_ms"]); ok {
			p.nodeDuration.WithLabelValues(event.RunID, event.NodeID, status).Observe(d)
		}
	case "retry":
		p.retries.WithLabelValues(event.RunID, event.NodeID).Inc()
	case "dropped":
		reason, _ := event.Meta["reason"].(string)
		p.dropped.WithLabelValues(event.RunID, reason).Inc()
	}
}

func durationMillis(v interface{}) (float64, bool) {
	switch d := v.(type) {
	case time.Duration:
		return float64(d.Milliseconds()), true
	case float64:
		return d, true
	case int:
		return float64(d), true
	case int64:
		return float64(d), true
	default:
		return 0, false
	}
}

func (p *PrometheusEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		p.Emit(event)
	}
	return nil
}

// Flush is a no-op: Prometheus metrics are scraped, not pushed, so there
// is nothing to drain.
func (p *PrometheusEmitter) Flush(context.Context) error { return nil }

var _ Emitter = (*PrometheusEmitter)(nil)
