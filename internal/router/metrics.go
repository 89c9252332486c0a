package router

import "github.com/prometheus/client_golang/prometheus"

// metricSet is the Prometheus surface for per-edge counters named in spec
// §4.2, grounded on the teacher's internal/triggers/metrics.go pattern of a
// small struct of pre-registered vectors passed around by reference.
type metricSet struct {
	offered         *prometheus.CounterVec
	forwarded       *prometheus.CounterVec
	droppedThrottle *prometheus.CounterVec
	droppedQueue    *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
}

func newMetricSet(reg prometheus.Registerer) *metricSet {
	m := &metricSet{
		offered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwatch_router_frames_offered_total",
			Help: "Frames offered to a router edge before throttle/backpressure.",
		}, []string{"edge"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwatch_router_frames_forwarded_total",
			Help: "Frames successfully forwarded on a router edge.",
		}, []string{"edge"}),
		droppedThrottle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwatch_router_frames_dropped_throttle_total",
			Help: "Frames dropped by an edge's FPS throttle.",
		}, []string{"edge"}),
		droppedQueue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwatch_router_frames_dropped_queue_total",
			Help: "Frames dropped due to a full edge queue.",
		}, []string{"edge"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "overwatch_router_edge_queue_depth",
			Help: "Current queue depth of a router edge.",
		}, []string{"edge"}),
	}
	if reg != nil {
		reg.MustRegister(m.offered, m.forwarded, m.droppedThrottle, m.droppedQueue, m.queueDepth)
	}
	return m
}
