package cluster

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 记录 worker 进程池的生命周期指标。
type Metrics struct {
	registry *prometheus.Registry

	running         prometheus.Gauge
	spawns          prometheus.Counter
	forceKills      prometheus.Counter
	unexpectedExits prometheus.Counter
	stopDuration    prometheus.Histogram
}

// NewMetrics 在给定 registry 上注册指标，registry 为空时新建一个。
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reverse_proxy",
			Subsystem: "workers",
			Name:      "running",
			Help:      "Number of worker processes currently alive.",
		}),
		spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reverse_proxy",
			Subsystem: "workers",
			Name:      "spawned_total",
			Help:      "Total number of worker processes spawned.",
		}),
		forceKills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reverse_proxy",
			Subsystem: "workers",
			Name:      "force_killed_total",
			Help:      "Workers killed after the stop grace period expired.",
		}),
		unexpectedExits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reverse_proxy",
			Subsystem: "workers",
			Name:      "unexpected_exits_total",
			Help:      "Workers that exited without being asked to stop.",
		}),
		stopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reverse_proxy",
			Subsystem: "workers",
			Name:      "stop_duration_seconds",
			Help:      "Time taken to stop the whole worker pool.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
	registry.MustRegister(m.running, m.spawns, m.forceKills, m.unexpectedExits, m.stopDuration)
	return m
}

// Registry 返回承载这些指标的 registry，供 /-/metrics 暴露。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
