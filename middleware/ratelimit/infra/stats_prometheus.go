package infra

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"admission-gateway/middleware/ratelimit/domain"
)

// PrometheusStats exports admission decisions as Prometheus metrics.
//
// Labels are route and outcome only; identifiers are never used as labels.
type PrometheusStats struct {
	Decisions *prometheus.CounterVec
	Tracked   prometheus.GaugeFunc
}

// NewPrometheusStats registers the admission metrics on reg. size, when not
// nil, backs a gauge with the number of identifiers the window store tracks.
func NewPrometheusStats(reg prometheus.Registerer, namespace string, size func() int) (*PrometheusStats, error) {
	p := &PrometheusStats{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_decisions_total",
				Help:      "Total number of rate limit decisions by route and outcome",
			},
			[]string{"route", "outcome"},
		),
	}
	if err := reg.Register(p.Decisions); err != nil {
		return nil, err
	}

	if size != nil {
		p.Tracked = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "admission_tracked_identifiers",
				Help:      "Number of identifiers currently held by the window store",
			},
			func() float64 { return float64(size()) },
		)
		if err := reg.Register(p.Tracked); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	outcome := "denied"
	if ev.Allowed {
		outcome = "allowed"
	}
	route := ev.Route
	if route == "" {
		route = "default"
	}
	p.Decisions.WithLabelValues(route, outcome).Inc()
	return nil
}
