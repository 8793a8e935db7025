package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var StepUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coordinator",
	Subsystem: "transfers",
	Name:      "step_updates_total",
}, []string{"step"})

func ObserveStep(step string) {
	StepUpdates.WithLabelValues(step).Inc()
}
