package attestation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Polls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coordinator",
	Subsystem: "attestation",
	Name:      "polls_total",
}, []string{"result"})

func ObservePoll(result string) {
	Polls.WithLabelValues(result).Inc()
}
