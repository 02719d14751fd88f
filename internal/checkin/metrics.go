package checkin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// attemptsTotal counts attempt outcomes, labeled "present" or the reject reason.
var attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkin_attempts_total",
	Help: "Check-in attempts by outcome.",
}, []string{"outcome"})
