package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shule_session_resolutions_total",
	Help: "Credential resolutions by outcome (ok, failed, stale).",
}, []string{"outcome"})
