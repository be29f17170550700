package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shule_presence_writes_total",
		Help: "Successful presence writes by trigger (start, interval, activity, signout).",
	}, []string{"trigger"})

	writeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shule_presence_write_failures_total",
		Help: "Presence writes that failed. Failures are logged and dropped.",
	})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shule_push_publish_failures_total",
		Help: "Push events dropped because the channel was unavailable.",
	})
)
