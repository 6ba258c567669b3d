package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	loginCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activityadmin",
		Subsystem: "identity",
		Name:      "logins_total",
		Help:      "Number of login attempts, labeled by provider and outcome.",
	}, []string{"provider", "outcome"})

	activityWriteCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activityadmin",
		Subsystem: "activities",
		Name:      "writes_total",
		Help:      "Number of activity create/update writes committed to Postgres.",
	}, []string{"operation"})

	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activityadmin",
		Subsystem: "activities",
		Name:      "last_write_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity write.",
	})
)

func init() {
	prometheus.MustRegister(loginCounter, activityWriteCounter, activityPersistGauge)
}

// RecordLogin counts a login attempt.
func RecordLogin(provider string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	loginCounter.WithLabelValues(provider, outcome).Inc()
}

// RecordActivityWrite updates the write counter and watermark gauge.
func RecordActivityWrite(operation string, ts time.Time) {
	activityWriteCounter.WithLabelValues(operation).Inc()
	if !ts.IsZero() {
		activityPersistGauge.Set(float64(ts.Unix()))
	}
}
