package txn

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cavalia",
			Subsystem: "txn",
			Name:      "events",
			Help:      "Counter of transaction outcomes.",
		}, []string{"protocol", "type"})

	commitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cavalia",
			Subsystem: "txn",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of commit time, from validation to release.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 20),
		}, []string{"protocol"})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(commitDuration)
}
