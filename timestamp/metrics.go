package timestamp

import "github.com/prometheus/client_golang/prometheus"

var epochGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "cavalia",
		Subsystem: "timestamp",
		Name:      "epoch",
		Help:      "Current global epoch.",
	})

func init() {
	prometheus.MustRegister(epochGauge)
}
