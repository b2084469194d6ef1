package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DispatchPasses counts dispatch passes by result (ran, skipped).
	DispatchPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timedsend_dispatch_passes_total",
			Help: "Dispatch passes by result",
		},
		[]string{"result"},
	)

	// Deliveries counts delivery attempts by schedule kind and result (sent, failed, suppressed).
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timedsend_deliveries_total",
			Help: "Delivery attempts by schedule kind and result",
		},
		[]string{"kind", "result"},
	)

	// Resolutions counts contact resolutions by outcome.
	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timedsend_contact_resolutions_total",
			Help: "Contact resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// Recurrences counts pending occurrences appended by recurrence expansion.
	Recurrences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timedsend_recurrences_total",
			Help: "Next occurrences appended for recurring schedules",
		},
		[]string{"recurrence"},
	)

	// ProcessRestarts counts supervisor restart attempts by process.
	ProcessRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timedsend_process_restarts_total",
			Help: "Supervisor restart attempts by process",
		},
		[]string{"process"},
	)

	// ProcessHealthy is 1 while the supervisor considers a process healthy.
	ProcessHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "timedsend_process_healthy",
			Help: "Whether a supervised process is healthy",
		},
		[]string{"process"},
	)
)

var initOnce sync.Once

func init() {
	initOnce.Do(func() {
		prometheus.MustRegister(DispatchPasses, Deliveries, Resolutions, Recurrences, ProcessRestarts, ProcessHealthy)
	})
}

func SetProcessHealthy(name string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	ProcessHealthy.WithLabelValues(name).Set(v)
}
