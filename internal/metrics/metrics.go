package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtside",
			Name:      "submissions_total",
			Help:      "Booking submissions by outcome.",
		},
		[]string{"outcome"},
	)

	attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtside",
			Name:      "attempts_total",
			Help:      "Execution adapter attempts by result.",
		},
		[]string{"result"},
	)

	attemptsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "courtside",
			Name:      "attempts_in_flight",
			Help:      "Adapter attempts currently running.",
		},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtside",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by target status.",
		},
		[]string{"to"},
	)

	reaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtside",
			Name:      "reaped_total",
			Help:      "Requests expired or purged by the reaper.",
		},
		[]string{"kind"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtside",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(submissions, attempts, attemptsInFlight, transitions, reaped, httpRequests)
	})
}

// IncSubmission counts a submission outcome: created, conflict, quota, invalid.
func IncSubmission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

// IncAttempt counts an adapter result: confirmed, transient, fatal, discarded.
func IncAttempt(result string) {
	attempts.WithLabelValues(result).Inc()
}

// AttemptStarted / AttemptDone track the in-flight gauge around adapter calls.
func AttemptStarted() { attemptsInFlight.Inc() }
func AttemptDone()    { attemptsInFlight.Dec() }

// IncTransition counts a lifecycle transition into a status.
func IncTransition(to string) {
	transitions.WithLabelValues(to).Inc()
}

// IncReaped counts reaper work: expired or purged.
func IncReaped(kind string) {
	reaped.WithLabelValues(kind).Inc()
}

// IncReapedN adds a batch to the reaper counter.
func IncReapedN(kind string, n int64) {
	reaped.WithLabelValues(kind).Add(float64(n))
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
