package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of one project poll cycle.
const (
	OutcomeRecorded  = "recorded"
	OutcomeUnchanged = "unchanged"
	OutcomeError     = "error"
)

var (
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cimonitor_polls_total",
			Help: "Project poll cycles by feed format and outcome",
		},
		[]string{"format", "outcome"},
	)

	// FetchDuration covers retrieval and parsing of one document; kind is
	// status, building or tree.
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cimonitor_fetch_duration_seconds",
			Help:    "Time to retrieve and parse one feed document",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	RetrievalErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cimonitor_retrieval_errors_total",
			Help: "Failed feed retrievals by document kind",
		},
		[]string{"kind"},
	)

	PassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cimonitor_poll_pass_duration_seconds",
			Help:    "Duration of one scheduler pass over the due projects",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ProjectsDue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cimonitor_projects_due",
			Help: "Projects found due in the last scheduler pass",
		},
	)

	PanicsRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cimonitor_poll_panics_total",
			Help: "Project poll cycles that panicked and were recovered",
		},
	)

	// ProjectRed is 1 while a project's latest status is red.
	ProjectRed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cimonitor_project_red",
			Help: "Whether the project's latest status is red (1) or not (0)",
		},
		[]string{"project"},
	)
)

func init() {
	prometheus.MustRegister(PollsTotal)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(RetrievalErrors)
	prometheus.MustRegister(PassDuration)
	prometheus.MustRegister(ProjectsDue)
	prometheus.MustRegister(PanicsRecovered)
	prometheus.MustRegister(ProjectRed)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// BoolValue maps true to 1.
func BoolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
