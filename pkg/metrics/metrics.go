package metrics

import (
	"github.com/kubev2v/doctrack/internal/poller"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	doctrack = "doctrack"

	// Poll metrics
	pollEventsTotal    = "poll_events_total"
	sessionsTotal      = "sessions_terminated_total"
	activeSessions     = "active_sessions"
	trackedJobProgress = "tracked_job_progress"

	// Labels
	eventKindLabel = "kind"
	reasonLabel    = "reason"
)

/**
* Metrics definition
**/
var pollEventsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: doctrack,
		Name:      pollEventsTotal,
		Help:      "number of scheduler events by kind",
	},
	[]string{eventKindLabel},
)

var sessionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: doctrack,
		Name:      sessionsTotal,
		Help:      "number of terminated polling sessions by reason",
	},
	[]string{reasonLabel},
)

var activeSessionsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: doctrack,
		Name:      activeSessions,
		Help:      "1 while a polling session is active",
	},
)

var trackedJobProgressMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: doctrack,
		Name:      trackedJobProgress,
		Help:      "displayed progress of the tracked job",
	},
)

func IncreasePollEventsTotalMetric(kind string) {
	pollEventsTotalMetric.With(prometheus.Labels{eventKindLabel: kind}).Inc()
}

func IncreaseSessionsTotalMetric(reason string) {
	sessionsTotalMetric.With(prometheus.Labels{reasonLabel: reason}).Inc()
}

// Listener records scheduler events.
func Listener() poller.Listener {
	return func(e poller.Event) {
		IncreasePollEventsTotalMetric(string(e.Kind))
		UniqueJobs.Track(e.JobID)

		switch e.Kind {
		case poller.EventTerminated:
			IncreaseSessionsTotalMetric(string(e.Reason))
			activeSessionsMetric.Set(0)
		default:
			activeSessionsMetric.Set(1)
		}
		if e.Update != nil {
			trackedJobProgressMetric.Set(float64(e.Update.Progress))
		}
	}
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(pollEventsTotalMetric)
	prometheus.MustRegister(sessionsTotalMetric)
	prometheus.MustRegister(activeSessionsMetric)
	prometheus.MustRegister(trackedJobProgressMetric)
	prometheus.MustRegister(totalUniqueJobsMetric)
}
