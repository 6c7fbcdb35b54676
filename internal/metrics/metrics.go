// Package metrics exposes the pipeline's Prometheus collectors: one
// struct registered once per process, with narrow Record* methods so
// the rest of the codebase never touches prometheus types directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline holds every collector the per-user pipeline (C8), the fleet
// orchestrator (C9), and the reconciler (C10) report against.
type Pipeline struct {
	apiCallsTotal    *prometheus.CounterVec
	apiCallDuration  *prometheus.HistogramVec
	filesDownloaded  prometheus.Counter
	eventsTotal      *prometheus.CounterVec
	reconcilerDelete *prometheus.CounterVec
	fleetUserRuns    *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
}

// NewPipeline builds and registers the collectors against reg. A
// *prometheus.Registry (not the global DefaultRegisterer) is passed
// explicitly so tests can use a throwaway registry per test.
func NewPipeline(reg prometheus.Registerer) (*Pipeline, error) {
	p := &Pipeline{
		apiCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigglepipe",
			Subsystem: "upstream",
			Name:      "api_calls_total",
			Help:      "Upstream audio fetch calls by outcome.",
		}, []string{"outcome"}),
		apiCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gigglepipe",
			Subsystem: "upstream",
			Name:      "api_call_duration_seconds",
			Help:      "Upstream audio fetch call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		filesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gigglepipe",
			Subsystem: "pipeline",
			Name:      "files_downloaded_total",
			Help:      "Audio segment blobs successfully fetched from upstream.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigglepipe",
			Subsystem: "dedup",
			Name:      "events_total",
			Help:      "Classifier events by dedup decision (insert, update, skip_time_window, skip_clip_path, skip_missing_file).",
		}, []string{"decision"}),
		reconcilerDelete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigglepipe",
			Subsystem: "reconciler",
			Name:      "files_deleted_total",
			Help:      "Orphan files deleted by the reconciler, by reason.",
		}, []string{"reason"}),
		fleetUserRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigglepipe",
			Subsystem: "fleet",
			Name:      "user_runs_total",
			Help:      "Per-user pipeline runs by outcome (ok, failed).",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gigglepipe",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Per-user pipeline run wall-clock duration, by mode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
	}

	collectors := []prometheus.Collector{
		p.apiCallsTotal, p.apiCallDuration, p.filesDownloaded,
		p.eventsTotal, p.reconcilerDelete, p.fleetUserRuns, p.runDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// RecordAPICall reports one upstream fetch outcome and its latency.
func (p *Pipeline) RecordAPICall(outcome string, seconds float64) {
	p.apiCallsTotal.WithLabelValues(outcome).Inc()
	p.apiCallDuration.WithLabelValues(outcome).Observe(seconds)
	if outcome == "blob" {
		p.filesDownloaded.Inc()
	}
}

// RecordEvent reports one classifier event's dedup decision.
func (p *Pipeline) RecordEvent(decision string) {
	p.eventsTotal.WithLabelValues(decision).Inc()
}

// RecordReconcilerDelete reports one file the reconciler removed.
func (p *Pipeline) RecordReconcilerDelete(reason string) {
	p.reconcilerDelete.WithLabelValues(reason).Inc()
}

// RecordFleetUserRun reports one user's pipeline run outcome within a
// fleet pass.
func (p *Pipeline) RecordFleetUserRun(status string) {
	p.fleetUserRuns.WithLabelValues(status).Inc()
}

// RecordRunDuration reports one user's pipeline run wall-clock time.
func (p *Pipeline) RecordRunDuration(mode string, seconds float64) {
	p.runDuration.WithLabelValues(mode).Observe(seconds)
}
