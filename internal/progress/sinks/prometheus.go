package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/list-harvester/internal/progress"
)

// PrometheusSink exports harvest progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runDuration   prometheus.Histogram
	pagesDone     prometheus.Counter
	currentPage   prometheus.Gauge
	records       *prometheus.CounterVec
	recordLatency prometheus.Histogram
	restarts      prometheus.Counter
	blocks        prometheus.Counter
	profileResets prometheus.Counter
}

// NewPrometheusSink registers the collectors on reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Harvest runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_runs_finished_total",
			Help: "Harvest runs finished, partitioned by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
		}),
		pagesDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_pages_completed_total",
			Help: "List pages fully traversed.",
		}),
		currentPage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_current_page",
			Help: "List page currently being traversed.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_records_total",
			Help: "Detail records processed, partitioned by result.",
		}, []string{"result"}),
		recordLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_record_duration_seconds",
			Help:    "Time to collect one detail record.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_session_restarts_total",
			Help: "Browser sessions restarted after a failure.",
		}),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_checkpoints_total",
			Help: "Verification walls encountered.",
		}),
		profileResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_profile_resets_total",
			Help: "Browser profiles destroyed after repeated unresponsive sessions.",
		}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runDuration,
		s.pagesDone,
		s.currentPage,
		s.records,
		s.recordLatency,
		s.restarts,
		s.blocks,
		s.profileResets,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.observe(evt)
	}
	return nil
}

func (s *PrometheusSink) observe(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone, progress.StageRunError:
		outcome := evt.Outcome
		if outcome == "" {
			outcome = "unknown"
		}
		s.runsFinished.WithLabelValues(outcome).Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StagePageStart:
		s.currentPage.Set(float64(evt.Page))
	case progress.StagePageDone:
		s.pagesDone.Inc()
	case progress.StageRecordDone:
		s.records.WithLabelValues("collected").Inc()
		if evt.Dur > 0 {
			s.recordLatency.Observe(evt.Dur.Seconds())
		}
	case progress.StageRecordFailed:
		s.records.WithLabelValues("failed").Inc()
	case progress.StageSessionRestart:
		s.restarts.Inc()
	case progress.StageBlocked:
		s.blocks.Inc()
	case progress.StageProfileReset:
		s.profileResets.Inc()
	}
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
