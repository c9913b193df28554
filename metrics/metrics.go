// Package metrics exports scheduler and router outcomes as Prometheus collectors.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/poiesic/kbpipe/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kbpipe"

// Outcome label values.
const (
	OutcomeOK             = "ok"
	OutcomeTransientError = "transient_error"
	OutcomePermanentError = "permanent_error"
)

// Metrics implements schedule.Observer and router.Recorder.
type Metrics struct {
	answers         *prometheus.CounterVec
	answerLatency   *prometheus.HistogramVec
	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	batchDuration   *prometheus.HistogramVec
	itemsCommitted  *prometheus.CounterVec
	chunksCommitted *prometheus.CounterVec
	imageFailures   *prometheus.CounterVec
	lastRun         *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "answers_total",
			Help:      "Retrieval requests by reasoning level, strategy and outcome.",
		}, []string{"level", "strategy", "outcome"}),
		answerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "answer_duration_seconds",
			Help:      "Wall-clock latency of retrieval requests.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"level", "strategy"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Finished runs by definition and final state.",
		}, []string{"definition", "state"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Execution time of finished runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"definition"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "batch_duration_seconds",
			Help:      "Time to enrich and commit one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"definition"}),
		itemsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "items_committed_total",
			Help:      "Corpus items committed to the index.",
		}, []string{"definition"}),
		chunksCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "chunks_committed_total",
			Help:      "Chunks committed to the index.",
		}, []string{"definition"}),
		imageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "image_failures_total",
			Help:      "Image spans that could not be verbalized in committed items.",
		}, []string{"definition"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "last_run_finished_timestamp_seconds",
			Help:      "Unix time the latest run of a definition finished.",
		}, []string{"definition"}),
	}

	for _, c := range []prometheus.Collector{
		m.answers, m.answerLatency, m.runs, m.runDuration, m.batchDuration,
		m.itemsCommitted, m.chunksCommitted, m.imageFailures, m.lastRun,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// RecordAnswer counts a retrieval request and observes its latency.
func (m *Metrics) RecordAnswer(level core.ReasoningLevel, strategy core.Strategy, latency time.Duration, err error) {
	m.answers.WithLabelValues(level.String(), string(strategy), outcome(err)).Inc()
	m.answerLatency.WithLabelValues(level.String(), string(strategy)).Observe(latency.Seconds())
}

// BatchCommitted records one committed batch.
func (m *Metrics) BatchCommitted(definition string, items, chunks, imageFailures int, elapsed time.Duration) {
	m.itemsCommitted.WithLabelValues(definition).Add(float64(items))
	m.chunksCommitted.WithLabelValues(definition).Add(float64(chunks))
	m.imageFailures.WithLabelValues(definition).Add(float64(imageFailures))
	m.batchDuration.WithLabelValues(definition).Observe(elapsed.Seconds())
}

// RunFinished records the final state of a run.
func (m *Metrics) RunFinished(run *core.Run) {
	state := string(run.State)
	if run.State == core.RunFailed && !run.Retryable {
		state = "failed_terminal"
	}
	m.runs.WithLabelValues(run.Definition, state).Inc()
	m.runDuration.WithLabelValues(run.Definition).Observe(run.Duration().Seconds())
	if !run.FinishedAt.IsZero() {
		m.lastRun.WithLabelValues(run.Definition).Set(float64(run.FinishedAt.Unix()))
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case core.IsTransient(err):
		return OutcomeTransientError
	}
	return OutcomePermanentError
}
