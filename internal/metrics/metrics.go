// Package metrics exposes pipeline counters in the Prometheus format.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rsclarke/pcapflow/internal/audit"
	"github.com/rsclarke/pcapflow/internal/batch"
)

const namespace = "pcapflow"

// File status label values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics holds the collectors registered for one process.
type Metrics struct {
	files      *prometheus.CounterVec
	items      *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	runs       *prometheus.CounterVec
	lastRun    *prometheus.GaugeVec
	auditRows  prometheus.Counter
	auditLeaks prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Capture files processed, by pipeline and status.",
		}, []string{"kind", "status"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Records or spans produced, by pipeline.",
		}, []string{"kind"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_lines_total",
			Help:      "Dissector lines dropped, by pipeline and reason.",
		}, []string{"kind", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time spent extracting one capture file.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs, by pipeline and status.",
		}, []string{"kind", "status"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the most recent run, by pipeline.",
		}, []string{"kind"}),
		auditRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_rows_total",
			Help:      "CSV rows scanned by the audit.",
		}),
		auditLeaks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_leaks_total",
			Help:      "Audits halted by a privacy leak.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.files, m.items, m.skipped, m.duration, m.runs, m.lastRun, m.auditRows, m.auditLeaks,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Observer returns a batch observer that records outcomes under kind.
func (m *Metrics) Observer(kind string) batch.Observer {
	return &observer{m: m, kind: kind}
}

type observer struct {
	m    *Metrics
	kind string
}

func (o *observer) OnOutcome(r batch.FileResult) error {
	status := StatusOK
	if r.Err != nil {
		status = StatusFailed
	}
	o.m.files.WithLabelValues(o.kind, status).Inc()
	o.m.items.WithLabelValues(o.kind).Add(float64(r.Items))
	for reason, n := range r.Skipped {
		o.m.skipped.WithLabelValues(o.kind, string(reason)).Add(float64(n))
	}
	o.m.duration.WithLabelValues(o.kind).Observe(r.Duration.Seconds())
	return nil
}

// RunFinished records the end of a run.
func (m *Metrics) RunFinished(kind string, s batch.Summary, err error) {
	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	m.runs.WithLabelValues(kind, status).Inc()
	m.lastRun.WithLabelValues(kind).Set(s.Elapsed.Seconds())
}

// AuditFinished records the outcome of an audit.
func (m *Metrics) AuditFinished(acc audit.Accumulator, err error) {
	m.auditRows.Add(float64(acc.TotalRows))
	if errors.Is(err, audit.ErrPrivacyLeak) {
		m.auditLeaks.Inc()
	}
	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	m.runs.WithLabelValues("audit", status).Inc()
}

// WriteTextfile writes every metric gathered from g to path in the text
// exposition format, for the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
