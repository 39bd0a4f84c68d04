// Package metrics exposes Prometheus collectors for a check run. A run is a
// short-lived process, so collectors live on a private registry that is
// pushed to a Pushgateway or written to a node_exporter textfile at exit.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder owns the run's collectors.
type Recorder struct {
	registry *prometheus.Registry

	checksTotal   *prometheus.CounterVec
	attemptsTotal *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	decisions     *prometheus.CounterVec
	alertsTotal   *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carwatch_source_checks_total",
			Help: "Source checks by final status.",
		}, []string{"source", "status", "site"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carwatch_source_attempts_total",
			Help: "Attempts made per source, including retries after a blocked page.",
		}, []string{"source"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carwatch_source_check_duration_seconds",
			Help:    "Wall time spent on a source, retries included.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120},
		}, []string{"source"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carwatch_decisions_total",
			Help: "Run decisions.",
		}, []string{"decision"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carwatch_alerts_total",
			Help: "Alert dispatches by result.",
		}, []string{"result"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carwatch_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
	reg.MustRegister(r.checksTotal, r.attemptsTotal, r.checkDuration, r.decisions, r.alertsTotal, r.lastRun)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveOutcome records one source's final outcome.
func (r *Recorder) ObserveOutcome(source, status, pageURL string, attempts int, d time.Duration) {
	r.checksTotal.WithLabelValues(source, status, SanitizeSite(pageURL)).Inc()
	if attempts > 0 {
		r.attemptsTotal.WithLabelValues(source).Add(float64(attempts))
	}
	r.checkDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveDecision records the run decision and stamps the finish time.
func (r *Recorder) ObserveDecision(decision string, finished time.Time) {
	r.decisions.WithLabelValues(decision).Inc()
	r.lastRun.Set(float64(finished.Unix()))
}

// ObserveAlert records an alert dispatch; err nil counts as delivered.
func (r *Recorder) ObserveAlert(err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	r.alertsTotal.WithLabelValues(result).Inc()
}

// Push sends the registry to a Pushgateway under job, grouped by instance
// when it is set.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job, instance string) error {
	if strings.TrimSpace(gatewayURL) == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		job = "carwatch"
	}
	p := push.New(gatewayURL, job).Gatherer(r.registry)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// WriteTextfile writes the registry in the text exposition format for the
// node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// SanitizeSite extracts a lowercase hostname from rawURL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
