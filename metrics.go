package ddns

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Tick results reported to a Recorder.
const (
	TickChecked  = "checked"
	TickCooldown = "cooldown"
	TickBusy     = "busy"
	TickError    = "error"
)

// Recorder receives metrics from the Updater and Daemon.
// NoopRecorder is used unless one is configured with WithRecorder.
type Recorder interface {
	IncTick(result string)
	IncUpdate(success bool)
	IncNotification(success bool)
	SetAttemptCount(n int)
	ObserveCycleDuration(d time.Duration)
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

func (NoopRecorder) IncTick(string)                     {}
func (NoopRecorder) IncUpdate(bool)                     {}
func (NoopRecorder) IncNotification(bool)               {}
func (NoopRecorder) SetAttemptCount(int)                {}
func (NoopRecorder) ObserveCycleDuration(time.Duration) {}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	ticks         *prom.CounterVec
	updates       *prom.CounterVec
	notifications *prom.CounterVec
	attemptCount  prom.Gauge
	cycleDuration prom.Histogram
}

// NewPrometheusRecorder constructs the ddns metrics and registers them with reg.
// A nil reg uses a fresh registry.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		ticks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ddns",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by result",
		}, []string{"result"}),
		updates: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ddns",
			Name:      "update_attempts_total",
			Help:      "DNS update attempts by result",
		}, []string{"result"}),
		notifications: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ddns",
			Name:      "notifications_total",
			Help:      "Notifications by delivery result",
		}, []string{"result"}),
		attemptCount: prom.NewGauge(prom.GaugeOpts{
			Namespace: "ddns",
			Name:      "attempt_count",
			Help:      "Consecutive failed update attempts recorded in the state file",
		}),
		cycleDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "ddns",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of update cycles",
			Buckets:   prom.DefBuckets,
		}),
	}
	reg.MustRegister(pr.ticks, pr.updates, pr.notifications, pr.attemptCount, pr.cycleDuration)
	return pr
}

func (p *PrometheusRecorder) IncTick(result string) {
	p.ticks.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncUpdate(success bool) {
	p.updates.WithLabelValues(resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncNotification(success bool) {
	p.notifications.WithLabelValues(resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) SetAttemptCount(n int) {
	p.attemptCount.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveCycleDuration(d time.Duration) {
	p.cycleDuration.Observe(d.Seconds())
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
