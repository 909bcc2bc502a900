// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesReceived prometheus.Counter
	MessagesRendered prometheus.Counter
	MessagesDropped  *prometheus.CounterVec
	BadgeMisses      prometheus.Counter
	ConnectFailures  prometheus.Counter
	ViewersEvicted   prometheus.Counter

	// Histograms (seconds)
	PipelineDuration prometheus.Observer
	HelixDuration    *prometheus.HistogramVec

	// Gauges
	SessionRunning  prometheus.Gauge // 1=running,0=stopped
	SessionFatal    prometheus.Gauge // 1 when the running session hit a fatal error
	AliasesAssigned prometheus.Gauge
	OverlayViewers  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "anonchat_messages_received_total", Help: "Chat messages delivered by the transport"})
		MessagesRendered = promauto.NewCounter(prometheus.CounterOpts{Name: "anonchat_messages_rendered_total", Help: "Chat lines appended to the overlay"})
		MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "anonchat_messages_dropped_total", Help: "Chat messages not rendered, by reason"}, []string{"reason"})
		BadgeMisses = promauto.NewCounter(prometheus.CounterOpts{Name: "anonchat_badge_misses_total", Help: "Held badges without image metadata"})
		ConnectFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "anonchat_connect_failures_total", Help: "Chat transport connections that ended with an error"})
		ViewersEvicted = promauto.NewCounter(prometheus.CounterOpts{Name: "anonchat_viewers_evicted_total", Help: "Overlay viewers disconnected for falling behind"})
		PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "anonchat_pipeline_duration_seconds", Help: "Format plus render time per message", Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1}})
		HelixDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "anonchat_helix_request_duration_seconds", Help: "Twitch Helix request duration", Buckets: prometheus.DefBuckets}, []string{"endpoint"})
		SessionRunning = promauto.NewGauge(prometheus.GaugeOpts{Name: "anonchat_session_running", Help: "Chat session running=1 stopped=0"})
		SessionFatal = promauto.NewGauge(prometheus.GaugeOpts{Name: "anonchat_session_fatal", Help: "Running session halted by a fatal error=1"})
		AliasesAssigned = promauto.NewGauge(prometheus.GaugeOpts{Name: "anonchat_aliases_assigned", Help: "Pseudonyms assigned in the current session"})
		OverlayViewers = promauto.NewGauge(prometheus.GaugeOpts{Name: "anonchat_overlay_viewers", Help: "Connected overlay stream viewers"})
	})
}

// IncBadgeMisses counts one unresolvable badge.
func IncBadgeMisses() {
	if BadgeMisses != nil {
		BadgeMisses.Inc()
	}
}

// IncDropped counts one message dropped for reason.
func IncDropped(reason string) {
	if MessagesDropped != nil {
		MessagesDropped.WithLabelValues(reason).Inc()
	}
}

// AddDropped counts n messages dropped for reason.
func AddDropped(reason string, n int) {
	if MessagesDropped != nil && n > 0 {
		MessagesDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// Inc increments c if it has been registered.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetGauge sets g if it has been registered.
func SetGauge(g prometheus.Gauge, v float64) {
	if g != nil {
		g.Set(v)
	}
}

// AddGauge adds delta to g if it has been registered.
func AddGauge(g prometheus.Gauge, delta float64) {
	if g != nil {
		g.Add(delta)
	}
}

// SetSessionState records running and fatal flags.
func SetSessionState(running, fatal bool) {
	SetGauge(SessionRunning, boolToFloat(running))
	SetGauge(SessionFatal, boolToFloat(fatal))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// ObserveHelix records a Helix call duration for endpoint.
func ObserveHelix(endpoint string, d time.Duration) {
	if HelixDuration != nil {
		HelixDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
