// Package observability carries the engine's Prometheus metrics and the
// optional OpenTelemetry tracer.
package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds the engine's Prometheus metrics.
type Metrics struct {
	changesApplied   *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	applyErrors      *prometheus.CounterVec
	pipelinesActive  prometheus.Gauge
	subscriptions    prometheus.Gauge
	fetchesTotal     prometheus.Counter

	server *http.Server
}

// GetMetrics returns the process-wide metrics instance, registering the
// collectors on first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			changesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fluxsync_changes_applied_total",
				Help: "Replicated change events applied to sources",
			}, []string{"table", "type"}),
			notifications: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fluxsync_notifications_received_total",
				Help: "Change notifications received by the listener",
			}, []string{"channel"}),
			applyErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fluxsync_apply_errors_total",
				Help: "Change events that failed to apply",
			}, []string{"table"}),
			pipelinesActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "fluxsync_pipelines_active",
				Help: "Compiled pipelines currently live",
			}),
			subscriptions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "fluxsync_subscriptions_active",
				Help: "Query subscriptions currently attached",
			}),
			fetchesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "fluxsync_fetches_total",
				Help: "Initial materialization fetches served",
			}),
		}
	})
	return metricsInstance
}

// ChangeApplied records one applied change event.
func (m *Metrics) ChangeApplied(table, changeType string) {
	m.changesApplied.WithLabelValues(table, changeType).Inc()
}

// NotificationReceived records one inbound notification.
func (m *Metrics) NotificationReceived(channel string) {
	m.notifications.WithLabelValues(channel).Inc()
}

// ApplyError records one failed application.
func (m *Metrics) ApplyError(table string) {
	m.applyErrors.WithLabelValues(table).Inc()
}

// PipelineBuilt / PipelineDestroyed track the live pipeline gauge.
func (m *Metrics) PipelineBuilt()     { m.pipelinesActive.Inc() }
func (m *Metrics) PipelineDestroyed() { m.pipelinesActive.Dec() }

// SubscriptionOpened / SubscriptionClosed track attached subscribers.
func (m *Metrics) SubscriptionOpened() { m.subscriptions.Inc() }
func (m *Metrics) SubscriptionClosed() { m.subscriptions.Dec() }

// FetchServed records one initial materialization.
func (m *Metrics) FetchServed() { m.fetchesTotal.Inc() }

// Serve exposes /metrics on the given address until Shutdown.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server started")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Shutdown stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
