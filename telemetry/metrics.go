// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// Counters
	MessagesObserved = prometheus.NewCounter(prometheus.CounterOpts{Name: "kcm_messages_observed_total", Help: "Chat entries normalized and handed to the matching engine"})
	MessagesProcessed = prometheus.NewCounter(prometheus.CounterOpts{Name: "kcm_messages_processed_total", Help: "Messages evaluated against the rule set"})
	RuleMatches      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "kcm_rule_matches_total", Help: "Rule matches by action"}, []string{"action"})
	DelayedActions   = prometheus.NewCounter(prometheus.CounterOpts{Name: "kcm_delayed_actions_scheduled_total", Help: "Actions scheduled with a delay"})
	ActionsExecuted  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "kcm_actions_executed_total", Help: "Actions executed by action and outcome"}, []string{"action", "outcome"})

	ObserverAttaches   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "kcm_observer_attaches_total", Help: "Watcher attachments by container fallback level"}, []string{"root"})
	ObserverReattaches = prometheus.NewCounter(prometheus.CounterOpts{Name: "kcm_observer_reattaches_total", Help: "Re-attachments triggered by the container health check"})

	NotificationsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "kcm_notifications_relayed_total", Help: "Notification deliveries by sink and outcome"}, []string{"sink", "outcome"})
	BridgeFrames         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "kcm_bridge_frames_total", Help: "Page bridge frames by op and outcome"}, []string{"op", "outcome"})

	// Histograms (seconds)
	ActionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "kcm_action_duration_seconds", Help: "Action execution duration seconds", Buckets: prometheus.DefBuckets}, []string{"action"})

	// Gauges
	ObserverRunning = prometheus.NewGauge(prometheus.GaugeOpts{Name: "kcm_observer_running", Help: "Chat watcher attached=1 detached=0"})
	BridgeClients   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "kcm_bridge_clients", Help: "Connected page bridge clients"})
	RulesLoaded     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "kcm_rules_loaded", Help: "Trigger rules in the current snapshot"})
	MonitorEnabled  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "kcm_enabled", Help: "Global toggle on=1 off=0"})
)

// Init registers metrics with the default registry (idempotent). Collectors exist before
// Init, so packages may record into them in tests without registration.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			MessagesObserved, MessagesProcessed, RuleMatches, DelayedActions, ActionsExecuted,
			ObserverAttaches, ObserverReattaches, NotificationsRelayed, BridgeFrames,
			ActionDuration, ObserverRunning, BridgeClients, RulesLoaded, MonitorEnabled,
		)
	})
}

// SetEnabled records the global toggle.
func SetEnabled(on bool) {
	if on {
		MonitorEnabled.Set(1)
	} else {
		MonitorEnabled.Set(0)
	}
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
