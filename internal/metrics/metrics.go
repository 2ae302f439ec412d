// Package metrics provides run statistics for greeter.
//
// This package implements:
// - Operation timing for the emit step
// - Greeting, signal and error counters
// - Prometheus collectors on a private registry
// - Summary logging at shutdown
//
// Example usage:
//
//	monitor := metrics.NewMonitor()
//	monitor.SetLogger(logger)
//	err := monitor.TrackOperation(ctx, "emit", func() error {
//		return write()
//	})
//	monitor.RecordGreeting()
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "greeter"

// Monitor collects run statistics
type Monitor struct {
	logger *slog.Logger
	mu     sync.RWMutex

	operations map[string]*OperationMetrics
	errors     map[string]*ErrorMetrics
	signals    map[string]int64
	greetings  int64

	registry        *prometheus.Registry
	greetingsTotal  prometheus.Counter
	signalsTotal    *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	writeErrorTotal prometheus.Counter
	cancelled       prometheus.Gauge
	emitDuration    prometheus.Histogram
}

// OperationMetrics tracks metrics for specific operations
type OperationMetrics struct {
	Name            string        `json:"name"`
	Count           int64         `json:"count"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	LastExecution   time.Time     `json:"last_execution"`
	Errors          int64         `json:"errors"`
	Successes       int64         `json:"successes"`
}

// ErrorMetrics tracks error occurrences
type ErrorMetrics struct {
	Type         string    `json:"type"`
	Code         string    `json:"code"`
	Count        int64     `json:"count"`
	LastOccurred time.Time `json:"last_occurred"`
	Component    string    `json:"component"`
	Message      string    `json:"message"`
}

// NewMonitor creates a new monitor with its own Prometheus registry
func NewMonitor() *Monitor {
	m := &Monitor{
		operations: make(map[string]*OperationMetrics),
		errors:     make(map[string]*ErrorMetrics),
		signals:    make(map[string]int64),
		registry:   prometheus.NewRegistry(),
		greetingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "greetings_total",
			Help:      "Number of greeting lines written.",
		}),
		signalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Number of process signals observed, by signal name.",
		}, []string{"signal"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Number of errors tracked, by type and code.",
		}, []string{"type", "code"}),
		writeErrorTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Number of failed greeting writes.",
		}),
		cancelled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cancelled",
			Help:      "1 once a cancellation request has been observed.",
		}),
		emitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "emit_duration_seconds",
			Help:      "Time spent writing one greeting.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 10, 6),
		}),
	}

	m.registry.MustRegister(
		m.greetingsTotal,
		m.signalsTotal,
		m.errorsTotal,
		m.writeErrorTotal,
		m.cancelled,
		m.emitDuration,
	)

	return m
}

// SetLogger sets the logger for metrics output
func (m *Monitor) SetLogger(logger *slog.Logger) {
	m.logger = logger.With(slog.String("component", "metrics"))
}

// Registry returns the Prometheus registry holding the greeter collectors
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registry
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TrackOperation tracks the execution of an operation
func (m *Monitor) TrackOperation(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	m.recordOperation(operation, duration, err == nil)
	if operation == "emit" {
		m.emitDuration.Observe(duration.Seconds())
	}

	if m.logger != nil {
		level := slog.LevelDebug
		status := "success"
		if err != nil {
			level = slog.LevelWarn
			status = "error"
		}

		m.logger.LogAttrs(ctx, level, "Operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
			slog.String("status", status),
		)
	}

	return err
}

// recordOperation records operation metrics
func (m *Monitor) recordOperation(name string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, exists := m.operations[name]
	if !exists {
		metrics = &OperationMetrics{
			Name:        name,
			MinDuration: duration,
			MaxDuration: duration,
		}
		m.operations[name] = metrics
	}

	metrics.Count++
	metrics.TotalDuration += duration
	metrics.LastExecution = time.Now()

	if duration < metrics.MinDuration {
		metrics.MinDuration = duration
	}
	if duration > metrics.MaxDuration {
		metrics.MaxDuration = duration
	}

	metrics.AverageDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)

	if success {
		metrics.Successes++
	} else {
		metrics.Errors++
	}
}

// RecordGreeting counts one written greeting
func (m *Monitor) RecordGreeting() {
	m.mu.Lock()
	m.greetings++
	m.mu.Unlock()

	m.greetingsTotal.Inc()
}

// RecordSignal counts one observed signal
func (m *Monitor) RecordSignal(name string) {
	m.mu.Lock()
	m.signals[name]++
	m.mu.Unlock()

	m.signalsTotal.WithLabelValues(name).Inc()
}

// SetCancelled flips the cancelled gauge to 1
func (m *Monitor) SetCancelled() {
	m.cancelled.Set(1)
}

// TrackError tracks error occurrences. Output errors also bump the write
// error counter.
func (m *Monitor) TrackError(ctx context.Context, errorType, code, component, message string) {
	key := errorType + ":" + code

	m.mu.Lock()
	errorMetrics, exists := m.errors[key]
	if !exists {
		errorMetrics = &ErrorMetrics{
			Type:      errorType,
			Code:      code,
			Component: component,
			Message:   message,
		}
		m.errors[key] = errorMetrics
	}

	errorMetrics.Count++
	errorMetrics.LastOccurred = time.Now()
	count := errorMetrics.Count
	m.mu.Unlock()

	m.errorsTotal.WithLabelValues(errorType, code).Inc()
	if errorType == "output" {
		m.writeErrorTotal.Inc()
	}

	if m.logger != nil {
		m.logger.WarnContext(ctx, "Error tracked",
			slog.String("error_type", errorType),
			slog.String("error_code", code),
			slog.String("component", component),
			slog.Int64("count", count),
			slog.String("message", message),
		)
	}
}

// LogMetricsSummary logs a summary of all collected metrics
func (m *Monitor) LogMetricsSummary(ctx context.Context) {
	if m.logger == nil {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	m.logger.InfoContext(ctx, "Run summary",
		slog.Int64("greetings", m.greetings),
		slog.Int("signal_kinds", len(m.signals)),
		slog.Int("error_kinds", len(m.errors)),
	)

	for name, metrics := range m.operations {
		m.logger.DebugContext(ctx, "Operation metrics",
			slog.String("operation", name),
			slog.Int64("count", metrics.Count),
			slog.Duration("avg_duration", metrics.AverageDuration),
			slog.Duration("min_duration", metrics.MinDuration),
			slog.Duration("max_duration", metrics.MaxDuration),
			slog.Int64("errors", metrics.Errors),
		)
	}

	for name, count := range m.signals {
		m.logger.InfoContext(ctx, "Signal metrics",
			slog.String("signal", name),
			slog.Int64("count", count),
		)
	}

	for _, metrics := range m.errors {
		m.logger.InfoContext(ctx, "Error metrics",
			slog.String("error_type", metrics.Type),
			slog.String("error_code", metrics.Code),
			slog.Int64("count", metrics.Count),
			slog.Time("last_occurred", metrics.LastOccurred),
		)
	}
}
