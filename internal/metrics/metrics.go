// Package metrics содержит Prometheus-метрики сервиса:
// начисления очков, переходы модерации и проходы планировщика.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pollcore"

// Metrics хранит все счётчики сервиса.
type Metrics struct {
	Awards        *prometheus.CounterVec   // action, result
	Transitions   *prometheus.CounterVec   // action
	ScanProcessed *prometheus.CounterVec   // scan, outcome
	ScanDuration  *prometheus.HistogramVec // scan
}

// New регистрирует метрики в reg.
// В тестах передаётся prometheus.NewRegistry(), чтобы не было дублей
// в глобальном реестре.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Awards: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "points",
				Name:      "awards_total",
				Help:      "Number of award attempts by action type and result",
			},
			[]string{"action", "result"},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "moderation",
				Name:      "transitions_total",
				Help:      "Number of moderation transitions by action",
			},
			[]string{"action"},
		),
		ScanProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "polls_processed_total",
				Help:      "Polls handled by scheduler scans by outcome (ok, skipped, failed)",
			},
			[]string{"scan", "outcome"},
		),
		ScanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "scan_duration_seconds",
				Help:      "Scan duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scan"},
		),
	}
}

// Nop возвращает метрики на отдельном реестре, который никто не читает.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

// RecordAward учитывает попытку начисления.
func (m *Metrics) RecordAward(action, result string) {
	m.Awards.WithLabelValues(action, result).Inc()
}

// RecordTransition учитывает переход модерации.
func (m *Metrics) RecordTransition(action string) {
	m.Transitions.WithLabelValues(action).Inc()
}

// RecordScanItem учитывает обработку одного опроса сканом.
func (m *Metrics) RecordScanItem(scan, outcome string) {
	m.ScanProcessed.WithLabelValues(scan, outcome).Inc()
}

// ObserveScan записывает длительность скана.
func (m *Metrics) ObserveScan(scan string, started time.Time) {
	m.ScanDuration.WithLabelValues(scan).Observe(time.Since(started).Seconds())
}
