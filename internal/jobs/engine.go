// Package jobs выполняет фоновые проходы по опросам: публикацию отложенных
// и обработку просроченной модерации.
// engine.go выполняет один проход; scheduler.go запускает проходы по расписанию.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/poll-core/internal/common"
	"serotonyl.ru/poll-core/internal/features/moderation"
	"serotonyl.ru/poll-core/internal/metrics"
)

const (
	scanPublication = "publication"
	scanSLABreach   = "sla_breach"

	outcomeOK      = "ok"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"

	// Сколько опросов обрабатывается за один проход; остальные: на следующем тике
	defaultBatchSize = 500
)

// Moderation: переходы, которые выполняют проходы. Реализуется *moderation.Service.
type Moderation interface {
	FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*moderation.Poll, error)
	FindOverduePending(ctx context.Context, now time.Time, limit int) ([]*moderation.Poll, error)
	PublishScheduled(ctx context.Context, p *moderation.Poll, now time.Time) error
	HandleBreach(ctx context.Context, p *moderation.Poll, now time.Time, s moderation.Settings) (moderation.BreachPlan, error)
}

// SettingsLoader загружает настройки модерации.
type SettingsLoader interface {
	Load(ctx context.Context) (moderation.Settings, error)
}

// ScanReport: итог одного прохода.
type ScanReport struct {
	Scan      string
	Found     int
	Processed int // Переход применён
	Skipped   int // Опрос уже изменён другим процессом
	Failed    int // Ошибка или паника
	Err       error
}

// TickReport описывает итог тика: оба прохода с общим run_id.
type TickReport struct {
	RunID       string
	Publication ScanReport
	SLABreach   ScanReport
}

// Engine выполняет проходы. Каждый тик самодостаточен: условия перехода
// сравнивают абсолютное время, поэтому пропущенный тик догоняется следующим.
type Engine struct {
	mod       Moderation
	settings  SettingsLoader
	metrics   *metrics.Metrics
	batchSize int
	now       func() time.Time
}

// NewEngine создаёт движок проходов.
func NewEngine(mod Moderation, settings SettingsLoader, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.Nop()
	}
	return &Engine{
		mod:       mod,
		settings:  settings,
		metrics:   m,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
}

// Tick выполняет оба прохода последовательно с одним run_id.
func (e *Engine) Tick(ctx context.Context) TickReport {
	runID := uuid.NewString()
	logger := log.WithField("run_id", runID)
	now := e.now()

	report := TickReport{
		RunID:       runID,
		Publication: e.runPublication(ctx, now, logger),
		SLABreach:   e.runSLABreach(ctx, now, logger),
	}

	logger.WithFields(log.Fields{
		"published":          report.Publication.Processed,
		"publication_failed": report.Publication.Failed,
		"breaches":           report.SLABreach.Processed,
		"breach_skipped":     report.SLABreach.Skipped,
		"breach_failed":      report.SLABreach.Failed,
	}).Debug("[CRON] Тик планировщика завершён")
	return report
}

// RunScheduledPublicationScan публикует отложенные опросы, время которых наступило.
func (e *Engine) RunScheduledPublicationScan(ctx context.Context, now time.Time) ScanReport {
	return e.runPublication(ctx, now, log.NewEntry(log.StandardLogger()))
}

// RunSlaBreachScan обрабатывает опросы с истёкшим сроком проверки.
func (e *Engine) RunSlaBreachScan(ctx context.Context, now time.Time) ScanReport {
	return e.runSLABreach(ctx, now, log.NewEntry(log.StandardLogger()))
}

func (e *Engine) runPublication(ctx context.Context, now time.Time, logger *log.Entry) ScanReport {
	started := time.Now()
	defer e.metrics.ObserveScan(scanPublication, started)
	logger = logger.WithField("scan", scanPublication)

	report := ScanReport{Scan: scanPublication}
	polls, err := e.mod.FindDueScheduled(ctx, now, e.batchSize)
	if err != nil {
		logger.WithError(err).Error("[CRON] Не удалось выбрать отложенные опросы")
		report.Err = err
		return report
	}
	report.Found = len(polls)

	for _, p := range polls {
		outcome := e.processItem(logger.WithField("poll_id", p.ID), func() error {
			return e.mod.PublishScheduled(ctx, p, now)
		})
		report.add(outcome)
		e.metrics.RecordScanItem(scanPublication, outcome)
	}
	return report
}

func (e *Engine) runSLABreach(ctx context.Context, now time.Time, logger *log.Entry) ScanReport {
	started := time.Now()
	defer e.metrics.ObserveScan(scanSLABreach, started)
	logger = logger.WithField("scan", scanSLABreach)

	report := ScanReport{Scan: scanSLABreach}

	settings, err := e.settings.Load(ctx)
	if err != nil {
		logger.WithError(err).Warn("[CRON] Не удалось загрузить настройки, используем значения по умолчанию")
		settings = moderation.DefaultSettings()
	}

	polls, err := e.mod.FindOverduePending(ctx, now, e.batchSize)
	if err != nil {
		logger.WithError(err).Error("[CRON] Не удалось выбрать просроченные опросы")
		report.Err = err
		return report
	}
	report.Found = len(polls)

	for _, p := range polls {
		outcome := e.processItem(logger.WithField("poll_id", p.ID), func() error {
			_, err := e.mod.HandleBreach(ctx, p, now, settings)
			return err
		})
		report.add(outcome)
		e.metrics.RecordScanItem(scanSLABreach, outcome)
	}
	return report
}

// processItem выполняет fn для одного опроса. Ошибка или паника
// не прерывают проход, а считаются как failed.
func (e *Engine) processItem(logger *log.Entry, fn func() error) (outcome string) {
	outcome = outcomeFailed
	defer recoverItem(&outcome, logger)

	err := fn()
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, common.ErrTransitionConflict):
		logger.Debug("[CRON] Опрос уже изменён, пропускаем")
		return outcomeSkipped
	default:
		logger.WithError(err).Error("[CRON] Ошибка обработки опроса")
		return outcomeFailed
	}
}

func (r *ScanReport) add(outcome string) {
	switch outcome {
	case outcomeOK:
		r.Processed++
	case outcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}
