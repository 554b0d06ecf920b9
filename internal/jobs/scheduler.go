package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Scheduler запускает тики движка по cron-расписанию.
// Если предыдущий тик ещё идёт, следующий пропускается.
type Scheduler struct {
	cron   *cron.Cron
	engine *Engine
	spec   string
	loc    *time.Location
}

// NewScheduler создаёт планировщик.
//
// Параметры:
//   - engine: движок проходов
//   - spec: расписание в формате cron ("@every 1m", "*/5 * * * *")
//   - loc: часовой пояс расписания
func NewScheduler(engine *Engine, spec string, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{cron: c, engine: engine, spec: spec, loc: loc}
}

// Start регистрирует задачу и запускает планировщик.
// ctx передаётся в каждый тик; после его отмены тики завершаются досрочно.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		s.engine.Tick(ctx)
	}); err != nil {
		return fmt.Errorf("некорректное расписание %q: %w", s.spec, err)
	}

	s.cron.Start()
	log.WithFields(log.Fields{
		"spec":     s.spec,
		"timezone": s.loc.String(),
	}).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт завершения текущего тика.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
