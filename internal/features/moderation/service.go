// Package moderation: service.go содержит переходы состояния модерации:
// обработку просроченной проверки, публикацию отложенных опросов,
// решения модераторов и повторную отправку.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/poll-core/internal/common"
	"serotonyl.ru/poll-core/internal/features/notifications"
	"serotonyl.ru/poll-core/internal/features/points"
	"serotonyl.ru/poll-core/internal/metrics"
)

// Store: хранилище состояния модерации. Реализуется *Repository.
type Store interface {
	GetPoll(ctx context.Context, pollID int64) (*Poll, error)
	FindOverduePending(ctx context.Context, now time.Time, limit int) ([]*Poll, error)
	FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*Poll, error)
	// ApplyBreach вместе с переходом списывает штраф; penaltyApplied = false, если штрафовать некого
	ApplyBreach(ctx context.Context, plan BreachPlan, now time.Time) (penaltyApplied bool, err error)
	PublishScheduled(ctx context.Context, pollID int64, now time.Time) error
	Schedule(ctx context.Context, pollID int64, now time.Time) error
	StartReview(ctx context.Context, pollID int64, deadline, now time.Time) error
	AssignModerator(ctx context.Context, pollID, moderatorID int64, now time.Time) error
	ApplyDecision(ctx context.Context, in DecisionInput) (*DecisionResult, error)
	Resubmit(ctx context.Context, pollID, authorID int64, deadline, now time.Time) (*Poll, error)
	Logs(ctx context.Context, pollID int64) ([]*Log, error)
}

// Ledger: журнал очков. Штраф пишется в транзакции ApplyBreach,
// после неё остаётся только сбросить кэш лидерборда. Реализуется *points.Service.
type Ledger interface {
	InvalidateLeaderboard(ctx context.Context)
}

// Assigner выбирает и назначает модератора на опрос.
type Assigner interface {
	AssignModerator(ctx context.Context, p *Poll, excludeIDs []int64) error
}

// Alerter отправляет срочные сообщения модераторам (Telegram).
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Notifier отправляет уведомления пользователям. Ошибок не возвращает.
type Notifier interface {
	Notify(ctx context.Context, recipientID, actorID int64, t notifications.Type, resourceID int64)
}

// Service: переходы модерации.
type Service struct {
	store    Store
	ledger   Ledger
	assigner Assigner
	alerter  Alerter
	notifier Notifier
	metrics  *metrics.Metrics

	now func() time.Time
}

// NewService создаёт сервис модерации.
// Assigner задаётся отдельно через SetAssigner: он сам зависит от этого сервиса.
func NewService(store Store, ledger Ledger, alerter Alerter, notifier Notifier, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Nop()
	}
	return &Service{
		store:    store,
		ledger:   ledger,
		alerter:  alerter,
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
	}
}

// SetAssigner задаёт политику назначения модераторов.
func (s *Service) SetAssigner(a Assigner) {
	s.assigner = a
}

// GetPoll возвращает опрос.
func (s *Service) GetPoll(ctx context.Context, pollID int64) (*Poll, error) {
	return s.store.GetPoll(ctx, pollID)
}

// FindOverduePending: опросы с истёкшим сроком проверки.
func (s *Service) FindOverduePending(ctx context.Context, now time.Time, limit int) ([]*Poll, error) {
	return s.store.FindOverduePending(ctx, now, limit)
}

// FindDueScheduled: отложенные опросы, которые пора публиковать.
func (s *Service) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*Poll, error) {
	return s.store.FindDueScheduled(ctx, now, limit)
}

// HandleBreach обрабатывает опрос, у которого истёк срок проверки.
//
// Переход уровня (или эскалация), запись в журнал модерации и штраф модератору,
// пропустившему срок (MODERATION_PENALTY), фиксируются одной транзакцией.
// Если опрос уже изменён (модератор принял решение, другой процесс обработал),
// возвращается common.ErrTransitionConflict и больше ничего не делается.
//
// После фиксации:
//   - на новом уровне назначается другой модератор
//   - при эскалации в чат модераторов уходит алерт
func (s *Service) HandleBreach(ctx context.Context, p *Poll, now time.Time, settings Settings) (BreachPlan, error) {
	plan := PlanBreach(p, now, settings)

	penalized, err := s.store.ApplyBreach(ctx, plan, now)
	if err != nil {
		return plan, err
	}
	s.metrics.RecordTransition(string(plan.Action))

	logger := log.WithFields(log.Fields{
		"poll_id":   p.ID,
		"from_tier": plan.FromTier,
		"to_tier":   plan.ToTier,
		"action":    plan.Action,
	})
	logger.Info("Срок проверки истёк, опрос переведён")

	if penalized {
		s.metrics.RecordAward(string(points.ActionModerationPenalty), "ok")
		logger.WithFields(log.Fields{
			"moderator_id": *plan.PenaltyUserID,
			"points":       plan.PenaltyPoints,
		}).Info("Модератору списан штраф за просроченную проверку")
		if s.ledger != nil {
			s.ledger.InvalidateLeaderboard(ctx)
		}
	} else if plan.PenaltyUserID != nil {
		logger.WithField("moderator_id", *plan.PenaltyUserID).Warn("Модератор не найден, штраф пропущен")
	}

	moved := *p
	moved.CurrentModerationTier = plan.ToTier
	moved.ModerationDeadline = plan.NewDeadline
	moved.AssignedModeratorID = nil
	moved.IsEscalated = plan.Escalate

	if plan.Escalate {
		missed := now
		if p.ModerationDeadline != nil {
			missed = *p.ModerationDeadline
		}
		s.alert(ctx, fmt.Sprintf(
			"⚠️ Опрос #%d «%s» не проверен ни на одном из %d уровней модерации (срок %s UTC) и передан администраторам",
			p.ID, p.Title, plan.ToTier, common.FormatDateTime(missed, time.UTC),
		))
	} else if s.assigner != nil {
		if err := s.assigner.AssignModerator(ctx, &moved, plan.ExcludeModeratorIDs); err != nil {
			logger.WithError(err).Warn("Не удалось назначить модератора на новом уровне")
		}
	}

	return plan, nil
}

func (s *Service) alert(ctx context.Context, text string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, text); err != nil {
		log.WithError(err).Warn("Не удалось отправить алерт модераторам")
	}
}

// PublishScheduled публикует отложенный опрос.
// Повторная публикация возвращает common.ErrTransitionConflict.
func (s *Service) PublishScheduled(ctx context.Context, p *Poll, now time.Time) error {
	if err := s.store.PublishScheduled(ctx, p.ID, now); err != nil {
		return err
	}
	s.metrics.RecordTransition("PUBLISH_SCHEDULED")
	log.WithField("poll_id", p.ID).Info("Отложенный опрос опубликован")

	s.notify(ctx, p.AuthorID, SystemModeratorID, notifications.TypePollPublished, p.ID)
	return nil
}

// Submit отправляет черновик дальше: в SCHEDULED, если время публикации в будущем,
// иначе на проверку (уровень 1, срок now + ReviewTimeLimitHours).
// Модератора назначает вызывающий код.
func (s *Service) Submit(ctx context.Context, p *Poll, now time.Time, settings Settings) (PollStatus, error) {
	settings = settings.Normalize()

	if p.ScheduledAt != nil && p.ScheduledAt.After(now) {
		if err := s.store.Schedule(ctx, p.ID, now); err != nil {
			return p.Status, err
		}
		p.Status = StatusScheduled
		return p.Status, nil
	}

	deadline := now.Add(settings.ReviewWindow())
	if err := s.store.StartReview(ctx, p.ID, deadline, now); err != nil {
		return p.Status, err
	}
	p.Status = StatusPending
	p.CurrentModerationTier = 1
	p.ModerationDeadline = &deadline
	p.AssignedModeratorID = nil
	p.IsEscalated = false
	p.ReviewStartedAt = common.TimePtr(now)
	s.metrics.RecordTransition("SUBMIT")
	return p.Status, nil
}

// Assign записывает назначенного модератора.
func (s *Service) Assign(ctx context.Context, pollID, moderatorID int64) error {
	return s.store.AssignModerator(ctx, pollID, moderatorID, s.now())
}

// Decide применяет решение модератора: APPROVE, REJECT или REQUEST_CHANGES.
//
// APPROVE публикует опрос, когда в текущем цикле набралось RequiredApprovals
// одобрений от разных модераторов; до этого опрос передаётся следующему модератору.
// Эскалированный опрос публикуется первым же одобрением.
func (s *Service) Decide(
	ctx context.Context,
	pollID, moderatorID int64,
	action LogAction,
	comment *string,
	settings Settings,
) (*DecisionResult, error) {
	if !action.IsDecision() {
		return nil, fmt.Errorf("%w: %s", common.ErrInvalidDecision, action)
	}
	settings = settings.Normalize()
	now := s.now()

	res, err := s.store.ApplyDecision(ctx, DecisionInput{
		PollID:            pollID,
		ModeratorID:       moderatorID,
		Action:            action,
		Comment:           comment,
		Now:               now,
		RequiredApprovals: settings.RequiredApprovals,
		ReviewWindow:      settings.ReviewWindow(),
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(string(action))

	log.WithFields(log.Fields{
		"poll_id":      pollID,
		"moderator_id": moderatorID,
		"action":       action,
		"status":       res.Poll.Status,
		"approvals":    res.Approvals,
	}).Info("Решение модератора записано")

	switch res.Poll.Status {
	case StatusPublished:
		s.notify(ctx, res.Poll.AuthorID, moderatorID, notifications.TypePollApproved, pollID)
	case StatusRejected:
		s.notify(ctx, res.Poll.AuthorID, moderatorID, notifications.TypePollRejected, pollID)
	case StatusChangesRequested:
		s.notify(ctx, res.Poll.AuthorID, moderatorID, notifications.TypeChangesRequested, pollID)
	}

	if res.NeedsNextReviewer && s.assigner != nil {
		if err := s.assigner.AssignModerator(ctx, res.Poll, res.Approvers); err != nil {
			log.WithError(err).WithField("poll_id", pollID).Warn("Не удалось назначить следующего модератора")
		}
	}
	return res, nil
}

// Resubmit возвращает исправленный опрос на проверку. Может только автор.
func (s *Service) Resubmit(ctx context.Context, pollID, authorID int64, settings Settings) (*Poll, error) {
	settings = settings.Normalize()
	now := s.now()

	p, err := s.store.Resubmit(ctx, pollID, authorID, now.Add(settings.ReviewWindow()), now)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(string(ActionResubmitted))
	log.WithField("poll_id", pollID).Info("Опрос отправлен на повторную проверку")

	if s.assigner != nil {
		if err := s.assigner.AssignModerator(ctx, p, nil); err != nil {
			log.WithError(err).WithField("poll_id", pollID).Warn("Не удалось назначить модератора")
		}
	}
	return p, nil
}

// Logs возвращает журнал модерации опроса.
func (s *Service) Logs(ctx context.Context, pollID int64) ([]*Log, error) {
	return s.store.Logs(ctx, pollID)
}

func (s *Service) notify(ctx context.Context, recipientID, actorID int64, t notifications.Type, resourceID int64) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, recipientID, actorID, t, resourceID)
}

// IsConflict сообщает, что переход не применён, потому что опрос уже изменён.
func IsConflict(err error) bool {
	return errors.Is(err, common.ErrTransitionConflict)
}
