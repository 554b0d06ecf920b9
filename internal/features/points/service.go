// Package points: service.go содержит правила начисления очков:
// дневной лимит на создание опросов, однократный бонус за тренд,
// лидерборд и уровни.
package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"serotonyl.ru/poll-core/internal/common"
	"serotonyl.ru/poll-core/internal/features/users"
	"serotonyl.ru/poll-core/internal/metrics"
)

const (
	DefaultLeaderboardLimit = 50
	MaxLeaderboardLimit     = 100
	DefaultHistoryLimit     = 20

	// Запрос лидерборда не зависит от отмены контекста первого вызвавшего
	leaderboardFetchTimeout = 10 * time.Second
)

// UserDirectory: чтение пользователей для лидерборда и рангов.
// GetByID возвращает nil, nil, если пользователя нет.
type UserDirectory interface {
	GetByID(ctx context.Context, userID int64) (*users.User, error)
	Leaderboard(ctx context.Context, limit int) ([]users.RankedUser, error)
}

// LeaderboardCache: кэш готового лидерборда. Может быть nil.
// Get отдаёт поколение кэша; после промаха Set пишет список под этим же поколением.
type LeaderboardCache interface {
	Get(ctx context.Context, limit int) (list []users.RankedUser, gen int64, ok bool, err error)
	Set(ctx context.Context, gen int64, limit int, list []users.RankedUser) error
	Invalidate(ctx context.Context) error
}

// Rules: настраиваемые правила начисления.
type Rules struct {
	DailyCreatePollLimit int            // Сколько CREATE_POLL в сутки приносят очки
	Location             *time.Location // Часовой пояс, в котором считаются сутки
}

// Service: журнал очков.
type Service struct {
	store   Store
	dir     UserDirectory
	cache   LeaderboardCache
	rules   Rules
	metrics *metrics.Metrics

	locks *userLocks
	group singleflight.Group
	now   func() time.Time
}

// NewService создаёт сервис очков.
func NewService(store Store, dir UserDirectory, cache LeaderboardCache, rules Rules, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Nop()
	}
	if rules.Location == nil {
		rules.Location = time.UTC
	}
	return &Service{
		store:   store,
		dir:     dir,
		cache:   cache,
		rules:   rules,
		metrics: m,
		locks:   newUserLocks(),
		now:     time.Now,
	}
}

// Award начисляет (или списывает при отрицательном points) очки пользователю.
//
// Параметры:
//   - userID: кому начислить
//   - points: сколько, со знаком; ноль не допускается
//   - action: тип действия
//   - targetID: объект действия (опрос, комментарий), может быть nil
//   - metadata: контекст для истории
//
// Нарушение правил (лимит, повторный бонус, нет пользователя) возвращает
// AwardResult{Success: false} и nil-ошибку. Ошибка возвращается только при сбое БД.
func (s *Service) Award(
	ctx context.Context,
	userID int64,
	points int64,
	action ActionType,
	targetID *int64,
	metadata map[string]any,
) (AwardResult, error) {
	if !action.Valid() {
		return AwardResult{}, fmt.Errorf("%w: %q", common.ErrInvalidAction, action)
	}
	if points == 0 {
		return AwardResult{}, common.ErrZeroPoints
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		s.metrics.RecordAward(string(action), "error")
		return AwardResult{}, fmt.Errorf("ожидание блокировки пользователя %d: %w", userID, err)
	}
	defer unlock()

	now := s.now()
	var result AwardResult

	err = s.store.RunInUserTx(ctx, userID, func(ctx context.Context, tx LedgerTx) error {
		switch action {
		case ActionCreatePoll:
			since := common.StartOfDay(now, s.rules.Location)
			n, err := tx.CountActionsSince(ctx, userID, action, since)
			if err != nil {
				return err
			}
			if n >= s.rules.DailyCreatePollLimit {
				result = rejected(MsgDailyLimit)
				return nil
			}
		case ActionTrendingBonus:
			if targetID == nil {
				result = rejected(MsgTargetRequired)
				return nil
			}
			exists, err := tx.HasTransaction(ctx, userID, action, *targetID)
			if err != nil {
				return err
			}
			if exists {
				result = rejected(MsgAlreadyAwarded)
				return nil
			}
		}

		t := &Transaction{
			UserID:     userID,
			TargetID:   targetID,
			ActionType: action,
			Points:     points,
			Metadata:   metadata,
			CreatedAt:  now,
		}
		if err := tx.Insert(ctx, t); err != nil {
			return err
		}
		newPoints, err := tx.AddPoints(ctx, userID, points)
		if err != nil {
			return err
		}

		result = AwardResult{
			Success:   true,
			NewPoints: common.Int64Ptr(newPoints),
			Message:   common.FormatPointsDelta(points),
		}
		return nil
	})

	if errors.Is(err, common.ErrUserNotFound) {
		s.metrics.RecordAward(string(action), "rejected")
		return rejected(MsgUserNotFound), nil
	}
	if err != nil {
		s.metrics.RecordAward(string(action), "error")
		return AwardResult{}, fmt.Errorf("начисление %s пользователю %d: %w", action, userID, err)
	}

	if !result.Success {
		s.metrics.RecordAward(string(action), "rejected")
		log.WithFields(log.Fields{
			"user_id": userID,
			"action":  action,
			"reason":  result.Message,
		}).Debug("Начисление отклонено")
		return result, nil
	}

	s.metrics.RecordAward(string(action), "ok")
	s.InvalidateLeaderboard(ctx)

	log.WithFields(log.Fields{
		"user_id":    userID,
		"action":     action,
		"points":     points,
		"new_points": *result.NewPoints,
	}).Info("Очки начислены")

	return result, nil
}

// InvalidateLeaderboard сбрасывает кэш лидерборда. Ошибка кэша только логируется.
func (s *Service) InvalidateLeaderboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		log.WithError(err).Warn("Не удалось сбросить кэш лидерборда")
	}
}

// GetLeaderboard возвращает топ пользователей по очкам.
// limit ≤ 0 означает 50, больше 100 обрезается до 100.
// При равных очках выше тот, у кого меньше id.
func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]users.RankedUser, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}

	var (
		gen       int64
		cacheable bool
	)
	if s.cache != nil {
		list, g, ok, err := s.cache.Get(ctx, limit)
		switch {
		case err != nil:
			log.WithError(err).Warn("Кэш лидерборда недоступен, читаем из БД")
		case ok:
			return list, nil
		default:
			gen, cacheable = g, true
		}
	}

	// Одновременные промахи одного поколения идут в БД одним запросом.
	// Запрос выполняется в отвязанном контексте: отмена одного вызова
	// не должна ронять остальных ожидающих.
	key := fmt.Sprintf("%d:%d", gen, limit)
	if !cacheable {
		key = fmt.Sprintf("nocache:%d", limit)
	}
	ch := s.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaderboardFetchTimeout)
		defer cancel()

		list, err := s.dir.Leaderboard(fetchCtx, limit)
		if err != nil {
			return nil, err
		}
		if cacheable {
			if err := s.cache.Set(fetchCtx, gen, limit, list); err != nil {
				log.WithError(err).Warn("Не удалось записать лидерборд в кэш")
			}
		}
		return list, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("ошибка получения лидерборда: %w", res.Err)
		}
		return res.Val.([]users.RankedUser), nil
	}
}

// GetUserRank возвращает очки, уровень и звание пользователя.
// Если пользователя нет: nil, nil.
func (s *Service) GetUserRank(ctx context.Context, userID int64) (*UserRank, error) {
	u, err := s.dir.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, nil
	}
	rank := RankFor(u.Points)
	return &rank, nil
}

// Reconcile сверяет баланс пользователя с суммой его журнала.
// Возвращает обе величины; расхождение логируется как ошибка.
func (s *Service) Reconcile(ctx context.Context, userID int64) (ledgerSum, balance int64, err error) {
	ledgerSum, balance, err = s.store.LedgerSum(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	if ledgerSum != balance {
		log.WithFields(log.Fields{
			"user_id":    userID,
			"ledger_sum": ledgerSum,
			"balance":    balance,
		}).Error("Баланс расходится с журналом очков")
	}
	return ledgerSum, balance, nil
}

// History возвращает последние записи журнала пользователя.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]*Transaction, error) {
	if limit <= 0 || limit > MaxLeaderboardLimit {
		limit = DefaultHistoryLimit
	}
	return s.store.History(ctx, userID, limit)
}
