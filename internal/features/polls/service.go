package polls

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/poll-core/internal/common"
	"serotonyl.ru/poll-core/internal/features/moderation"
	"serotonyl.ru/poll-core/internal/features/notifications"
	"serotonyl.ru/poll-core/internal/features/points"
)

// Moderation: то, что нужно от модерации. Реализуется *moderation.Service.
type Moderation interface {
	GetPoll(ctx context.Context, pollID int64) (*moderation.Poll, error)
	Submit(ctx context.Context, p *moderation.Poll, now time.Time, s moderation.Settings) (moderation.PollStatus, error)
	Assign(ctx context.Context, pollID, moderatorID int64) error
}

// ModeratorPicker выбирает наименее загруженного модератора. Реализуется *users.Service.
type ModeratorPicker interface {
	PickModerator(ctx context.Context, excludeIDs []int64) (int64, bool, error)
}

// SettingsLoader загружает настройки модерации и трендов.
type SettingsLoader interface {
	Load(ctx context.Context) (moderation.Settings, error)
}

// Awarder начисляет очки. Реализуется *points.Service.
type Awarder interface {
	Award(ctx context.Context, userID, pts int64, action points.ActionType, targetID *int64, metadata map[string]any) (points.AwardResult, error)
}

// Notifier отправляет уведомления. Реализуется *notifications.Service.
type Notifier interface {
	Notify(ctx context.Context, recipientID, actorID int64, t notifications.Type, resourceID int64)
}

// Service обрабатывает события опросов.
type Service struct {
	moderation Moderation
	picker     ModeratorPicker
	settings   SettingsLoader
	awarder    Awarder
	notifier   Notifier
	rewards    Rewards

	now func() time.Time
}

// NewService создаёт сервис событий опросов.
func NewService(
	mod Moderation,
	picker ModeratorPicker,
	settings SettingsLoader,
	awarder Awarder,
	notifier Notifier,
	rewards Rewards,
) *Service {
	return &Service{
		moderation: mod,
		picker:     picker,
		settings:   settings,
		awarder:    awarder,
		notifier:   notifier,
		rewards:    rewards,
		now:        time.Now,
	}
}

// CreatedResult: итог обработки нового опроса.
type CreatedResult struct {
	Status moderation.PollStatus
	Award  points.AwardResult
}

// OnPollCreated отправляет новый опрос на проверку (или в отложенную публикацию)
// и начисляет автору CREATE_POLL. Отказ по дневному лимиту не мешает созданию опроса.
func (s *Service) OnPollCreated(ctx context.Context, pollID int64) (*CreatedResult, error) {
	p, err := s.moderation.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	status, err := s.moderation.Submit(ctx, p, s.now(), settings)
	if err != nil {
		return nil, fmt.Errorf("отправка опроса %d: %w", pollID, err)
	}

	if status == moderation.StatusPending {
		if err := s.AssignModerator(ctx, p, nil); err != nil {
			log.WithError(err).WithField("poll_id", pollID).Warn("Не удалось назначить модератора")
		}
	}

	res := &CreatedResult{Status: status}
	res.Award, err = s.awarder.Award(ctx, p.AuthorID, s.rewards.CreatePoll, points.ActionCreatePoll,
		common.Int64Ptr(p.ID), map[string]any{"pollId": p.ID})
	if err != nil {
		return res, err
	}
	return res, nil
}

// AssignModerator выбирает модератора для опроса и записывает назначение.
// Автор опроса и excludeIDs не рассматриваются. Если свободных модераторов нет,
// опрос остаётся без назначения: SLA всё равно сработает по сроку.
func (s *Service) AssignModerator(ctx context.Context, p *moderation.Poll, excludeIDs []int64) error {
	exclude := make([]int64, 0, len(excludeIDs)+1)
	exclude = append(exclude, p.AuthorID)
	exclude = append(exclude, excludeIDs...)

	moderatorID, found, err := s.picker.PickModerator(ctx, exclude)
	if err != nil {
		return err
	}
	if !found {
		log.WithField("poll_id", p.ID).Warn("Нет свободных модераторов")
		return nil
	}

	if err := s.moderation.Assign(ctx, p.ID, moderatorID); err != nil {
		return fmt.Errorf("назначение модератора %d на опрос %d: %w", moderatorID, p.ID, err)
	}
	p.AssignedModeratorID = common.Int64Ptr(moderatorID)

	log.WithFields(log.Fields{
		"poll_id":      p.ID,
		"moderator_id": moderatorID,
		"tier":         p.CurrentModerationTier,
	}).Info("Модератор назначен")

	s.notifier.Notify(ctx, moderatorID, moderation.SystemModeratorID, notifications.TypeModerationAssigned, p.ID)
	return nil
}

// OnVote начисляет очки проголосовавшему, уведомляет автора и проверяет тренд.
func (s *Service) OnVote(ctx context.Context, pollID, voterID int64) (points.AwardResult, error) {
	p, err := s.moderation.GetPoll(ctx, pollID)
	if err != nil {
		return points.AwardResult{}, err
	}

	res, err := s.awarder.Award(ctx, voterID, s.rewards.Vote, points.ActionVote,
		common.Int64Ptr(pollID), map[string]any{"pollId": pollID})

	s.notifier.Notify(ctx, p.AuthorID, voterID, notifications.TypeVote, pollID)
	s.checkTrending(ctx, p)
	return res, err
}

// OnPollLiked уведомляет автора и проверяет тренд.
func (s *Service) OnPollLiked(ctx context.Context, pollID, likerID int64) error {
	p, err := s.moderation.GetPoll(ctx, pollID)
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, p.AuthorID, likerID, notifications.TypeLike, pollID)
	s.checkTrending(ctx, p)
	return nil
}

// OnCommentCreated уведомляет автора опроса и проверяет тренд.
func (s *Service) OnCommentCreated(ctx context.Context, pollID, commentID, authorID int64) error {
	p, err := s.moderation.GetPoll(ctx, pollID)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"poll_id": pollID, "comment_id": commentID}).Debug("Новый комментарий")
	s.notifier.Notify(ctx, p.AuthorID, authorID, notifications.TypeComment, pollID)
	s.checkTrending(ctx, p)
	return nil
}

// checkTrending начисляет автору бонус, если опрос набрал порог активности.
// Повторно бонус не начислится: журнал очков отклонит его как "Already awarded".
func (s *Service) checkTrending(ctx context.Context, p *moderation.Poll) {
	if p.Status != moderation.StatusPublished {
		return
	}

	settings, err := s.settings.Load(ctx)
	if err != nil {
		log.WithError(err).Warn("Не удалось загрузить настройки для проверки тренда")
		return
	}

	score := TrendingScore(p, settings)
	if score < s.rewards.TrendingThreshold {
		return
	}

	res, err := s.awarder.Award(ctx, p.AuthorID, s.rewards.TrendingBonus, points.ActionTrendingBonus,
		common.Int64Ptr(p.ID), map[string]any{"pollId": p.ID, "score": score})
	if err != nil {
		log.WithError(err).WithField("poll_id", p.ID).Error("Не удалось начислить бонус за тренд")
		return
	}
	if res.Success {
		log.WithFields(log.Fields{"poll_id": p.ID, "score": score}).Info("Опрос в трендах")
		s.notifier.Notify(ctx, p.AuthorID, moderation.SystemModeratorID, notifications.TypeTrending, p.ID)
	}
}

// OnCommentLiked начисляет очки автору комментария. За лайк своего комментария очков нет.
func (s *Service) OnCommentLiked(ctx context.Context, commentID, commentAuthorID, likerID int64) (points.AwardResult, error) {
	if commentAuthorID == likerID {
		return points.AwardResult{Success: false, Message: "Own comment"}, nil
	}
	res, err := s.awarder.Award(ctx, commentAuthorID, s.rewards.LikeComment, points.ActionLikeComment,
		common.Int64Ptr(commentID), map[string]any{"commentId": commentID, "likerId": likerID})
	s.notifier.Notify(ctx, commentAuthorID, likerID, notifications.TypeCommentLike, commentID)
	return res, err
}

// OnCommentUnliked отзывает очки, начисленные за лайк (CLAWBACK на ту же сумму).
func (s *Service) OnCommentUnliked(ctx context.Context, commentID, commentAuthorID, likerID int64) (points.AwardResult, error) {
	if commentAuthorID == likerID {
		return points.AwardResult{Success: false, Message: "Own comment"}, nil
	}
	return s.awarder.Award(ctx, commentAuthorID, -s.rewards.LikeComment, points.ActionClawback,
		common.Int64Ptr(commentID), map[string]any{"commentId": commentID, "likerId": likerID, "reverts": string(points.ActionLikeComment)})
}

// OnFollow начисляет очки пользователю, на которого подписались.
func (s *Service) OnFollow(ctx context.Context, followerID, followeeID int64) (points.AwardResult, error) {
	res, err := s.awarder.Award(ctx, followeeID, s.rewards.Follow, points.ActionFollow,
		common.Int64Ptr(followerID), map[string]any{"followerId": followerID})
	s.notifier.Notify(ctx, followeeID, followerID, notifications.TypeFollow, followerID)
	return res, err
}

// OnSurveyCompleted начисляет очки за прохождение многовопросного опроса.
func (s *Service) OnSurveyCompleted(ctx context.Context, pollID, userID int64) (points.AwardResult, error) {
	return s.awarder.Award(ctx, userID, s.rewards.SurveyComplete, points.ActionSurveyComplete,
		common.Int64Ptr(pollID), map[string]any{"pollId": pollID})
}

// OnSwipeSession начисляет бонус за серию свайпов в карточном опросе.
func (s *Service) OnSwipeSession(ctx context.Context, pollID, userID int64, swipes int) (points.AwardResult, error) {
	if swipes < s.rewards.MinSwipes {
		return points.AwardResult{Success: false, Message: fmt.Sprintf("Swipe %d cards to earn a bonus", s.rewards.MinSwipes)}, nil
	}
	return s.awarder.Award(ctx, userID, s.rewards.SwipeBonus, points.ActionSwipeBonus,
		common.Int64Ptr(pollID), map[string]any{"pollId": pollID, "swipes": swipes})
}
