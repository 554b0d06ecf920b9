package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/poll-core/internal/db/postgres"
)

// SettingsRepository читает настройки из system_config (одна строка, id = 1).
// Таблицу меняет административный интерфейс, здесь она только читается.
type SettingsRepository struct {
	db postgres.DB
}

// NewSettingsRepository создаёт репозиторий настроек.
func NewSettingsRepository(db postgres.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Load возвращает текущие настройки.
// Если строки нет или поле NULL, используется значение по умолчанию.
func (r *SettingsRepository) Load(ctx context.Context) (Settings, error) {
	var (
		reviewHours, groupSize, requiredApprovals, maxTier *int
		penalty                                            *int64
		voteW, likeW, commentW, boost                      *float64
	)
	err := r.db.QueryRow(ctx, `
		SELECT review_time_limit_hours, penalty_points_per_miss, moderator_group_size,
		       required_approvals, vote_weight, like_weight, comment_weight,
		       paid_poll_boost_factor, max_tier
		FROM system_config
		WHERE id = 1
	`).Scan(&reviewHours, &penalty, &groupSize, &requiredApprovals, &voteW, &likeW, &commentW, &boost, &maxTier)
	if errors.Is(err, pgx.ErrNoRows) {
		log.Debug("system_config пуст, используем настройки по умолчанию")
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("ошибка загрузки system_config: %w", err)
	}

	s := DefaultSettings()
	if reviewHours != nil {
		s.ReviewTimeLimitHours = *reviewHours
	}
	if penalty != nil {
		s.PenaltyPointsPerMiss = *penalty
	}
	if groupSize != nil {
		s.ModeratorGroupSize = *groupSize
	}
	if requiredApprovals != nil {
		s.RequiredApprovals = *requiredApprovals
	}
	if voteW != nil {
		s.VoteWeight = *voteW
	}
	if likeW != nil {
		s.LikeWeight = *likeW
	}
	if commentW != nil {
		s.CommentWeight = *commentW
	}
	if boost != nil {
		s.PaidPollBoostFactor = *boost
	}
	if maxTier != nil {
		s.MaxTier = *maxTier
	}
	return s.Normalize(), nil
}
