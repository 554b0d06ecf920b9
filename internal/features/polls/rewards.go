// Package polls обрабатывает побочные эффекты действий с опросами: очки, уведомления,
// тренды и назначение модераторов. Сами голоса, лайки и комментарии
// сохраняет CRUD-слой, сюда приходят уже состоявшиеся события.
package polls

import (
	"serotonyl.ru/poll-core/internal/config"
	"serotonyl.ru/poll-core/internal/features/moderation"
)

// Сколько свайпов за сессию нужно для бонуса
const minSwipesForBonus = 10

// Rewards: размеры начислений и порог тренда.
type Rewards struct {
	Vote              int64
	CreatePoll        int64
	Follow            int64
	LikeComment       int64
	TrendingBonus     int64
	SurveyComplete    int64
	SwipeBonus        int64
	TrendingThreshold float64
	MinSwipes         int
}

// RewardsFromConfig берёт размеры начислений из конфигурации.
func RewardsFromConfig(cfg *config.Config) Rewards {
	return Rewards{
		Vote:              cfg.PointsVote,
		CreatePoll:        cfg.PointsCreatePoll,
		Follow:            cfg.PointsFollow,
		LikeComment:       cfg.PointsLikeComment,
		TrendingBonus:     cfg.PointsTrendingBonus,
		SurveyComplete:    cfg.PointsSurveyComplete,
		SwipeBonus:        cfg.PointsSwipeBonus,
		TrendingThreshold: cfg.TrendingThreshold,
		MinSwipes:         minSwipesForBonus,
	}
}

// TrendingScore: взвешенная активность опроса.
// Платные опросы получают множитель PaidPollBoostFactor.
//
// Пример (веса по умолчанию 1/2/3, буст 1.5):
//
//	40 голосов, 10 лайков, 5 комментариев → 40 + 20 + 15 = 75
//	тот же опрос платный                   → 75 * 1.5 = 112.5
func TrendingScore(p *moderation.Poll, s moderation.Settings) float64 {
	score := float64(p.VotesCount)*s.VoteWeight +
		float64(p.LikesCount)*s.LikeWeight +
		float64(p.CommentsCount)*s.CommentWeight
	if p.IsPaid {
		score *= s.PaidPollBoostFactor
	}
	return score
}
