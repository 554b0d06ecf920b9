// Package points ведёт журнал начислений очков и денормализованный баланс пользователя.
// models.go описывает типы действий, записи журнала и результаты начисления.
package points

import "time"

// ActionType: за что начислены (или списаны) очки.
// Хранится в БД как есть; для отображения используется Label().
type ActionType string

const (
	ActionVote              ActionType = "VOTE"               // Голос в опросе
	ActionCreatePoll        ActionType = "CREATE_POLL"        // Создание опроса (не более N в день)
	ActionFollow            ActionType = "FOLLOW"             // На пользователя подписались
	ActionLikeComment       ActionType = "LIKE_COMMENT"       // Лайк комментария автора
	ActionTrendingBonus     ActionType = "TRENDING_BONUS"     // Опрос попал в тренды (один раз на опрос)
	ActionSurveyComplete    ActionType = "SURVEY_COMPLETE"    // Пройден многовопросный опрос
	ActionSwipeBonus        ActionType = "SWIPE_BONUS"        // Серия свайпов в карточном опросе
	ActionClawback          ActionType = "CLAWBACK"           // Отзыв ранее начисленных очков
	ActionModerationPenalty ActionType = "MODERATION_PENALTY" // Штраф модератору за просроченный SLA
)

var actionLabels = map[ActionType]string{
	ActionVote:              "Vote cast",
	ActionCreatePoll:        "Poll created",
	ActionFollow:            "New follower",
	ActionLikeComment:       "Comment liked",
	ActionTrendingBonus:     "Trending poll bonus",
	ActionSurveyComplete:    "Survey completed",
	ActionSwipeBonus:        "Swipe streak bonus",
	ActionClawback:          "Points reverted",
	ActionModerationPenalty: "Missed review deadline",
}

// Valid сообщает, известен ли тип действия.
func (a ActionType) Valid() bool {
	_, ok := actionLabels[a]
	return ok
}

// Label возвращает подпись для истории начислений.
func (a ActionType) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// Transaction: одна запись журнала. После вставки никогда не меняется и не удаляется:
// исправления делаются новой записью с отрицательным количеством очков.
type Transaction struct {
	ID         int64          `db:"id"`
	UserID     int64          `db:"user_id"`     // Кому начислено
	TargetID   *int64         `db:"target_id"`   // Опрос/пользователь/комментарий, к которому относится действие
	ActionType ActionType     `db:"action_type"` // Тип действия
	Points     int64          `db:"points"`      // Со знаком: отрицательное: штраф или отзыв
	Metadata   map[string]any `db:"metadata"`    // Контекст для UI (JSONB)
	CreatedAt  time.Time      `db:"created_at"`
}

// AwardResult описывает итог начисления. Нарушение правил даёт Success=false с сообщением,
// а не ошибка.
type AwardResult struct {
	Success   bool   `json:"success"`
	NewPoints *int64 `json:"newPoints,omitempty"`
	Message   string `json:"message"`
}

// UserRank: уровень и звание пользователя.
type UserRank struct {
	Points int64  `json:"points"`
	Level  int    `json:"level"`
	Title  string `json:"title"`
}

// Сообщения отказа
const (
	MsgDailyLimit     = "Daily limit reached"
	MsgAlreadyAwarded = "Already awarded"
	MsgUserNotFound   = "User not found"
	MsgTargetRequired = "Target required"
)

func rejected(msg string) AwardResult {
	return AwardResult{Success: false, Message: msg}
}
