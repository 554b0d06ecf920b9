// Package moderation: состояние модерации опросов и журнал решений.
// models.go описывает статусы, опрос (поля модерации), записи журнала и настройки.
package moderation

import "time"

// PollStatus: статус опроса.
type PollStatus string

const (
	StatusDraft            PollStatus = "DRAFT"
	StatusScheduled        PollStatus = "SCHEDULED"
	StatusPending          PollStatus = "PENDING"
	StatusPublished        PollStatus = "PUBLISHED"
	StatusRejected         PollStatus = "REJECTED"
	StatusChangesRequested PollStatus = "CHANGES_REQUESTED"
)

// Poll: опрос с полями модерации и счётчиками активности.
// Остальные поля опроса (варианты, картинки) живут в CRUD-слое.
type Poll struct {
	ID          int64      `db:"id"`
	AuthorID    int64      `db:"author_id"`
	Title       string     `db:"title"`
	Status      PollStatus `db:"status"`
	IsPaid      bool       `db:"is_paid"`
	ScheduledAt *time.Time `db:"scheduled_at"`
	PublishedAt *time.Time `db:"published_at"`

	CurrentModerationTier int        `db:"current_moderation_tier"` // 1..MaxTier
	AssignedModeratorID   *int64     `db:"assigned_moderator_id"`   // NULL после эскалации
	ModerationDeadline    *time.Time `db:"moderation_deadline"`     // NULL после эскалации
	IsEscalated           bool       `db:"is_escalated"`
	ReviewStartedAt       *time.Time `db:"review_started_at"` // Начало текущего цикла проверки

	VotesCount    int64 `db:"votes_count"`
	LikesCount    int64 `db:"likes_count"`
	CommentsCount int64 `db:"comments_count"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// LogAction: действие в журнале модерации.
type LogAction string

const (
	ActionApprove        LogAction = "APPROVE"
	ActionReject         LogAction = "REJECT"
	ActionRequestChanges LogAction = "REQUEST_CHANGES"
	ActionResubmitted    LogAction = "RESUBMITTED"
	ActionPushNextTier   LogAction = "PUSH_NEXT_TIER"
	ActionEscalated      LogAction = "ESCALATED"
)

// IsDecision сообщает, является ли действие решением модератора.
func (a LogAction) IsDecision() bool {
	return a == ActionApprove || a == ActionReject || a == ActionRequestChanges
}

// SystemModeratorID: moderator_id для автоматических действий планировщика.
const SystemModeratorID int64 = 0

// Log: запись журнала модерации. Только добавляется, не меняется.
type Log struct {
	ID          int64     `db:"id"`
	PollID      int64     `db:"poll_id"`
	ModeratorID int64     `db:"moderator_id"` // 0: система
	Action      LogAction `db:"action"`
	Comment     *string   `db:"comment"`
	CreatedAt   time.Time `db:"created_at"`
}

// Значения настроек по умолчанию (если строки system_config нет или поле NULL)
const (
	DefaultReviewTimeLimitHours = 24
	DefaultPenaltyPointsPerMiss = 10
	DefaultModeratorGroupSize   = 3
	DefaultRequiredApprovals    = 1
	DefaultVoteWeight           = 1.0
	DefaultLikeWeight           = 2.0
	DefaultCommentWeight        = 3.0
	DefaultPaidPollBoostFactor  = 1.5
	DefaultMaxTier              = 3
)

// Settings: настройки модерации и трендов.
// Загружаются на каждом тике и передаются явно, глобального состояния нет.
type Settings struct {
	ReviewTimeLimitHours int     `json:"reviewTimeLimitHours"`
	PenaltyPointsPerMiss int64   `json:"penaltyPointsPerMiss"`
	ModeratorGroupSize   int     `json:"moderatorGroupSize"`
	RequiredApprovals    int     `json:"requiredApprovals"`
	VoteWeight           float64 `json:"voteWeight"`
	LikeWeight           float64 `json:"likeWeight"`
	CommentWeight        float64 `json:"commentWeight"`
	PaidPollBoostFactor  float64 `json:"paidPollBoostFactor"`
	MaxTier              int     `json:"maxTier"`
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		ReviewTimeLimitHours: DefaultReviewTimeLimitHours,
		PenaltyPointsPerMiss: DefaultPenaltyPointsPerMiss,
		ModeratorGroupSize:   DefaultModeratorGroupSize,
		RequiredApprovals:    DefaultRequiredApprovals,
		VoteWeight:           DefaultVoteWeight,
		LikeWeight:           DefaultLikeWeight,
		CommentWeight:        DefaultCommentWeight,
		PaidPollBoostFactor:  DefaultPaidPollBoostFactor,
		MaxTier:              DefaultMaxTier,
	}
}

// Normalize заменяет невалидные значения на значения по умолчанию.
// Одобрений не может требоваться больше, чем модераторов в группе.
func (s Settings) Normalize() Settings {
	d := DefaultSettings()
	if s.ReviewTimeLimitHours <= 0 {
		s.ReviewTimeLimitHours = d.ReviewTimeLimitHours
	}
	if s.PenaltyPointsPerMiss < 0 {
		s.PenaltyPointsPerMiss = d.PenaltyPointsPerMiss
	}
	if s.ModeratorGroupSize <= 0 {
		s.ModeratorGroupSize = d.ModeratorGroupSize
	}
	if s.RequiredApprovals <= 0 {
		s.RequiredApprovals = d.RequiredApprovals
	}
	if s.RequiredApprovals > s.ModeratorGroupSize {
		s.RequiredApprovals = s.ModeratorGroupSize
	}
	if s.VoteWeight < 0 {
		s.VoteWeight = d.VoteWeight
	}
	if s.LikeWeight < 0 {
		s.LikeWeight = d.LikeWeight
	}
	if s.CommentWeight < 0 {
		s.CommentWeight = d.CommentWeight
	}
	if s.PaidPollBoostFactor < 1 {
		s.PaidPollBoostFactor = d.PaidPollBoostFactor
	}
	if s.MaxTier <= 0 {
		s.MaxTier = d.MaxTier
	}
	return s
}

// ReviewWindow: время на проверку на одном уровне.
func (s Settings) ReviewWindow() time.Duration {
	return time.Duration(s.ReviewTimeLimitHours) * time.Hour
}
