// Package notifications: уведомления пользователей и алерты модераторам.
package notifications

import "time"

// Type: тип уведомления.
type Type string

const (
	TypeVote               Type = "VOTE"
	TypeLike               Type = "LIKE"
	TypeComment            Type = "COMMENT"
	TypeCommentLike        Type = "COMMENT_LIKE"
	TypeFollow             Type = "FOLLOW"
	TypeTrending           Type = "TRENDING"
	TypeModerationAssigned Type = "MODERATION_ASSIGNED"
	TypePollApproved       Type = "POLL_APPROVED"
	TypePollRejected       Type = "POLL_REJECTED"
	TypeChangesRequested   Type = "CHANGES_REQUESTED"
	TypePollPublished      Type = "POLL_PUBLISHED"
)

// Notification: уведомление пользователю.
type Notification struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipientId"`
	ActorID     int64     `json:"actorId"` // 0: система
	Type        Type      `json:"type"`
	ResourceID  int64     `json:"resourceId"`
	IsRead      bool      `json:"isRead"`
	CreatedAt   time.Time `json:"createdAt"`
}
