package notifications

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Channel: канал Redis, который слушает real-time шлюз.
const Channel = "notifications"

// Store: хранилище уведомлений. Реализуется *Repository.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID int64, limit int) ([]*Notification, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}

// Publisher публикует событие в канал (Redis). Может быть nil.
type Publisher interface {
	PublishJSON(ctx context.Context, channel string, v any) error
}

// Service отправляет уведомления. Доставка не влияет на основное действие:
// ошибки логируются и не возвращаются.
type Service struct {
	store Store
	pub   Publisher
}

func NewService(store Store, pub Publisher) *Service {
	return &Service{store: store, pub: pub}
}

// Notify сохраняет уведомление и публикует его для real-time доставки.
// Уведомления самому себе не отправляются.
func (s *Service) Notify(ctx context.Context, recipientID, actorID int64, t Type, resourceID int64) {
	if recipientID == actorID || recipientID == 0 {
		return
	}

	n := &Notification{
		RecipientID: recipientID,
		ActorID:     actorID,
		Type:        t,
		ResourceID:  resourceID,
	}

	logger := log.WithFields(log.Fields{
		"recipient_id": recipientID,
		"type":         t,
		"resource_id":  resourceID,
	})

	if err := s.store.Insert(ctx, n); err != nil {
		logger.WithError(err).Warn("Не удалось сохранить уведомление")
		return
	}

	if s.pub != nil {
		if err := s.pub.PublishJSON(ctx, Channel, n); err != nil {
			logger.WithError(err).Warn("Не удалось опубликовать уведомление")
		}
	}
}

// List возвращает последние уведомления пользователя.
func (s *Service) List(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListForUser(ctx, userID, limit)
}

// MarkAllRead отмечает все уведомления прочитанными.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.store.MarkAllRead(ctx, userID)
}
