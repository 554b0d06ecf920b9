package notifications

import (
	"context"
	"fmt"

	"serotonyl.ru/poll-core/internal/db/postgres"
)

// Repository хранит уведомления в таблице notifications.
type Repository struct {
	db postgres.DB
}

func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// Insert сохраняет уведомление и заполняет ID и CreatedAt.
func (r *Repository) Insert(ctx context.Context, n *Notification) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO notifications (recipient_id, actor_id, type, resource_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, n.RecipientID, n.ActorID, string(n.Type), n.ResourceID).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения уведомления: %w", err)
	}
	return nil
}

// ListForUser возвращает последние уведомления пользователя.
func (r *Repository) ListForUser(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, recipient_id, actor_id, type, resource_id, is_read, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения уведомлений: %w", err)
	}
	defer rows.Close()

	var list []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.ActorID, &n.Type, &n.ResourceID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения уведомления: %w", err)
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// MarkAllRead отмечает все уведомления пользователя прочитанными.
func (r *Repository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE recipient_id = $1 AND is_read = FALSE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("ошибка отметки уведомлений: %w", err)
	}
	return tag.RowsAffected(), nil
}
