// Package users: repository.go отвечает за все операции с таблицей users в БД.
// Каждая функция выполняет один SQL-запрос и возвращает результат или ошибку.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/poll-core/internal/common"
	"serotonyl.ru/poll-core/internal/db/postgres"
)

type Repository struct {
	db postgres.DB
}

func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// Create добавляет нового пользователя или обновляет профиль существующего.
// На конфликте по username обновляет только аватар (баланс и флаг модератора не трогаем).
func (r *Repository) Create(ctx context.Context, u *User) (int64, error) {
	query := `
		INSERT INTO users (username, avatar, points, is_moderator)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (username) DO UPDATE
		SET avatar = EXCLUDED.avatar,
		    updated_at = NOW()
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRow(ctx, query, u.Username, u.Avatar, u.IsModerator).Scan(&id); err != nil {
		return 0, fmt.Errorf("ошибка создания/обновления пользователя: %w", err)
	}
	return id, nil
}

// GetByID: если не найден, возвращает common.ErrUserNotFound
func (r *Repository) GetByID(ctx context.Context, userID int64) (*User, error) {
	query := `
		SELECT id, username, avatar, points, is_moderator, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var u User
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&u.ID, &u.Username, &u.Avatar, &u.Points, &u.IsModerator,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user_id=%d: %w", userID, common.ErrUserNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения пользователя (user_id=%d): %w", userID, err)
	}
	return &u, nil
}

// Leaderboard возвращает топ пользователей по очкам.
// При равенстве очков порядок по id: результат детерминирован для пагинации.
func (r *Repository) Leaderboard(ctx context.Context, limit int) ([]RankedUser, error) {
	query := `
		SELECT id, username, avatar, points
		FROM users
		ORDER BY points DESC, id ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса лидерборда: %w", err)
	}
	defer rows.Close()

	out := make([]RankedUser, 0, limit)
	for rows.Next() {
		var ru RankedUser
		if err := rows.Scan(&ru.ID, &ru.Username, &ru.Avatar, &ru.Points); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		out = append(out, ru)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

// PickModerator выбирает модератора с наименьшим числом опросов на рецензии.
// excludeIDs: кого нельзя назначать (автор, предыдущий рецензент).
// Возвращает found=false, если подходящих модераторов нет.
func (r *Repository) PickModerator(ctx context.Context, excludeIDs []int64) (int64, bool, error) {
	if excludeIDs == nil {
		// nil-слайс уходит в БД как NULL, и ANY(NULL) отфильтрует всех
		excludeIDs = []int64{}
	}
	query := `
		SELECT u.id
		FROM users u
		LEFT JOIN polls p ON p.assigned_moderator_id = u.id AND p.status = 'PENDING'
		WHERE u.is_moderator = TRUE AND NOT (u.id = ANY($1))
		GROUP BY u.id
		ORDER BY COUNT(p.id) ASC, u.id ASC
		LIMIT 1
	`
	var id int64
	err := r.db.QueryRow(ctx, query, excludeIDs).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("ошибка выбора модератора: %w", err)
	}
	return id, true, nil
}

// SetModerator включает или выключает права модератора.
func (r *Repository) SetModerator(ctx context.Context, userID int64, isModerator bool) error {
	query := `UPDATE users SET is_moderator = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, userID, isModerator)
	if err != nil {
		return fmt.Errorf("ошибка обновления прав модератора: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user_id=%d: %w", userID, common.ErrUserNotFound)
	}
	return nil
}
