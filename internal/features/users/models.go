// Package users хранит пользователей: профиль, денормализованный баланс очков
// и флаг модератора.
// models.go описывает структуры данных для работы с таблицей users.
package users

import (
	"strconv"
	"time"
)

// User представляет пользователя в базе данных.
// Points: сумма всех записей пользователя в point_transactions,
// обновляется только внутри транзакции начисления.
type User struct {
	ID          int64     `db:"id"`           // Автоинкрементный ID пользователя
	Username    string    `db:"username"`     // Уникальное имя
	Avatar      string    `db:"avatar"`       // URL аватара (может быть пустым)
	Points      int64     `db:"points"`       // Текущий баланс очков
	IsModerator bool      `db:"is_moderator"` // Может ли рецензировать опросы
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// RankedUser: строка лидерборда.
type RankedUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Points   int64  `json:"points"`
}

// DisplayName возвращает отображаемое имя пользователя.
func (u *User) DisplayName() string {
	if u.Username == "" {
		return "user#" + strconv.FormatInt(u.ID, 10)
	}
	return "@" + u.Username
}
