// Package points: repository.go выполняет операции с таблицей point_transactions
// и денормализованным балансом users.points.
// Начисление всегда идёт в одной транзакции БД под блокировкой строки пользователя.
package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/poll-core/internal/common"
	"serotonyl.ru/poll-core/internal/db/postgres"
)

// Store: хранилище журнала, которое нужно сервису.
type Store interface {
	// RunInUserTx блокирует строку пользователя и выполняет fn в транзакции.
	// Если fn вернула ошибку: транзакция откатывается.
	// Если пользователя нет: common.ErrUserNotFound.
	RunInUserTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx LedgerTx) error) error
	History(ctx context.Context, userID int64, limit int) ([]*Transaction, error)
	LedgerSum(ctx context.Context, userID int64) (sum int64, balance int64, err error)
}

// LedgerTx: операции внутри транзакции начисления.
type LedgerTx interface {
	CountActionsSince(ctx context.Context, userID int64, action ActionType, since time.Time) (int, error)
	HasTransaction(ctx context.Context, userID int64, action ActionType, targetID int64) (bool, error)
	Insert(ctx context.Context, t *Transaction) error
	// AddPoints меняет баланс на delta и возвращает новый баланс
	AddPoints(ctx context.Context, userID int64, delta int64) (int64, error)
}

// Repository реализует Store поверх PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий журнала очков.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// RunInUserTx начинает транзакцию и берёт SELECT ... FOR UPDATE на строку пользователя.
// Так параллельные начисления одному пользователю из разных процессов
// выполняются строго по очереди: проверка лимита и вставка не разъезжаются.
func (r *Repository) RunInUserTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx LedgerTx) error) error {
	return postgres.InTx(ctx, r.db, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return common.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("ошибка блокировки пользователя %d: %w", userID, err)
		}
		return fn(ctx, &ledgerTx{tx: tx})
	})
}

// History возвращает последние limit записей журнала пользователя, новые первыми.
func (r *Repository) History(ctx context.Context, userID int64, limit int) ([]*Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, target_id, action_type, points, metadata, created_at
		FROM point_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории очков: %w", err)
	}
	defer rows.Close()

	var list []*Transaction
	for rows.Next() {
		t := &Transaction{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.TargetID, &t.ActionType, &t.Points, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения записи журнала: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// LedgerSum возвращает сумму журнала и текущий баланс пользователя.
func (r *Repository) LedgerSum(ctx context.Context, userID int64) (int64, int64, error) {
	var sum, balance int64
	err := r.db.QueryRow(ctx, `
		SELECT u.points, COALESCE(SUM(t.points), 0)
		FROM users u
		LEFT JOIN point_transactions t ON t.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id, u.points
	`, userID).Scan(&balance, &sum)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, common.ErrUserNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка сверки журнала: %w", err)
	}
	return sum, balance, nil
}

// ledgerTx: операции в открытой транзакции.
type ledgerTx struct {
	tx pgx.Tx
}

func (l *ledgerTx) CountActionsSince(ctx context.Context, userID int64, action ActionType, since time.Time) (int, error) {
	var n int
	err := l.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM point_transactions
		WHERE user_id = $1 AND action_type = $2 AND created_at >= $3
	`, userID, string(action), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта действий: %w", err)
	}
	return n, nil
}

func (l *ledgerTx) HasTransaction(ctx context.Context, userID int64, action ActionType, targetID int64) (bool, error) {
	var exists bool
	err := l.tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM point_transactions
			WHERE user_id = $1 AND action_type = $2 AND target_id = $3
		)
	`, userID, string(action), targetID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки начисления: %w", err)
	}
	return exists, nil
}

func (l *ledgerTx) Insert(ctx context.Context, t *Transaction) error {
	meta := t.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	err := l.tx.QueryRow(ctx, `
		INSERT INTO point_transactions (user_id, target_id, action_type, points, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, t.UserID, t.TargetID, string(t.ActionType), t.Points, meta, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал очков: %w", err)
	}
	return nil
}

func (l *ledgerTx) AddPoints(ctx context.Context, userID int64, delta int64) (int64, error) {
	var newPoints int64
	err := l.tx.QueryRow(ctx, `
		UPDATE users SET points = points + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING points
	`, userID, delta).Scan(&newPoints)
	if err != nil {
		return 0, fmt.Errorf("ошибка обновления баланса: %w", err)
	}
	return newPoints, nil
}

// WritePenaltyTx записывает штраф за просроченную проверку внутри чужой транзакции.
// Так штраф фиксируется вместе с переходом уровня модерации или не фиксируется вовсе.
// Пользователя нет: штраф пропускается, applied = false.
func WritePenaltyTx(ctx context.Context, tx pgx.Tx, userID, pts int64, targetID *int64, metadata map[string]any, now time.Time) (bool, error) {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка блокировки пользователя %d: %w", userID, err)
	}

	l := &ledgerTx{tx: tx}
	t := &Transaction{
		UserID:     userID,
		TargetID:   targetID,
		ActionType: ActionModerationPenalty,
		Points:     pts,
		Metadata:   metadata,
		CreatedAt:  now,
	}
	if err := l.Insert(ctx, t); err != nil {
		return false, err
	}
	if _, err := l.AddPoints(ctx, userID, pts); err != nil {
		return false, err
	}
	return true, nil
}
