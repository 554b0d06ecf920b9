// Package moderation: repository.go работает с полями модерации в таблице polls
// и с журналом moderation_logs.
// Все переходы состояния: условные UPDATE с проверкой текущего статуса:
// если опрос уже изменил кто-то другой, запрос не затронет строк
// и вернётся common.ErrTransitionConflict.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/poll-core/internal/common"
	"serotonyl.ru/poll-core/internal/db/postgres"
	"serotonyl.ru/poll-core/internal/features/points"
)

const pollColumns = `
	id, author_id, title, status, is_paid, scheduled_at, published_at,
	current_moderation_tier, assigned_moderator_id, moderation_deadline, is_escalated, review_started_at,
	votes_count, likes_count, comments_count, created_at, updated_at`

// Repository: доступ к состоянию модерации в PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий модерации.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

func scanPoll(row pgx.Row) (*Poll, error) {
	p := &Poll{}
	err := row.Scan(
		&p.ID, &p.AuthorID, &p.Title, &p.Status, &p.IsPaid, &p.ScheduledAt, &p.PublishedAt,
		&p.CurrentModerationTier, &p.AssignedModeratorID, &p.ModerationDeadline, &p.IsEscalated, &p.ReviewStartedAt,
		&p.VotesCount, &p.LikesCount, &p.CommentsCount, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// GetPoll возвращает опрос по ID.
func (r *Repository) GetPoll(ctx context.Context, pollID int64) (*Poll, error) {
	p, err := scanPoll(r.db.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, pollID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("опрос %d: %w", pollID, common.ErrPollNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения опроса: %w", err)
	}
	return p, nil
}

func (r *Repository) queryPolls(ctx context.Context, query string, args ...any) ([]*Poll, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки опросов: %w", err)
	}
	defer rows.Close()

	var polls []*Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения опроса: %w", err)
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

// FindOverduePending возвращает не более limit опросов на проверке с истёкшим сроком.
// Эскалированные опросы сюда не попадают, поэтому повторный проход их не трогает.
// Запрос идёт по индексу (status, moderation_deadline).
func (r *Repository) FindOverduePending(ctx context.Context, now time.Time, limit int) ([]*Poll, error) {
	return r.queryPolls(ctx, `
		SELECT `+pollColumns+`
		FROM polls
		WHERE status = 'PENDING'
		  AND is_escalated = FALSE
		  AND moderation_deadline <= $1
		ORDER BY moderation_deadline ASC, id ASC
		LIMIT $2
	`, now, limit)
}

// FindDueScheduled возвращает не более limit отложенных опросов, время публикации которых наступило.
// Запрос идёт по индексу (status, scheduled_at).
func (r *Repository) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*Poll, error) {
	return r.queryPolls(ctx, `
		SELECT `+pollColumns+`
		FROM polls
		WHERE status = 'SCHEDULED'
		  AND scheduled_at <= $1
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $2
	`, now, limit)
}

func insertLog(ctx context.Context, tx pgx.Tx, l *Log) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO moderation_logs (poll_id, moderator_id, action, comment, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, l.PollID, l.ModeratorID, string(l.Action), l.Comment, l.CreatedAt).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал модерации: %w", err)
	}
	return nil
}

// ApplyBreach применяет план просрочки: переход уровня или эскалацию, запись в журнал
// и штраф модератору. Всё в одной транзакции: штраф не теряется и не дублируется.
// Условие UPDATE повторяет условие выборки плюс исходный уровень:
// если модератор успел принять решение или другой процесс уже обработал опрос,
// строк не будет и вернётся ErrTransitionConflict.
// Назначенный модератор сбрасывается всегда: на новом уровне его назначит Assigner.
func (r *Repository) ApplyBreach(ctx context.Context, plan BreachPlan, now time.Time) (bool, error) {
	var penalized bool
	err := postgres.InTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE polls
			SET current_moderation_tier = $2,
			    moderation_deadline = $3,
			    is_escalated = $4,
			    assigned_moderator_id = NULL,
			    updated_at = $5
			WHERE id = $1
			  AND status = 'PENDING'
			  AND is_escalated = FALSE
			  AND current_moderation_tier = $6
		`, plan.PollID, plan.ToTier, plan.NewDeadline, plan.Escalate, now, plan.FromTier)
		if err != nil {
			return fmt.Errorf("ошибка перехода уровня модерации: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return common.ErrTransitionConflict
		}

		comment := plan.Comment
		err = insertLog(ctx, tx, &Log{
			PollID:      plan.PollID,
			ModeratorID: SystemModeratorID,
			Action:      plan.Action,
			Comment:     &comment,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}

		if plan.PenaltyUserID == nil {
			return nil
		}
		penalized, err = points.WritePenaltyTx(ctx, tx, *plan.PenaltyUserID, plan.PenaltyPoints,
			common.Int64Ptr(plan.PollID), map[string]any{"pollId": plan.PollID, "tier": plan.FromTier}, now)
		if err != nil {
			return fmt.Errorf("штраф модератору %d за опрос %d: %w", *plan.PenaltyUserID, plan.PollID, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return penalized, nil
}

// PublishScheduled публикует отложенный опрос. Повторный вызов: ErrTransitionConflict.
func (r *Repository) PublishScheduled(ctx context.Context, pollID int64, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE polls
		SET status = 'PUBLISHED', published_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'SCHEDULED'
	`, pollID, now)
	if err != nil {
		return fmt.Errorf("ошибка публикации опроса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrTransitionConflict
	}
	return nil
}

// Schedule переводит черновик в SCHEDULED.
func (r *Repository) Schedule(ctx context.Context, pollID int64, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE polls SET status = 'SCHEDULED', updated_at = $2
		WHERE id = $1 AND status = 'DRAFT'
	`, pollID, now)
	if err != nil {
		return fmt.Errorf("ошибка планирования опроса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrTransitionConflict
	}
	return nil
}

// StartReview переводит черновик на проверку: уровень 1, новый срок, новый цикл.
func (r *Repository) StartReview(ctx context.Context, pollID int64, deadline, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE polls
		SET status = 'PENDING',
		    current_moderation_tier = 1,
		    moderation_deadline = $2,
		    is_escalated = FALSE,
		    assigned_moderator_id = NULL,
		    review_started_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status = 'DRAFT'
	`, pollID, deadline, now)
	if err != nil {
		return fmt.Errorf("ошибка отправки опроса на проверку: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrTransitionConflict
	}
	return nil
}

// AssignModerator назначает модератора на опрос, ожидающий проверки без модератора.
func (r *Repository) AssignModerator(ctx context.Context, pollID, moderatorID int64, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE polls SET assigned_moderator_id = $2, updated_at = $3
		WHERE id = $1
		  AND status = 'PENDING'
		  AND is_escalated = FALSE
		  AND assigned_moderator_id IS NULL
	`, pollID, moderatorID, now)
	if err != nil {
		return fmt.Errorf("ошибка назначения модератора: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrTransitionConflict
	}
	return nil
}

// DecisionInput: решение модератора.
type DecisionInput struct {
	PollID            int64
	ModeratorID       int64
	Action            LogAction
	Comment           *string
	Now               time.Time
	RequiredApprovals int
	ReviewWindow      time.Duration
}

// DecisionResult: итог решения.
type DecisionResult struct {
	Poll *Poll // Состояние после решения
	// Сколько разных модераторов одобрили опрос в текущем цикле
	Approvals int
	Approvers []int64
	// Одобрений пока не хватает: нужен следующий модератор
	NeedsNextReviewer bool
}

// ApplyDecision записывает решение модератора и меняет статус опроса.
// Строка опроса блокируется FOR UPDATE: решение и автоматическая эскалация
// не могут примениться к одному опросу одновременно.
func (r *Repository) ApplyDecision(ctx context.Context, in DecisionInput) (*DecisionResult, error) {
	var result *DecisionResult
	err := postgres.InTx(ctx, r.db, func(tx pgx.Tx) error {
		p, err := scanPoll(tx.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1 FOR UPDATE`, in.PollID))
		if errors.Is(err, pgx.ErrNoRows) {
			return common.ErrPollNotFound
		}
		if err != nil {
			return fmt.Errorf("ошибка блокировки опроса: %w", err)
		}
		if p.Status != StatusPending {
			return common.ErrTransitionConflict
		}
		if p.AuthorID == in.ModeratorID {
			return fmt.Errorf("%w: автор не может проверять свой опрос", common.ErrNotAssigned)
		}

		if p.IsEscalated {
			// Эскалированный опрос может решить любой модератор
			var isModerator bool
			err := tx.QueryRow(ctx, `SELECT is_moderator FROM users WHERE id = $1`, in.ModeratorID).Scan(&isModerator)
			if errors.Is(err, pgx.ErrNoRows) || (err == nil && !isModerator) {
				return common.ErrNotAssigned
			}
			if err != nil {
				return fmt.Errorf("ошибка проверки модератора: %w", err)
			}
		} else if p.AssignedModeratorID == nil || *p.AssignedModeratorID != in.ModeratorID {
			return common.ErrNotAssigned
		}

		if err := insertLog(ctx, tx, &Log{
			PollID:      in.PollID,
			ModeratorID: in.ModeratorID,
			Action:      in.Action,
			Comment:     in.Comment,
			CreatedAt:   in.Now,
		}); err != nil {
			return err
		}

		result = &DecisionResult{Poll: p}

		switch in.Action {
		case ActionReject:
			return closeReview(ctx, tx, p, StatusRejected, in.Now)
		case ActionRequestChanges:
			return closeReview(ctx, tx, p, StatusChangesRequested, in.Now)
		case ActionApprove:
			cycleStart := p.CreatedAt
			if p.ReviewStartedAt != nil {
				cycleStart = *p.ReviewStartedAt
			}
			rows, err := tx.Query(ctx, `
				SELECT DISTINCT moderator_id FROM moderation_logs
				WHERE poll_id = $1 AND action = 'APPROVE' AND created_at >= $2
				ORDER BY moderator_id
			`, in.PollID, cycleStart)
			if err != nil {
				return fmt.Errorf("ошибка подсчёта одобрений: %w", err)
			}
			approvers, err := pgx.CollectRows(rows, pgx.RowTo[int64])
			if err != nil {
				return fmt.Errorf("ошибка чтения одобрений: %w", err)
			}
			result.Approvers = approvers
			result.Approvals = len(approvers)

			if p.IsEscalated || result.Approvals >= in.RequiredApprovals {
				return closeReview(ctx, tx, p, StatusPublished, in.Now)
			}

			// Одобрений мало: опрос остаётся на проверке, срок отсчитывается заново
			deadline := in.Now.Add(in.ReviewWindow)
			if _, err := tx.Exec(ctx, `
				UPDATE polls SET assigned_moderator_id = NULL, moderation_deadline = $2, updated_at = $3
				WHERE id = $1
			`, in.PollID, deadline, in.Now); err != nil {
				return fmt.Errorf("ошибка продления проверки: %w", err)
			}
			p.AssignedModeratorID = nil
			p.ModerationDeadline = &deadline
			result.NeedsNextReviewer = true
			return nil
		default:
			return common.ErrInvalidDecision
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// closeReview завершает проверку: ставит итоговый статус и очищает поля модерации.
func closeReview(ctx context.Context, tx pgx.Tx, p *Poll, status PollStatus, now time.Time) error {
	var publishedAt *time.Time
	if status == StatusPublished {
		publishedAt = &now
	}
	_, err := tx.Exec(ctx, `
		UPDATE polls
		SET status = $2,
		    assigned_moderator_id = NULL,
		    moderation_deadline = NULL,
		    published_at = COALESCE($3, published_at),
		    updated_at = $4
		WHERE id = $1
	`, p.ID, string(status), publishedAt, now)
	if err != nil {
		return fmt.Errorf("ошибка смены статуса опроса: %w", err)
	}
	p.Status = status
	p.AssignedModeratorID = nil
	p.ModerationDeadline = nil
	if publishedAt != nil {
		p.PublishedAt = publishedAt
	}
	return nil
}

// Resubmit возвращает исправленный опрос на проверку с первого уровня.
func (r *Repository) Resubmit(ctx context.Context, pollID, authorID int64, deadline, now time.Time) (*Poll, error) {
	var p *Poll
	err := postgres.InTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		p, err = scanPoll(tx.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1 FOR UPDATE`, pollID))
		if errors.Is(err, pgx.ErrNoRows) {
			return common.ErrPollNotFound
		}
		if err != nil {
			return fmt.Errorf("ошибка блокировки опроса: %w", err)
		}
		if p.AuthorID != authorID {
			return common.ErrNotAuthor
		}
		if p.Status != StatusChangesRequested {
			return common.ErrTransitionConflict
		}

		if _, err := tx.Exec(ctx, `
			UPDATE polls
			SET status = 'PENDING',
			    current_moderation_tier = 1,
			    moderation_deadline = $2,
			    is_escalated = FALSE,
			    assigned_moderator_id = NULL,
			    review_started_at = $3,
			    updated_at = $3
			WHERE id = $1
		`, pollID, deadline, now); err != nil {
			return fmt.Errorf("ошибка повторной отправки: %w", err)
		}

		p.Status = StatusPending
		p.CurrentModerationTier = 1
		p.ModerationDeadline = &deadline
		p.IsEscalated = false
		p.AssignedModeratorID = nil
		p.ReviewStartedAt = &now

		return insertLog(ctx, tx, &Log{
			PollID:      pollID,
			ModeratorID: authorID,
			Action:      ActionResubmitted,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Logs возвращает журнал модерации опроса в порядке записи.
func (r *Repository) Logs(ctx context.Context, pollID int64) ([]*Log, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, poll_id, moderator_id, action, comment, created_at
		FROM moderation_logs
		WHERE poll_id = $1
		ORDER BY created_at ASC, id ASC
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала модерации: %w", err)
	}
	defer rows.Close()

	var logs []*Log
	for rows.Next() {
		l := &Log{}
		if err := rows.Scan(&l.ID, &l.PollID, &l.ModeratorID, &l.Action, &l.Comment, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения журнала модерации: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
