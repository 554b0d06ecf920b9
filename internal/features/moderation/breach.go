package moderation

import (
	"fmt"
	"time"
)

// BreachPlan: что нужно сделать с опросом, у которого истёк срок проверки.
// Строится чистой функцией PlanBreach и применяется одной транзакцией.
type BreachPlan struct {
	PollID   int64
	FromTier int
	ToTier   int  // При эскалации не меняется
	Escalate bool // true: уровни кончились, опрос уходит администраторам

	NewDeadline *time.Time // nil при эскалации

	// Штраф модератору, пропустившему срок. nil: штрафовать некого.
	PenaltyUserID *int64
	PenaltyPoints int64 // Отрицательное

	Action  LogAction
	Comment string

	// Кого не назначать на следующий уровень
	ExcludeModeratorIDs []int64
}

// PlanBreach рассчитывает переход для просроченного опроса.
//
// Параметры:
//   - p: опрос в статусе PENDING, не эскалированный, с истёкшим сроком
//   - now: момент обработки (от него отсчитывается новый срок)
//   - s: настройки (срок проверки, размер штрафа, число уровней)
//
// Если модератор был назначен, ему выписывается штраф и он исключается
// из кандидатов на следующий уровень. На последнем уровне опрос эскалируется.
func PlanBreach(p *Poll, now time.Time, s Settings) BreachPlan {
	s = s.Normalize()

	// FromTier остаётся как в строке БД: по нему транзакция проверяет,
	// что опрос не изменился. Переход считается от уровня не ниже первого.
	tier := max(p.CurrentModerationTier, 1)

	plan := BreachPlan{
		PollID:   p.ID,
		FromTier: p.CurrentModerationTier,
		ToTier:   tier,
	}

	missedAt := now
	if p.ModerationDeadline != nil {
		missedAt = *p.ModerationDeadline
	}

	if p.AssignedModeratorID != nil {
		id := *p.AssignedModeratorID
		plan.ExcludeModeratorIDs = []int64{id}
		if s.PenaltyPointsPerMiss > 0 {
			plan.PenaltyUserID = &id
			plan.PenaltyPoints = -s.PenaltyPointsPerMiss
		}
	}

	if tier < s.MaxTier {
		deadline := now.Add(s.ReviewWindow())
		plan.ToTier = tier + 1
		plan.NewDeadline = &deadline
		plan.Action = ActionPushNextTier
		plan.Comment = fmt.Sprintf(
			"Review deadline %s missed at tier %d; moved to tier %d, new deadline %s",
			missedAt.UTC().Format(time.RFC3339), tier, plan.ToTier, deadline.UTC().Format(time.RFC3339),
		)
		return plan
	}

	plan.Escalate = true
	plan.Action = ActionEscalated
	plan.Comment = fmt.Sprintf(
		"Review deadline %s missed at final tier %d; escalated to administrators",
		missedAt.UTC().Format(time.RFC3339), tier,
	)
	return plan
}
