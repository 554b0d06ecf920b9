// Package points: levels.go считает уровень и звание по количеству очков.
// Уровень и звание не хранятся в БД: это чистые функции от баланса.
package points

const (
	// Граница между двумя участками шкалы уровней
	levelBreakpoint = 1000
	// Очков на уровень до границы (≈1000 очков → 10 уровень)
	pointsPerLevelLow = 111
	// Очков на уровень после границы (≈10000 очков → 50 уровень)
	pointsPerLevelHigh = 225

	levelPollMaster = 10
	levelOracle     = 50
)

// Звания
const (
	TitleNewbie     = "Newbie"
	TitlePollMaster = "Poll Master"
	TitleOracle     = "Oracle"
)

// GetLevel возвращает уровень для количества очков.
// Функция ступенчатая и не убывает. Шкала приближённая: ровно 10 уровень
// наступает на 999 очках, а не на 1000, и так и должно остаться.
//
// Примеры:
//
//	GetLevel(0)    → 1
//	GetLevel(500)  → 5
//	GetLevel(1500) → 12
func GetLevel(points int64) int {
	if points < 0 {
		// Штрафы могут увести баланс в минус, уровень при этом не ниже первого
		return 1
	}
	if points < levelBreakpoint {
		return 1 + int(points/pointsPerLevelLow)
	}
	return levelPollMaster + int((points-levelBreakpoint)/pointsPerLevelHigh)
}

// GetTitle возвращает звание для уровня.
func GetTitle(level int) string {
	switch {
	case level >= levelOracle:
		return TitleOracle
	case level >= levelPollMaster:
		return TitlePollMaster
	default:
		return TitleNewbie
	}
}

// RankFor собирает уровень и звание для баланса.
func RankFor(points int64) UserRank {
	level := GetLevel(points)
	return UserRank{Points: points, Level: level, Title: GetTitle(level)}
}
