package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"serotonyl.ru/poll-core/internal/features/users"
)

const leaderboardGenKey = "leaderboard:gen"

// Leaderboard кэширует готовые списки лидерборда.
// Ключ включает поколение: любое начисление увеличивает leaderboard:gen,
// и все старые списки перестают читаться сразу, а из Redis уходят по TTL.
type Leaderboard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLeaderboard создаёт кэш лидерборда.
func NewLeaderboard(client *redis.Client, ttl time.Duration) *Leaderboard {
	return &Leaderboard{client: client, ttl: ttl}
}

func (l *Leaderboard) generation(ctx context.Context) (int64, error) {
	gen, err := l.client.Get(ctx, leaderboardGenKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения поколения лидерборда: %w", err)
	}
	return gen, nil
}

func leaderboardKey(gen int64, limit int) string {
	return fmt.Sprintf("leaderboard:%d:%d", gen, limit)
}

// Get возвращает список из кэша. ok=false: промах.
// gen: поколение, под которым искали. При промахе его нужно передать в Set,
// чтобы список, прочитанный до начисления, не попал под новое поколение.
func (l *Leaderboard) Get(ctx context.Context, limit int) ([]users.RankedUser, int64, bool, error) {
	gen, err := l.generation(ctx)
	if err != nil {
		return nil, 0, false, err
	}

	data, err := l.client.Get(ctx, leaderboardKey(gen, limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("ошибка чтения лидерборда из кэша: %w", err)
	}

	var list []users.RankedUser
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, gen, false, fmt.Errorf("битый кэш лидерборда: %w", err)
	}
	return list, gen, true, nil
}

// Set сохраняет список под поколением gen, полученным из Get до чтения БД.
// Если между ними прошло начисление, запись ляжет под старое поколение
// и читаться уже не будет.
func (l *Leaderboard) Set(ctx context.Context, gen int64, limit int, list []users.RankedUser) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("ошибка сериализации лидерборда: %w", err)
	}
	return l.client.Set(ctx, leaderboardKey(gen, limit), data, l.ttl).Err()
}

// Invalidate сбрасывает все закэшированные списки.
func (l *Leaderboard) Invalidate(ctx context.Context) error {
	return l.client.Incr(ctx, leaderboardGenKey).Err()
}
