// Package cache работает с Redis: кэш лидерборда и публикация событий для real-time слоя.
// Redis необязателен: без REDIS_URL сервис работает напрямую с БД.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
	log "github.com/sirupsen/logrus"
)

// NewClient подключается к Redis по URL вида redis://host:6379/0 и проверяет соединение.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга REDIS_URL: %w", err)
	}
	// В Redis 7 нет maint_notifications, иначе клиент пишет предупреждение при подключении
	opts.MaintNotificationsConfig = &maintnotifications.Config{
		Mode: maintnotifications.ModeDisabled,
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	log.WithField("addr", opts.Addr).Info("Подключение к Redis установлено")
	return client, nil
}
