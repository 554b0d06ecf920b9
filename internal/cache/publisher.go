package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher публикует события в каналы Redis.
// Real-time шлюз подписан на эти каналы и раздаёт события клиентам.
type Publisher struct {
	client *redis.Client
}

// NewPublisher создаёт публикатор.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishJSON сериализует v и публикует в канал.
func (p *Publisher) PublishJSON(ctx context.Context, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("ошибка публикации в %s: %w", channel, err)
	}
	return nil
}
