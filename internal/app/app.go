// Package app инициализирует все компоненты приложения.
// app.go собирает приложение: создаёт БД-пул, кэш, репозитории, сервисы
// и планировщик проверок модерации.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/poll-core/internal/cache"
	"serotonyl.ru/poll-core/internal/common"
	"serotonyl.ru/poll-core/internal/config"
	"serotonyl.ru/poll-core/internal/db/postgres"
	"serotonyl.ru/poll-core/internal/features/moderation"
	"serotonyl.ru/poll-core/internal/features/notifications"
	"serotonyl.ru/poll-core/internal/features/points"
	"serotonyl.ru/poll-core/internal/features/polls"
	"serotonyl.ru/poll-core/internal/features/users"
	"serotonyl.ru/poll-core/internal/jobs"
	"serotonyl.ru/poll-core/internal/metrics"
)

// App содержит все компоненты приложения.
type App struct {
	DB    *pgxpool.Pool
	Redis *redis.Client // nil, если REDIS_URL не задан

	Users         *users.Service
	Points        *points.Service
	Moderation    *moderation.Service
	Settings      *moderation.SettingsRepository
	Notifications *notifications.Service
	Polls         *polls.Service

	Engine    *jobs.Engine
	Scheduler *jobs.Scheduler
	Metrics   *metrics.Metrics

	alerter *notifications.TelegramAlerter
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен: компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// === 2. Миграции ===
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	a := &App{DB: pool, Metrics: metrics.New(reg)}

	// === 3. Redis (необязательно) ===
	var (
		leaderboardCache points.LeaderboardCache
		publisher        notifications.Publisher
	)
	if cfg.RedisEnabled() {
		client, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.Redis = client
		leaderboardCache = cache.NewLeaderboard(client, cfg.LeaderboardCacheTTL)
		publisher = cache.NewPublisher(client)
	} else {
		log.Info("REDIS_URL не задан: кэш лидерборда и публикация уведомлений отключены")
	}

	// === 4. Telegram-алерты ===
	// Без токена алертер только пишет эскалации в лог
	alerter, err := notifications.NewTelegramAlerter(cfg.TelegramBotToken, cfg.TelegramAlertChatID)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.alerter = alerter.WithRateLimit(notifications.NewRateLimiter(cfg.AlertRateLimit, cfg.AlertRateWindow))

	loc := common.LoadLocation(cfg.AppTimezone)

	// === 5. Репозитории ===
	userRepo := users.NewRepository(pool)
	pointsRepo := points.NewRepository(pool)
	modRepo := moderation.NewRepository(pool)
	notifRepo := notifications.NewRepository(pool)
	a.Settings = moderation.NewSettingsRepository(pool)

	// === 6. Сервисы ===
	a.Users = users.NewService(userRepo)
	a.Notifications = notifications.NewService(notifRepo, publisher)
	a.Points = points.NewService(pointsRepo, a.Users, leaderboardCache, points.Rules{
		DailyCreatePollLimit: cfg.DailyCreatePollLimit,
		Location:             loc,
	}, a.Metrics)
	a.Moderation = moderation.NewService(modRepo, a.Points, a.alerter, a.Notifications, a.Metrics)
	a.Polls = polls.NewService(a.Moderation, a.Users, a.Settings, a.Points, a.Notifications, polls.RewardsFromConfig(cfg))
	// Назначение модераторов живёт в polls: сервис модерации получает его после сборки
	a.Moderation.SetAssigner(a.Polls)

	// === 7. Планировщик ===
	a.Engine = jobs.NewEngine(a.Moderation, a.Settings, a.Metrics)
	a.Scheduler = jobs.NewScheduler(a.Engine, cfg.SchedulerSpec, loc)

	log.WithFields(log.Fields{
		"redis":    cfg.RedisEnabled(),
		"telegram": cfg.TelegramEnabled(),
		"schedule": cfg.SchedulerSpec,
		"timezone": loc.String(),
	}).Info("Приложение инициализировано")

	return a, nil
}

// Close освобождает соединения с БД и Redis.
func (a *App) Close() {
	if a.alerter != nil {
		a.alerter.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия Redis")
		}
	}
	a.DB.Close()
}

// runMigrations применяет SQL-миграции по порядку.
// Каждая миграция выполняется один раз (версия пишется в schema_migrations).
func runMigrations(ctx context.Context, db postgres.DB) error {
	if err := postgres.PrepareMigrations(ctx, db); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Users},
		{2, migration002PointTransactions},
		{3, migration003Polls},
		{4, migration004ModerationLogs},
		{5, migration005SystemConfig},
		{6, migration006Notifications},
		{7, migration007ModerationTierCheck},
	}

	for _, m := range migrations {
		applied, err := postgres.ExecMigrationSQL(ctx, db, m.version, m.sql)
		if err != nil {
			return fmt.Errorf("миграция %03d: %w", m.version, err)
		}
		if applied {
			log.Infof("Миграция %03d применена", m.version)
		}
	}

	log.Info("Все миграции применены")
	return nil
}

var migration001Users = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    username VARCHAR(64) UNIQUE NOT NULL,
    avatar TEXT NOT NULL DEFAULT '',
    points BIGINT NOT NULL DEFAULT 0,
    is_moderator BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_points ON users(points DESC);
CREATE INDEX IF NOT EXISTS idx_users_moderators ON users(id) WHERE is_moderator;
`

var migration002PointTransactions = `
CREATE TABLE IF NOT EXISTS point_transactions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    target_id BIGINT,
    action_type VARCHAR(32) NOT NULL,
    points BIGINT NOT NULL,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_point_tx_user_action_target ON point_transactions(user_id, action_type, target_id);
CREATE INDEX IF NOT EXISTS idx_point_tx_user_created ON point_transactions(user_id, created_at DESC);
`

var migration003Polls = `
CREATE TABLE IF NOT EXISTS polls (
    id BIGSERIAL PRIMARY KEY,
    author_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    status VARCHAR(32) NOT NULL DEFAULT 'DRAFT',
    is_paid BOOLEAN NOT NULL DEFAULT FALSE,
    scheduled_at TIMESTAMPTZ,
    published_at TIMESTAMPTZ,
    current_moderation_tier INTEGER NOT NULL DEFAULT 1 CONSTRAINT polls_moderation_tier_check CHECK (current_moderation_tier >= 1),
    assigned_moderator_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
    moderation_deadline TIMESTAMPTZ,
    is_escalated BOOLEAN NOT NULL DEFAULT FALSE,
    review_started_at TIMESTAMPTZ,
    votes_count BIGINT NOT NULL DEFAULT 0,
    likes_count BIGINT NOT NULL DEFAULT 0,
    comments_count BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_polls_status_deadline ON polls(status, moderation_deadline);
CREATE INDEX IF NOT EXISTS idx_polls_status_scheduled ON polls(status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_polls_assigned_moderator ON polls(assigned_moderator_id) WHERE status = 'PENDING';
`

// moderator_id = 0: системные записи планировщика, поэтому без внешнего ключа
var migration004ModerationLogs = `
CREATE TABLE IF NOT EXISTS moderation_logs (
    id BIGSERIAL PRIMARY KEY,
    poll_id BIGINT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
    moderator_id BIGINT NOT NULL,
    action VARCHAR(32) NOT NULL,
    comment TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_moderation_logs_poll ON moderation_logs(poll_id, created_at);
`

var migration005SystemConfig = `
CREATE TABLE IF NOT EXISTS system_config (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    review_time_limit_hours INTEGER,
    penalty_points_per_miss BIGINT,
    moderator_group_size INTEGER,
    required_approvals INTEGER,
    vote_weight DOUBLE PRECISION,
    like_weight DOUBLE PRECISION,
    comment_weight DOUBLE PRECISION,
    paid_poll_boost_factor DOUBLE PRECISION,
    max_tier INTEGER,
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
INSERT INTO system_config (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
`

var migration006Notifications = `
CREATE TABLE IF NOT EXISTS notifications (
    id BIGSERIAL PRIMARY KEY,
    recipient_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    actor_id BIGINT NOT NULL DEFAULT 0,
    type VARCHAR(32) NOT NULL,
    resource_id BIGINT NOT NULL DEFAULT 0,
    is_read BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at DESC);
`

// Базы, созданные до появления ограничения в migration003Polls
var migration007ModerationTierCheck = `
UPDATE polls SET current_moderation_tier = 1 WHERE current_moderation_tier < 1;
ALTER TABLE polls DROP CONSTRAINT IF EXISTS polls_moderation_tier_check;
ALTER TABLE polls ADD CONSTRAINT polls_moderation_tier_check CHECK (current_moderation_tier >= 1);
`
