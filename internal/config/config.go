// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры
// и validator для проверки диапазонов.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres" validate:"required"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432" validate:"gt=0,lt=65536"`
	DBUser     string `envconfig:"DB_USER" default:"polluser" validate:"required"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"poll_core" validate:"required"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25" validate:"gt=0"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5" validate:"gte=0"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development" validate:"oneof=development staging production test"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	// Часовой пояс, в котором считаются дневные лимиты (начало суток)
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Scheduler ---
	// Расписание проверок (публикация отложенных опросов + SLA модерации)
	SchedulerSpec string `envconfig:"SCHEDULER_SPEC" default:"@every 1m" validate:"required"`

	// --- Redis (необязательно) ---
	// Пустая строка: кэш лидерборда и публикация уведомлений отключены.
	RedisURL            string        `envconfig:"REDIS_URL" default:""`
	LeaderboardCacheTTL time.Duration `envconfig:"LEADERBOARD_CACHE_TTL" default:"30s"`

	// --- Telegram (необязательно) ---
	// Алерты об эскалации модерации в чат модераторов.
	TelegramBotToken    string `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
	TelegramAlertChatID int64  `envconfig:"TELEGRAM_ALERT_CHAT_ID" default:"0"`
	// Не больше AlertRateLimit алертов за AlertRateWindow (массовая эскалация не заспамит чат)
	AlertRateLimit  int           `envconfig:"ALERT_RATE_LIMIT" default:"20" validate:"gt=0"`
	AlertRateWindow time.Duration `envconfig:"ALERT_RATE_WINDOW" default:"1m"`

	// --- Metrics ---
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// --- Points ---
	PointsVote           int64 `envconfig:"POINTS_VOTE" default:"10" validate:"gt=0"`
	PointsCreatePoll     int64 `envconfig:"POINTS_CREATE_POLL" default:"50" validate:"gt=0"`
	PointsFollow         int64 `envconfig:"POINTS_FOLLOW" default:"10" validate:"gt=0"`
	PointsLikeComment    int64 `envconfig:"POINTS_LIKE_COMMENT" default:"5" validate:"gt=0"`
	PointsTrendingBonus  int64 `envconfig:"POINTS_TRENDING_BONUS" default:"500" validate:"gt=0"`
	PointsSurveyComplete int64 `envconfig:"POINTS_SURVEY_COMPLETE" default:"20" validate:"gt=0"`
	PointsSwipeBonus     int64 `envconfig:"POINTS_SWIPE_BONUS" default:"15" validate:"gt=0"`

	// Сколько опросов в день приносят очки одному пользователю
	DailyCreatePollLimit int `envconfig:"DAILY_CREATE_POLL_LIMIT" default:"3" validate:"gt=0"`
	// Порог взвешенной активности, после которого опрос считается трендовым
	TrendingThreshold float64 `envconfig:"TRENDING_THRESHOLD" default:"100" validate:"gt=0"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// RedisEnabled сообщает, задан ли Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// TelegramEnabled сообщает, включены ли алерты в Telegram.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramAlertChatID != 0
}

// Validate проверяет теги validate и связи между полями.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("некорректная конфигурация: %w", err)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.TelegramBotToken != "" && c.TelegramAlertChatID == 0 {
		return fmt.Errorf("TELEGRAM_ALERT_CHAT_ID не задан при заданном TELEGRAM_BOT_TOKEN")
	}
	if c.AlertRateWindow <= 0 {
		return fmt.Errorf("ALERT_RATE_WINDOW должен быть > 0")
	}
	if c.RedisEnabled() && c.LeaderboardCacheTTL <= 0 {
		return fmt.Errorf("LEADERBOARD_CACHE_TTL должен быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
