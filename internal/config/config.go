package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"shootout/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Feed       FeedConfig
	Game       GameConfig
	Volatility VolatilityConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string // пусто = только same-origin
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// FeedConfig - подключение к внешнему источнику цен
type FeedConfig struct {
	URL                  string
	ConnectTimeout       time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	MaxReconnectAttempts int

	// Повторная подписка на пары после реконнекта.
	// По умолчанию выключено: клиент только предупреждает в логе.
	ResubscribeOnReconnect bool
}

// GameConfig - параметры лобби и раундов
type GameConfig struct {
	LobbyDuration          time.Duration
	LobbyBroadcastInterval time.Duration
	MinBet                 float64
	StartingBalance        float64
	Leverage               float64
	RoundMinSeconds        float64
	RoundMaxSeconds        float64
	PriceSampleTimeout     time.Duration // ожидание первой цены перед стартом раунда
	VolatilityThreshold    float64
	PersistTimeout         time.Duration // таймаут одной операции с БД
	LedgerShards           int           // число очередей записи по игрокам
}

// VolatilityConfig - отслеживание волатильности пар
type VolatilityConfig struct {
	TrackedPairs []string
	WindowSize   int           // размер кольцевого буфера цен
	Interval     time.Duration // период пересчета
}

// RateLimitConfig - ограничение команд игроков по IP
type RateLimitConfig struct {
	CommandRate  float64 // токенов в секунду
	CommandBurst int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level      string
	Format     string
	File       string // пусто = stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load загружает конфигурацию из переменных окружения.
//
// Перед чтением окружения подгружает .env файлы (если они есть).
// Уже установленные переменные окружения не перезаписываются.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", nil),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "shootout"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Feed: FeedConfig{
			URL:                    getEnv("FEED_URL", "ws://localhost:8081/ws"),
			ConnectTimeout:         getEnvAsDuration("FEED_CONNECT_TIMEOUT", 10*time.Second),
			PingInterval:           getEnvAsDuration("FEED_PING_INTERVAL", 15*time.Second),
			PongTimeout:            getEnvAsDuration("FEED_PONG_TIMEOUT", 30*time.Second),
			MaxReconnectAttempts:   getEnvAsInt("FEED_MAX_RECONNECT_ATTEMPTS", 10),
			ResubscribeOnReconnect: getEnvAsBool("FEED_RESUBSCRIBE_ON_RECONNECT", false),
		},
		Game: GameConfig{
			LobbyDuration:          getEnvAsDuration("LOBBY_DURATION", 30*time.Second),
			LobbyBroadcastInterval: getEnvAsDuration("LOBBY_BROADCAST_INTERVAL", 1*time.Second),
			MinBet:                 getEnvAsFloat("MIN_BET", 1),
			StartingBalance:        getEnvAsFloat("STARTING_BALANCE", 1000),
			Leverage:               getEnvAsFloat("LEVERAGE", 500),
			RoundMinSeconds:        getEnvAsFloat("ROUND_MIN_SECONDS", 10),
			RoundMaxSeconds:        getEnvAsFloat("ROUND_MAX_SECONDS", 30),
			PriceSampleTimeout:     getEnvAsDuration("PRICE_SAMPLE_TIMEOUT", 5*time.Second),
			VolatilityThreshold:    getEnvAsFloat("VOLATILITY_THRESHOLD", 0),
			PersistTimeout:         getEnvAsDuration("PERSIST_TIMEOUT", 5*time.Second),
			LedgerShards:           getEnvAsInt("LEDGER_SHARDS", 8),
		},
		Volatility: VolatilityConfig{
			TrackedPairs: getEnvAsList("TRACKED_PAIRS", []string{"BTC/USD", "ETH/USD", "SOL/USD"}),
			WindowSize:   getEnvAsInt("VOLATILITY_WINDOW", 60),
			Interval:     getEnvAsDuration("VOLATILITY_INTERVAL", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			CommandRate:  getEnvAsFloat("COMMAND_RATE", 10),
			CommandBurst: getEnvAsInt("COMMAND_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
		},
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv подгружает .env файлы, отсутствующие файлы пропускаются
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Feed.URL == "" {
		return fmt.Errorf("FEED_URL is required")
	}

	if c.Feed.MaxReconnectAttempts < 0 {
		return fmt.Errorf("FEED_MAX_RECONNECT_ATTEMPTS cannot be negative, got %d", c.Feed.MaxReconnectAttempts)
	}

	// Таймауты и интервалы должны быть положительными
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"FEED_CONNECT_TIMEOUT", c.Feed.ConnectTimeout},
		{"FEED_PING_INTERVAL", c.Feed.PingInterval},
		{"FEED_PONG_TIMEOUT", c.Feed.PongTimeout},
		{"LOBBY_DURATION", c.Game.LobbyDuration},
		{"LOBBY_BROADCAST_INTERVAL", c.Game.LobbyBroadcastInterval},
		{"PRICE_SAMPLE_TIMEOUT", c.Game.PriceSampleTimeout},
		{"PERSIST_TIMEOUT", c.Game.PersistTimeout},
		{"VOLATILITY_INTERVAL", c.Volatility.Interval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.value)
		}
	}

	if c.Game.MinBet <= 0 {
		return fmt.Errorf("MIN_BET must be positive, got %v", c.Game.MinBet)
	}

	if c.Game.StartingBalance < 0 {
		return fmt.Errorf("STARTING_BALANCE cannot be negative, got %v", c.Game.StartingBalance)
	}

	if c.Game.Leverage <= 0 {
		return fmt.Errorf("LEVERAGE must be positive, got %v", c.Game.Leverage)
	}

	if c.Game.RoundMinSeconds <= 0 || c.Game.RoundMaxSeconds < c.Game.RoundMinSeconds {
		return fmt.Errorf("ROUND_MIN_SECONDS (%v) must be positive and not exceed ROUND_MAX_SECONDS (%v)",
			c.Game.RoundMinSeconds, c.Game.RoundMaxSeconds)
	}

	if c.Game.LedgerShards < 1 || c.Game.LedgerShards > 256 {
		return fmt.Errorf("LEDGER_SHARDS must be between 1 and 256, got %d", c.Game.LedgerShards)
	}

	// Стандартное отклонение считается минимум по 10 точкам
	if c.Volatility.WindowSize < 10 {
		return fmt.Errorf("VOLATILITY_WINDOW must be at least 10, got %d", c.Volatility.WindowSize)
	}

	if len(c.Volatility.TrackedPairs) == 0 {
		return fmt.Errorf("TRACKED_PAIRS must list at least one pair")
	}
	for i, pair := range c.Volatility.TrackedPairs {
		if err := utils.ValidatePair(pair); err != nil {
			return fmt.Errorf("TRACKED_PAIRS: %w", err)
		}
		c.Volatility.TrackedPairs[i] = utils.NormalizePair(pair)
	}

	if c.RateLimit.CommandRate <= 0 || c.RateLimit.CommandBurst < 1 {
		return fmt.Errorf("COMMAND_RATE must be positive and COMMAND_BURST at least 1, got %v/%d",
			c.RateLimit.CommandRate, c.RateLimit.CommandBurst)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr адрес для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
