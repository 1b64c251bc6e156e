package utils

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logger.go - настройка логирования
//
// Назначение:
// Инициализация структурированного логирования на базе zap.
// Logger передается компонентам явно через конструкторы,
// глобального экземпляра нет.
//
// Функции:
// - InitLogger: создать logger по LogConfig
//   * Формат: json или text (console encoder)
//   * Уровни: debug, info, warn, error, fatal
//   * Вывод: stdout, stderr или файл с ротацией (lumberjack)
// - NewNopLogger: logger без вывода для тестов
// - WithComponent/WithPair/WithPlayer/WithRound: дочерние логгеры с контекстом

// LogConfig настройки логирования
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // stdout, stderr или путь к файлу
	Development bool

	// Ротация файла (используется только когда Output - путь)
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger обертка над zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// InitLogger создает logger по конфигурации.
//
// Пустые поля заполняются значениями по умолчанию: info, json, stdout.
// Если файл для вывода недоступен, logger пишет в stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		if cfg.Development {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, openSink(cfg), level)

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	z := zap.New(core, opts...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// NewNopLogger возвращает logger, который ничего не пишет
func NewNopLogger() *Logger {
	z := zap.NewNop()
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// FromZap оборачивает готовый zap.Logger (нужно тестам с observer core)
func FromZap(z *zap.Logger) *Logger {
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// openSink выбирает приемник записей
func openSink(cfg LogConfig) zapcore.WriteSyncer {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout)
	case "stderr":
		return zapcore.Lock(os.Stderr)
	}

	dir := filepath.Dir(cfg.Output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zapcore.Lock(os.Stderr)
	}
	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zapcore.Lock(os.Stderr)
	}
	f.Close()

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 30),
	})
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseLevel преобразует строку в уровень zap (по умолчанию info)
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============ Дочерние логгеры ============

// With возвращает новый logger с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.Logger.With(fields...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// WithComponent помечает записи именем компонента
func (l *Logger) WithComponent(component string) *Logger {
	return l.With(zap.String("component", component))
}

// WithPair помечает записи торговой парой
func (l *Logger) WithPair(pair string) *Logger {
	return l.With(zap.String("pair", pair))
}

// WithPlayer помечает записи идентификатором игрока
func (l *Logger) WithPlayer(playerID string) *Logger {
	return l.With(zap.String("player_id", playerID))
}

// WithRound помечает записи идентификатором раунда
func (l *Logger) WithRound(roundID int64) *Logger {
	return l.With(zap.Int64("round_id", roundID))
}

// Sugar возвращает SugaredLogger для printf-стиля
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}
