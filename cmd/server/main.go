package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"shootout/internal/api"
	"shootout/internal/config"
	"shootout/internal/game"
	"shootout/internal/pricefeed"
	"shootout/internal/repository"
	"shootout/internal/service"
	"shootout/internal/volatility"
	"shootout/internal/websocket"
	"shootout/pkg/ratelimit"
	"shootout/pkg/utils"
)

// ledgerQueueSize буфер очереди одного шарда записи игроков
const ledgerQueueSize = 1024

// app владеет всеми компонентами процесса и порядком их остановки
type app struct {
	cfg    *config.Config
	logger *utils.Logger

	db           *sql.DB
	feed         *pricefeed.Client
	tracker      *volatility.Tracker
	hub          *websocket.Hub
	ledger       *game.Ledger
	orchestrator *game.Orchestrator
	server       *http.Server

	cancel context.CancelFunc
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitLogger(utils.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("http server failed", zap.Error(err))
	}

	a.close()
	logger.Info("server exited")
}

// newApp создает и запускает компоненты в порядке зависимостей
func newApp(cfg *config.Config, logger *utils.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	// База данных и схема
	db, err := initDatabase(cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	a.db = db

	migrateCtx, migrateCancel := context.WithTimeout(ctx, 30*time.Second)
	defer migrateCancel()
	if err := repository.Migrate(migrateCtx, db); err != nil {
		db.Close()
		cancel()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	store := service.NewGameStore(db, cfg.Game.StartingBalance, logger)
	if err := store.Recover(migrateCtx); err != nil {
		db.Close()
		cancel()
		return nil, fmt.Errorf("recover: %w", err)
	}

	// Источник цен: ошибка первого подключения не фатальна, клиент
	// продолжает попытки в фоне, трекер подпишется после подключения
	a.feed = pricefeed.NewClient(cfg.Feed, logger)
	if err := a.feed.Connect(); err != nil {
		logger.Warn("initial feed connection failed, retrying in background",
			zap.String("url", cfg.Feed.URL), zap.Error(err))
	}

	a.tracker = volatility.New(cfg.Volatility, a.feed, logger)
	a.tracker.Start(ctx)

	a.hub = websocket.NewHub(websocket.NewOriginChecker(cfg.Server.AllowedOrigins), logger)
	go a.hub.Run()

	a.ledger = game.NewLedger(cfg.Game.LedgerShards, ledgerQueueSize, cfg.Game.PersistTimeout, logger)

	a.orchestrator = game.NewOrchestrator(cfg.Game, game.Dependencies{
		Store:      store,
		Feed:       a.feed,
		Volatility: a.tracker,
		Sink:       a.hub,
		Ledger:     a.ledger,
		Logger:     logger,
	})
	a.orchestrator.Start()

	limiter := ratelimit.NewKeyedLimiter(cfg.RateLimit.CommandRate, float64(cfg.RateLimit.CommandBurst))
	go limiter.RunJanitor(ctx, time.Minute)

	router := api.SetupRoutes(&api.Dependencies{
		Game:           a.orchestrator,
		Volatility:     a.tracker,
		Rounds:         store,
		Stream:         http.HandlerFunc(a.hub.ServeWS),
		Limiter:        limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
		Health: func() map[string]interface{} {
			return map[string]interface{}{
				"feed":             a.feed.State().String(),
				"feed_disconnects": a.feed.Disconnects(),
				"stream_clients":   a.hub.ClientCount(),
			}
		},
	})

	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

// close останавливает компоненты: оркестратор (закрывает активный раунд),
// очередь записей, трекер, источник цен, hub, HTTP, БД
func (a *app) close() {
	a.logger.Info("shutting down")

	a.orchestrator.Close()
	a.ledger.Close()
	a.tracker.Close()
	a.feed.Close()
	a.hub.Stop()
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("http server forced to shutdown", zap.Error(err))
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", zap.Error(err))
	}
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config, logger *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))
	return db, nil
}
