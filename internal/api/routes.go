package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shootout/internal/api/handlers"
	"shootout/internal/api/middleware"
	"shootout/internal/game"
	"shootout/pkg/ratelimit"
	"shootout/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Game           handlers.GameService
	Volatility     game.VolatilityRanker
	Rounds         handlers.RoundReader // service.GameStore
	Stream         http.Handler // websocket.Hub.ServeWS
	Limiter        *ratelimit.KeyedLimiter
	AllowedOrigins []string
	Logger         *utils.Logger

	// Health дополнительные поля ответа /health (например состояние источника цен)
	Health func() map[string]interface{}
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /lobby/
//	│   ├── POST /join - вход в лобби со ставкой
//	│   └── POST /leave - выход из лобби (501)
//	├── POST /rounds/{roundId}/shoot - досрочный выход из позиции
//	├── GET /rounds/{roundId} - раунд с позициями из БД
//	├── GET /players/{id}/balance - баланс игрока
//	├── GET /game/state - снимок фазы, лобби и раунда
//	└── GET /volatility - ранжирование пар
//
// /ws/stream - WebSocket поток событий игры
// /metrics - Prometheus
// /health - проверка живости
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. RateLimit (только команды игроков)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.Game != nil {
		gameHandler := handlers.NewGameHandler(deps.Game)

		// Команды игроков ограничены по IP
		commands := api.NewRoute().Subrouter()
		if deps.Limiter != nil {
			commands.Use(middleware.RateLimit(deps.Limiter))
		}
		commands.HandleFunc("/lobby/join", gameHandler.JoinLobby).Methods("POST", "OPTIONS")
		commands.HandleFunc("/lobby/leave", gameHandler.LeaveLobby).Methods("POST", "OPTIONS")
		commands.HandleFunc("/rounds/{roundId:[0-9]+}/shoot", gameHandler.Shoot).Methods("POST", "OPTIONS")

		api.HandleFunc("/players/{id}/balance", gameHandler.GetBalance).Methods("GET")
		api.HandleFunc("/game/state", gameHandler.GetState).Methods("GET")
	}

	if deps.Rounds != nil {
		roundHandler := handlers.NewRoundHandler(deps.Rounds)
		api.HandleFunc("/rounds/{roundId:[0-9]+}", roundHandler.GetRound).Methods("GET")
	}

	if deps.Volatility != nil {
		volatilityHandler := handlers.NewVolatilityHandler(deps.Volatility)
		api.HandleFunc("/volatility", volatilityHandler.GetRanking).Methods("GET")
	}

	if deps.Stream != nil {
		router.Handle("/ws/stream", deps.Stream).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"status": "ok"}
		if deps.Health != nil {
			for k, v := range deps.Health() {
				body[k] = v
			}
		}
		handlers.WriteJSON(w, http.StatusOK, body)
	}).Methods("GET")

	return router
}
