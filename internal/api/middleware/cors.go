package middleware

import (
	"net/http"
	"strings"
)

// CORS - middleware для настройки Cross-Origin Resource Sharing
//
// Назначение:
// Позволяет браузерному клиенту игры с другого домена отправлять команды.
//
// Конфигурация:
// - origins из ALLOWED_ORIGINS; "*" разрешает любой origin
// - Пустой список: CORS заголовки не выставляются (только same-origin)
//
// Важные заголовки:
// - Access-Control-Allow-Origin: конкретный домен
// - Access-Control-Allow-Methods: GET, POST, OPTIONS
// - Access-Control-Allow-Headers: Content-Type, X-Request-ID
// - Access-Control-Max-Age: 86400 (24 часа)
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	allowAll := false
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowAll = true
		} else if origin != "" {
			allowed[origin] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
				w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// Обработка preflight запросов
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
