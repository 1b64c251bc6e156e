package handlers

import (
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"shootout/internal/game"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes ограничение тела команды игрока
const maxBodyBytes = 4096

var errBodyTooLarge = errors.New("request body too large")

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON пишет v как JSON с кодом status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError пишет ErrorResponse
func WriteError(w http.ResponseWriter, status int, code, message, details string) {
	WriteJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// StatusForKind HTTP статус для категории ошибки игры
//
//	validation      → 400
//	not_found       → 404
//	state_conflict  → 409
//	transient       → 503
//	not_implemented → 501
//	прочее          → 500
func StatusForKind(kind game.Kind) int {
	switch kind {
	case game.KindValidation:
		return http.StatusBadRequest
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindStateConflict:
		return http.StatusConflict
	case game.KindTransient:
		return http.StatusServiceUnavailable
	case game.KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeGameError отображает ошибку оркестратора в HTTP ответ.
// Детали инфраструктурных ошибок клиенту не отдаются.
func writeGameError(w http.ResponseWriter, err error) {
	var ge *game.Error
	if !errors.As(err, &ge) {
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", "")
		return
	}
	WriteError(w, StatusForKind(ge.Kind), ge.Code, ge.Message, "")
}

// decodeBody разбирает JSON тело запроса в v
func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return err
	}
	if len(body) > maxBodyBytes {
		return errBodyTooLarge
	}
	return json.Unmarshal(body, v)
}
