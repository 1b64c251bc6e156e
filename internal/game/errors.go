package game

import (
	"errors"
	"fmt"
)

// Kind категория ошибки команды игрока или перехода между фазами
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindStateConflict
	KindTransient
	KindNotImplemented
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindTransient:
		return "transient"
	case KindNotImplemented:
		return "not_implemented"
	default:
		return "unknown"
	}
}

// Стабильные коды ошибок (отдаются клиенту)
const (
	CodeBetBelowMinimum     = "bet_below_minimum"
	CodeWrongPhase          = "wrong_phase"
	CodeAlreadyJoined       = "already_joined"
	CodeInsufficientBalance = "insufficient_balance"
	CodeInvalidInput        = "invalid_input"
	CodeRoundNotFound       = "round_not_found"
	CodeRoundMismatch       = "round_mismatch"
	CodePositionNotFound    = "position_not_found"
	CodeAlreadyShot         = "already_shot"
	CodeAlreadyLiquidated   = "already_liquidated"
	CodePlayerNotFound      = "player_not_found"
	CodePersistenceFailure  = "persistence_failure"
	CodeNotImplemented      = "not_implemented"
	CodeShuttingDown        = "shutting_down"
)

// Error типизированная ошибка игры
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error // исходная ошибка инфраструктуры
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает по Kind, а если у target задан Code - и по коду.
// Позволяет писать errors.Is(err, game.ErrValidation).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != KindUnknown && t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Эталоны для errors.Is
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrStateConflict  = &Error{Kind: KindStateConflict}
	ErrTransient      = &Error{Kind: KindTransient}
	ErrNotImplemented = &Error{Kind: KindNotImplemented}
)

// KindOf извлекает Kind из цепочки ошибок
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// CodeOf извлекает код ошибки (пусто, если это не *Error)
func CodeOf(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

func newError(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func transientError(code, message string, err error) *Error {
	return &Error{Kind: KindTransient, Code: code, Message: message, Err: err}
}
