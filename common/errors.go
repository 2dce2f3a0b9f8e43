package common

import "errors"

// Код ошибки ядра. Фатальные коды останавливают запуск (только при
// загрузке каталога/маппинга); все коды времени выполнения не фатальны
// и несут рекомендательный характер для вызывающей стороны.
type ErrorCode string

const (
	// Фатальные при загрузке.
	ErrSpecInvalid         ErrorCode = "spec_invalid"
	ErrCoachMappingInvalid ErrorCode = "coach_mapping_invalid"

	// Не фатальные, времени выполнения.
	ErrUnknownDGN      ErrorCode = "unknown_dgn"
	ErrDecodeError     ErrorCode = "decode_error"
	ErrUnknownEntity   ErrorCode = "unknown_entity"
	ErrNoCommandDGN    ErrorCode = "no_command_dgn"
	ErrRateLimited     ErrorCode = "rate_limited"
	ErrQueueFull       ErrorCode = "queue_full"
	ErrBusUnavailable  ErrorCode = "bus_unavailable"
	ErrAnomalyDetected ErrorCode = "anomaly_detected"
)

// CoreError — типизированная ошибка ядра с машиночитаемым кодом.
type CoreError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Fatal — истина для ошибок, допустимых только на этапе загрузки каталога.
func (e *CoreError) Fatal() bool {
	return e.Code == ErrSpecInvalid || e.Code == ErrCoachMappingInvalid
}

// NewError создаёт CoreError с указанным кодом и причиной.
func NewError(code ErrorCode, msg string, cause error) *CoreError {
	return &CoreError{Code: code, Message: msg, Cause: cause}
}

// CodeOf извлекает ErrorCode из err, если это CoreError; иначе "" .
func CodeOf(err error) ErrorCode {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
