package remote

import (
	"errors"
	"fmt"
)

// Сентинелы для errors.Is.
var (
	// ErrTransport — запрос не дошёл до сервиса или не дождался ответа.
	ErrTransport = errors.New("transport error")

	// ErrRemote — сервис ответил ошибкой или мусором.
	ErrRemote = errors.New("remote error")

	// ErrNoAddress — у дескриптора не задан адрес.
	ErrNoAddress = errors.New("service address is empty")
)

// TransportError — ошибка сети или таймаута.
type TransportError struct {
	Service string // имя сервиса
	Op      string // метод и путь
	Err     error  // исходная ошибка
}

// Error реализует интерфейс error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is позволяет errors.Is(err, ErrTransport).
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// RemoteError — не-2xx ответ или ответ, который нельзя разобрать.
type RemoteError struct {
	Service    string
	Op         string
	StatusCode int
	Message    string
}

// Error реализует интерфейс error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Service, e.Op, e.StatusCode, e.Message)
}

// Is позволяет errors.Is(err, ErrRemote).
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// IsTransport проверяет, является ли ошибка транспортной.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsRemote проверяет, является ли ошибка ответом сервиса.
func IsRemote(err error) bool {
	return errors.Is(err, ErrRemote)
}
