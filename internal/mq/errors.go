package mq

import "errors"

// Ошибки брокера.
var (
	// ErrNoChannel — AMQP канал недоступен (нет соединения).
	ErrNoChannel = errors.New("no channel available")

	// ErrLinkClosed — соединение закрыто через Close.
	ErrLinkClosed = errors.New("broker link closed")

	// ErrMalformedPayload — payload сообщения не разбирается в ожидаемый тип.
	ErrMalformedPayload = errors.New("malformed message payload")
)
