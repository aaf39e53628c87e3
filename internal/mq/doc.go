// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — связь с RabbitMQ: состояние, переподключение с backoff, подписка на восстановление
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - forwarder.go  — асинхронная пересылка переходов шагов из оркестратора
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - step.transition — переход шага pipeline
//
// Exchanges:
//   - veil.events — события pipeline
//   - veil.dlq    — dead letter queue
package mq
