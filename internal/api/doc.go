// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (оркестратор, health monitor, история, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - pipeline_handler.go — обработчики для /pipeline
//   - health_handler.go   — обработчики для /health
//   - run_handler.go      — обработчики для /runs
//
// API предоставляет REST endpoints для запуска pipeline, чтения его
// состояния, здоровья зависимостей и истории runs.
package api
