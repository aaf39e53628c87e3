// Package cli реализует инструмент командной строки Veil.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Veil API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Veil API. Разбирает конверты ответа
// ({"data"}, {"data","total"}, {"error"}) и возвращает *APIError
// для ответов с кодом 4xx/5xx.
//
//	client := cli.NewClient("http://localhost:8080")
//	run, err := client.Execute("text")
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.Encoder) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: veil runs list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - pipeline: run, state, step, reset
//   - health: (list), show, summary
//   - runs: list, show
//
// Каждая группа создаётся через фабричную функцию (NewPipelineCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
