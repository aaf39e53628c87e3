// Package remote — тонкий клиент зависимых сервисов.
//
// Каждый сервис pipeline (pseudonymization, analysis, validation, ...)
// вызывается как JSON-over-HTTP с ограниченным таймаутом. Клиент ничего
// не знает о семантике ответа: он возвращает сырой JSON и различает
// два класса ошибок:
//   - TransportError — сеть, DNS, таймаут
//   - RemoteError — не-2xx ответ или невалидный JSON
package remote
