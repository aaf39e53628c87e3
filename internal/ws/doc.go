// Package ws транслирует события pipeline в WebSocket клиентов.
//
// При подключении клиент получает snapshot (состояние pipeline и сводку
// здоровья), затем каждый переход шага как отдельное сообщение "step"
// и периодический snapshot раз в interval.
//
// Hub.Observe совместим с orchestrator.Observer и никогда не блокируется:
// клиент с переполненным буфером отключается.
package ws
