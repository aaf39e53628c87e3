package health

import "errors"

// Ошибки health monitor.
var (
	// ErrNoServices — в конфигурации нет ни одного сервиса.
	ErrNoServices = errors.New("no services configured")

	// ErrUnknownService — сервис не найден в конфигурации.
	ErrUnknownService = errors.New("unknown service")

	// ErrDuplicateService — два сервиса с одинаковым именем.
	ErrDuplicateService = errors.New("duplicate service name")

	// ErrEmptyServiceName — у сервиса нет имени.
	ErrEmptyServiceName = errors.New("service has empty name")
)
