package domain

import (
	"encoding/json"
	"time"
)

// InferredHealthNote — пометка для сервисов без собственного liveness endpoint.
const InferredHealthNote = "health inferred from dependents"

// ServiceDescriptor — описание зависимого сервиса.
//
// Задаётся в конфигурации и не меняется после загрузки.
type ServiceDescriptor struct {
	// Name — уникальное имя сервиса.
	Name string `json:"name" yaml:"name"`

	// Address — базовый адрес (scheme://host:port).
	Address string `json:"address" yaml:"address"`

	// LivenessPath — путь liveness probe. Пустой — прямого probe нет.
	LivenessPath string `json:"liveness_path,omitempty" yaml:"liveness_path"`

	// Critical — без этого сервиса pipeline не может завершиться.
	Critical bool `json:"critical" yaml:"critical"`

	// Capability — заявленная функция сервиса (pseudonymization, analysis, ...).
	Capability string `json:"capability,omitempty" yaml:"capability"`
}

// Inferred возвращает true, если сервис доступен только через другие сервисы
// и его здоровье не проверяется напрямую.
func (d ServiceDescriptor) Inferred() bool {
	return d.LivenessPath == ""
}

// HealthRecord — результат последней проверки сервиса.
type HealthRecord struct {
	Service     string          `json:"service"`
	Status      HealthStatus    `json:"status"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency"`
	LastError   string          `json:"last_error,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Inferred    bool            `json:"inferred,omitempty"`
	Note        string          `json:"note,omitempty"`
}

// IsHealthy возвращает true для healthy.
func (r HealthRecord) IsHealthy() bool {
	return r.Status == HealthStatusHealthy
}

// HealthSummary — агрегат по всем сервисам.
type HealthSummary struct {
	HealthyCount int       `json:"healthy_count"`
	TotalCount   int       `json:"total_count"`
	Ratio        float64   `json:"ratio"`
	CheckedAt    time.Time `json:"checked_at"`
}
