package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Veil/internal/domain"
	"github.com/shaiso/Veil/internal/scheduler"
)

// Значения по умолчанию.
const (
	DefaultPort             = 8080
	DefaultHealthInterval   = 5 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultProbeConcurrency = 16
	DefaultStageTimeout     = 120 * time.Second
	DefaultHistoryRetention = 30 * 24 * time.Hour
	DefaultPruneSchedule    = "@hourly"
)

// Config — конфигурация Veil.
type Config struct {
	Server   ServerConfig               `yaml:"server"`
	Health   HealthConfig               `yaml:"health"`
	Services []domain.ServiceDescriptor `yaml:"services"`
	Pipeline PipelineConfig             `yaml:"pipeline"`
	History  HistoryConfig              `yaml:"history"`
	Database DatabaseConfig             `yaml:"database"`
	Broker   BrokerConfig               `yaml:"broker"`
}

// ServerConfig — HTTP сервер оркестратора.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// HealthConfig — параметры health monitor.
type HealthConfig struct {
	// Interval — период опроса.
	Interval time.Duration `yaml:"interval"`

	// Timeout — таймаут одного liveness probe.
	Timeout time.Duration `yaml:"timeout"`

	// Concurrency — максимум одновременных probes.
	Concurrency int `yaml:"concurrency"`
}

// PipelineConfig — привязка стадий к сервисам.
type PipelineConfig struct {
	// Precedence — порядок предпочтения analysis backends.
	Precedence []domain.StepID `yaml:"precedence"`

	// Stages — стадия → сервис. Optional стадии можно не указывать.
	Stages map[domain.StepID]StageConfig `yaml:"stages"`
}

// StageConfig — удалённая операция стадии.
type StageConfig struct {
	// Service — имя сервиса из services.
	Service string `yaml:"service"`

	// Path — путь операции (POST).
	Path string `yaml:"path"`

	// Timeout — таймаут вызова.
	Timeout time.Duration `yaml:"timeout"`
}

// HistoryConfig — хранение истории runs.
type HistoryConfig struct {
	// Retention — сколько хранить runs.
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule — cron выражение для очистки.
	PruneSchedule string `yaml:"prune_schedule"`
}

// DatabaseConfig — Postgres. Пустой URL отключает историю.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// BrokerConfig — RabbitMQ. Пустой URL отключает публикацию событий.
type BrokerConfig struct {
	URL string `yaml:"url"`
}

// requiredStages — стадии, без которых pipeline не собрать.
var requiredStages = []domain.StepID{
	domain.StepPseudonymization,
	domain.StepAnalysisA,
	domain.StepAnalysisB,
	domain.StepValidationSystem,
	domain.StepRestoration,
}

// optionalStages — стадии, которые можно не привязывать.
var optionalStages = []domain.StepID{
	domain.StepIntelligenceAugmentation,
	domain.StepLearningFeedback,
}

// Load читает YAML файл, применяет defaults и переменные окружения.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse разбирает YAML из памяти.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applyEnv(cfg)
	applyStageDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Service возвращает сервис по имени.
func (c *Config) Service(name string) (domain.ServiceDescriptor, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return domain.ServiceDescriptor{}, false
}

// defaults возвращает Config со значениями по умолчанию.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: DefaultPort},
		Health: HealthConfig{
			Interval:    DefaultHealthInterval,
			Timeout:     DefaultProbeTimeout,
			Concurrency: DefaultProbeConcurrency,
		},
		History: HistoryConfig{
			Retention:     DefaultHistoryRetention,
			PruneSchedule: DefaultPruneSchedule,
		},
	}
}

// applyEnv переопределяет процессные параметры из окружения.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DB_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("VEIL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

// applyStageDefaults выставляет таймаут стадий без явного значения.
func applyStageDefaults(cfg *Config) {
	for id, st := range cfg.Pipeline.Stages {
		if st.Timeout == 0 {
			st.Timeout = DefaultStageTimeout
			cfg.Pipeline.Stages[id] = st
		}
	}
}

// validate проверяет обязательные поля и связи.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port out of range: %d", ErrInvalidConfig, cfg.Server.Port)
	}
	if cfg.Health.Interval <= 0 {
		return fmt.Errorf("%w: health.interval must be positive", ErrInvalidConfig)
	}
	if cfg.Health.Timeout <= 0 {
		return fmt.Errorf("%w: health.timeout must be positive", ErrInvalidConfig)
	}
	if cfg.Health.Concurrency <= 0 {
		return fmt.Errorf("%w: health.concurrency must be positive", ErrInvalidConfig)
	}
	if cfg.History.Retention <= 0 {
		return fmt.Errorf("%w: history.retention must be positive", ErrInvalidConfig)
	}
	if err := scheduler.ValidateCronExpr(cfg.History.PruneSchedule); err != nil {
		return fmt.Errorf("%w: history.prune_schedule: %v", ErrInvalidConfig, err)
	}

	if err := validateServices(cfg.Services); err != nil {
		return err
	}
	if err := validateStages(cfg); err != nil {
		return err
	}
	return validatePrecedence(cfg.Pipeline.Precedence)
}

// validateServices проверяет список сервисов.
func validateServices(services []domain.ServiceDescriptor) error {
	if len(services) == 0 {
		return fmt.Errorf("%w: at least one service is required", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(services))
	for i, s := range services {
		if s.Name == "" {
			return fmt.Errorf("%w: services[%d]: name is required", ErrInvalidConfig, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: services[%d]: duplicate name %q", ErrInvalidConfig, i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// validateStages проверяет привязку стадий к сервисам.
func validateStages(cfg *Config) error {
	for _, id := range requiredStages {
		if _, ok := cfg.Pipeline.Stages[id]; !ok {
			return fmt.Errorf("%w: pipeline.stages.%s is required", ErrInvalidConfig, id)
		}
	}

	known := make(map[domain.StepID]bool, len(requiredStages)+len(optionalStages))
	for _, id := range requiredStages {
		known[id] = true
	}
	for _, id := range optionalStages {
		known[id] = true
	}

	for id, st := range cfg.Pipeline.Stages {
		if !known[id] {
			return fmt.Errorf("%w: pipeline.stages.%s: unknown stage", ErrInvalidConfig, id)
		}
		desc, ok := cfg.Service(st.Service)
		if !ok {
			return fmt.Errorf("%w: pipeline.stages.%s: unknown service %q", ErrInvalidConfig, id, st.Service)
		}
		if desc.Address == "" {
			return fmt.Errorf("%w: pipeline.stages.%s: service %q has no address", ErrInvalidConfig, id, st.Service)
		}
		if st.Path == "" {
			return fmt.Errorf("%w: pipeline.stages.%s: path is required", ErrInvalidConfig, id)
		}
		if st.Timeout < 0 {
			return fmt.Errorf("%w: pipeline.stages.%s: timeout must be positive", ErrInvalidConfig, id)
		}
	}
	return nil
}

// validatePrecedence проверяет порядок analysis backends.
func validatePrecedence(precedence []domain.StepID) error {
	if len(precedence) == 0 {
		return nil
	}
	if len(precedence) != 2 {
		return fmt.Errorf("%w: pipeline.precedence must list both analysis stages", ErrInvalidConfig)
	}

	seen := make(map[domain.StepID]bool, 2)
	for _, id := range precedence {
		if id != domain.StepAnalysisA && id != domain.StepAnalysisB {
			return fmt.Errorf("%w: pipeline.precedence: %q is not an analysis stage", ErrInvalidConfig, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: pipeline.precedence: duplicate %q", ErrInvalidConfig, id)
		}
		seen[id] = true
	}
	return nil
}
