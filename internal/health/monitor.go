package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Veil/internal/domain"
	"github.com/shaiso/Veil/internal/remote"
	"github.com/shaiso/Veil/internal/telemetry"
)

// Default configuration values.
const (
	defaultInterval    = 5 * time.Second
	defaultTimeout     = 5 * time.Second
	defaultConcurrency = 16
)

const notCheckedYet = "not checked yet"

// Monitor периодически проверяет liveness зависимых сервисов.
//
// HealthRecord принадлежат только Monitor: наблюдатели получают копии.
type Monitor struct {
	mu       sync.RWMutex
	services []domain.ServiceDescriptor
	clients  map[string]*remote.Client
	records  map[string]domain.HealthRecord

	interval    time.Duration
	timeout     time.Duration
	concurrency int
	httpClient  *http.Client
	now         func() time.Time

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Monitor.
type Config struct {
	// Services — проверяемые сервисы (хотя бы один).
	Services []domain.ServiceDescriptor

	// Interval — период опроса (default: 5s).
	Interval time.Duration

	// Timeout — таймаут одного probe (default: 5s).
	Timeout time.Duration

	// Concurrency — максимум одновременных probe (default: 16).
	Concurrency int

	// HTTPClient — опционально, общий HTTP клиент для probe.
	HTTPClient *http.Client

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Monitor.
func New(cfg Config) (*Monitor, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		interval:    interval,
		timeout:     timeout,
		concurrency: concurrency,
		httpClient:  cfg.HTTPClient,
		now:         time.Now,
		logger:      logger,
	}

	if err := m.SetServices(cfg.Services); err != nil {
		return nil, err
	}

	return m, nil
}

// SetServices заменяет набор сервисов (например, после перезагрузки конфига).
// Записи удалённых сервисов отбрасываются, новые получают начальное состояние.
func (m *Monitor) SetServices(services []domain.ServiceDescriptor) error {
	if len(services) == 0 {
		return ErrNoServices
	}

	clients := make(map[string]*remote.Client, len(services))
	for _, svc := range services {
		if svc.Name == "" {
			return ErrEmptyServiceName
		}
		if _, exists := clients[svc.Name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateService, svc.Name)
		}
		clients[svc.Name] = remote.New(remote.Config{
			Descriptor: svc,
			Timeout:    m.timeout,
			HTTPClient: m.httpClient,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records := make(map[string]domain.HealthRecord, len(services))
	for _, svc := range services {
		if rec, ok := m.records[svc.Name]; ok {
			records[svc.Name] = rec
			continue
		}
		records[svc.Name] = m.initialRecord(svc)
	}

	m.services = append([]domain.ServiceDescriptor(nil), services...)
	m.clients = clients
	m.records = records

	return nil
}

// initialRecord — запись до первого probe.
func (m *Monitor) initialRecord(svc domain.ServiceDescriptor) domain.HealthRecord {
	if svc.Inferred() {
		return inferredRecord(svc, m.now())
	}
	return domain.HealthRecord{
		Service:   svc.Name,
		Status:    domain.HealthStatusUnhealthy,
		LastError: notCheckedYet,
	}
}

// Services возвращает копию списка сервисов.
func (m *Monitor) Services() []domain.ServiceDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ServiceDescriptor(nil), m.services...)
}

// Start запускает периодический опрос.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancelFunc = cancel

	m.logger.Info("starting health monitor",
		"interval", m.interval,
		"timeout", m.timeout,
		"services", len(m.Services()),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pollLoop(ctx)
	}()
}

// Stop останавливает опрос и ждёт завершения текущего цикла.
func (m *Monitor) Stop() {
	if m.cancelFunc != nil {
		m.cancelFunc()
	}
	m.wg.Wait()
	m.logger.Info("health monitor stopped")
}

// pollLoop — цикл опроса.
func (m *Monitor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Первый опрос сразу при старте
	m.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll опрашивает все сервисы параллельно и заменяет карту записей целиком.
// Никогда не возвращает ошибку: неудачный probe — это unhealthy запись.
func (m *Monitor) CheckAll(ctx context.Context) map[string]domain.HealthRecord {
	m.mu.RLock()
	services := m.services
	clients := m.clients
	m.mu.RUnlock()

	results := make([]domain.HealthRecord, len(services))

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, svc := range services {
		g.Go(func() error {
			results[i] = m.probe(ctx, svc, clients[svc.Name])
			return nil
		})
	}
	_ = g.Wait()

	records := make(map[string]domain.HealthRecord, len(results))
	healthy := 0
	for _, rec := range results {
		records[rec.Service] = rec
		if rec.IsHealthy() {
			healthy++
		}
	}

	m.mu.Lock()
	// Набор сервисов мог смениться во время опроса — такие результаты выбрасываем.
	if sameServices(m.services, services) {
		m.records = records
	}
	m.mu.Unlock()

	telemetry.HealthRatio.Set(float64(healthy) / float64(len(services)))

	m.logger.Debug("health check completed",
		"healthy", healthy,
		"total", len(services),
	)

	return copyRecords(records)
}

// CheckOne опрашивает один сервис и обновляет его запись.
func (m *Monitor) CheckOne(ctx context.Context, name string) (domain.HealthRecord, error) {
	m.mu.RLock()
	client, ok := m.clients[name]
	m.mu.RUnlock()

	if !ok {
		return domain.HealthRecord{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	rec := m.probe(ctx, client.Descriptor(), client)

	m.mu.Lock()
	if _, still := m.records[name]; still {
		records := copyRecords(m.records)
		records[name] = rec
		m.records = records
	}
	m.mu.Unlock()

	return rec, nil
}

// Record возвращает последнюю запись сервиса без нового probe.
func (m *Monitor) Record(name string) (domain.HealthRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[name]
	if !ok {
		return domain.HealthRecord{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return rec, nil
}

// Records возвращает копию текущих записей.
func (m *Monitor) Records() map[string]domain.HealthRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyRecords(m.records)
}

// Summary считает healthy/total по текущим записям.
// TotalCount — число сконфигурированных сервисов, включая inferred; всегда > 0.
func (m *Monitor) Summary() domain.HealthSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := domain.HealthSummary{
		TotalCount: len(m.services),
	}

	for _, rec := range m.records {
		if rec.IsHealthy() {
			summary.HealthyCount++
		}
		if rec.LastChecked.After(summary.CheckedAt) {
			summary.CheckedAt = rec.LastChecked
		}
	}

	if summary.TotalCount > 0 {
		summary.Ratio = float64(summary.HealthyCount) / float64(summary.TotalCount)
	}

	return summary
}

// probe выполняет один liveness probe.
func (m *Monitor) probe(ctx context.Context, svc domain.ServiceDescriptor, client *remote.Client) domain.HealthRecord {
	if svc.Inferred() {
		return inferredRecord(svc, m.now())
	}

	start := m.now()
	payload, err := client.Probe(ctx, m.timeout)
	latency := time.Since(start)

	rec := domain.HealthRecord{
		Service:     svc.Name,
		LastChecked: start,
		Latency:     latency,
	}

	if err != nil {
		rec.Status = domain.HealthStatusUnhealthy
		rec.LastError = err.Error()
		telemetry.WithService(m.logger, svc.Name).Warn("liveness probe failed",
			"critical", svc.Critical,
			"latency", latency,
			"error", err,
		)
	} else {
		rec.Status = domain.HealthStatusHealthy
		rec.Payload = payload
	}

	telemetry.ObserveProbe(svc.Name, rec.IsHealthy(), latency)

	return rec
}

// inferredRecord — healthy по соглашению, без сетевого вызова.
func inferredRecord(svc domain.ServiceDescriptor, at time.Time) domain.HealthRecord {
	telemetry.ObserveProbe(svc.Name, true, 0)
	return domain.HealthRecord{
		Service:     svc.Name,
		Status:      domain.HealthStatusHealthy,
		LastChecked: at,
		Inferred:    true,
		Note:        domain.InferredHealthNote,
	}
}

// sameServices сравнивает наборы сервисов по имени и порядку.
func sameServices(a, b []domain.ServiceDescriptor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func copyRecords(in map[string]domain.HealthRecord) map[string]domain.HealthRecord {
	out := make(map[string]domain.HealthRecord, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
