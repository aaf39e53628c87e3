// Veil Orchestrator — выполняет pipeline и следит за здоровьем зависимостей.
//
// Orchestrator:
//   - Читает конфигурацию (VEIL_CONFIG, default: veil.yaml) и следит за её изменениями
//   - Выполняет pipeline через удалённые сервисы стадий
//   - Опрашивает liveness зависимостей (health monitor)
//   - Сохраняет историю runs в Postgres и чистит её по расписанию (если задан DB_URL)
//   - Публикует переходы шагов в RabbitMQ (если задан RABBITMQ_URL)
//   - Отдаёт HTTP API, WebSocket поток событий, /healthz и /metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Veil/internal/api"
	"github.com/shaiso/Veil/internal/config"
	"github.com/shaiso/Veil/internal/domain"
	"github.com/shaiso/Veil/internal/health"
	"github.com/shaiso/Veil/internal/mq"
	"github.com/shaiso/Veil/internal/orchestrator"
	"github.com/shaiso/Veil/internal/remote"
	"github.com/shaiso/Veil/internal/repo"
	"github.com/shaiso/Veil/internal/scheduler"
	"github.com/shaiso/Veil/internal/stages"
	"github.com/shaiso/Veil/internal/telemetry"
	"github.com/shaiso/Veil/internal/ws"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting veil-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := os.Getenv("VEIL_CONFIG")
	if configPath == "" {
		configPath = "veil.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	logger.Info("config loaded", "path", configPath, "services", len(cfg.Services))

	// Операции стадий
	services, err := buildServices(cfg)
	if err != nil {
		logger.Error("failed to build pipeline services", "error", err)
		os.Exit(1)
	}

	// История runs (опционально)
	var history orchestrator.HistoryStore
	var runs api.RunStore
	if cfg.Database.URL != "" {
		pool, err := repo.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := repo.Migrate(ctx, pool); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected")

		runRepo := repo.NewRunRepo(pool)
		history, runs = runRepo, runRepo

		retention, err := scheduler.New(scheduler.Config{
			Store:     runRepo,
			Retention: cfg.History.Retention,
			Schedule:  cfg.History.PruneSchedule,
			Logger:    logger,
		})
		if err != nil {
			logger.Error("failed to create retention scheduler", "error", err)
			os.Exit(1)
		}
		retention.Start(ctx)
		defer retention.Stop()
	} else {
		logger.Warn("DB_URL not set, run history disabled")
	}

	// Создаём orchestrator
	orch, err := orchestrator.New(orchestrator.Config{
		Services:   services,
		Precedence: cfg.Pipeline.Precedence,
		History:    history,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	// Health monitor
	monitor, err := health.New(health.Config{
		Services:    cfg.Services,
		Interval:    cfg.Health.Interval,
		Timeout:     cfg.Health.Timeout,
		Concurrency: cfg.Health.Concurrency,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create health monitor", "error", err)
		os.Exit(1)
	}

	// RabbitMQ (опционально)
	if cfg.Broker.URL != "" {
		mqConn, err := mq.NewConnection(cfg.Broker.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, step events will not be published", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}

			forwarder := mq.NewForwarder(mq.ForwarderConfig{
				Publisher: mq.NewPublisher(mqConn, logger),
				Logger:    logger,
			})
			forwarder.Start(ctx)
			defer forwarder.Stop()

			orch.Subscribe(forwarder.Observe)
		}
	}

	// WebSocket hub
	hub := ws.New(ws.Config{
		Snapshot: func() ws.Snapshot {
			return ws.Snapshot{Pipeline: orch.State(), Health: monitor.Summary()}
		},
		Logger: logger,
	})
	orch.Subscribe(hub.Observe)
	go hub.Run(ctx)

	// Запускаем компоненты. Orchestrator живёт дольше сигнального ctx:
	// его останавливает явный Stop после Shutdown, когда запросы уже дообслужены.
	orch.Start(context.Background())
	monitor.Start(ctx)

	// Hot reload: список сервисов для health monitor.
	// Привязка стадий к сервисам применяется только при перезапуске.
	go func() {
		err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
			if err := monitor.SetServices(next.Services); err != nil {
				logger.Warn("failed to apply services from config", "error", err)
			}
		})
		if err != nil {
			logger.Warn("config watch stopped", "error", err)
		}
	}()

	// HTTP API
	handler := api.NewHandler(api.Config{
		Pipeline: orch,
		Health:   monitor,
		Runs:     runs,
		Events:   hub,
		Logger:   logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	monitor.Stop()
	orch.Stop()
	logger.Info("veil-orchestrator stopped")
}

// buildServices привязывает стадии pipeline к удалённым сервисам из конфигурации.
func buildServices(cfg *config.Config) (orchestrator.Services, error) {
	clients := make(map[string]*remote.Client)

	op := func(id domain.StepID) (stages.Operation, error) {
		stage, ok := cfg.Pipeline.Stages[id]
		if !ok {
			return nil, nil
		}

		client, ok := clients[stage.Service]
		if !ok {
			desc, found := cfg.Service(stage.Service)
			if !found {
				return nil, fmt.Errorf("stage %s: unknown service %q", id, stage.Service)
			}
			client = remote.New(remote.Config{Descriptor: desc, Timeout: stage.Timeout})
			clients[stage.Service] = client
		}

		return orchestrator.RemoteOperation(client, stage.Path, stage.Timeout), nil
	}

	var svc orchestrator.Services
	bindings := []struct {
		id  domain.StepID
		dst *stages.Operation
	}{
		{domain.StepPseudonymization, &svc.Pseudonymize},
		{domain.StepIntelligenceAugmentation, &svc.Augment},
		{domain.StepAnalysisA, &svc.AnalyzeA},
		{domain.StepAnalysisB, &svc.AnalyzeB},
		{domain.StepValidationSystem, &svc.Validate},
		{domain.StepLearningFeedback, &svc.Feedback},
		{domain.StepRestoration, &svc.Restore},
	}

	for _, b := range bindings {
		operation, err := op(b.id)
		if err != nil {
			return orchestrator.Services{}, err
		}
		*b.dst = operation
	}

	return svc, nil
}
