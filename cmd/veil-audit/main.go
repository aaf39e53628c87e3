// Veil Audit — сохраняет переходы шагов pipeline из RabbitMQ в Postgres.
//
// Читает очередь events.steps, каждое событие пишет в step_events.
// Повторная доставка сообщения с тем же ID не создаёт дубликат.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Veil/internal/domain"
	"github.com/shaiso/Veil/internal/mq"
	"github.com/shaiso/Veil/internal/repo"
	"github.com/shaiso/Veil/internal/telemetry"
)

var eventsStored = promauto.NewCounter(prometheus.CounterOpts{
	Name: "veil_audit_events_stored_total",
	Help: "Total step events stored by veil-audit",
})

// eventStore — хранилище событий.
type eventStore interface {
	Save(ctx context.Context, id uuid.UUID, event domain.StepEvent) error
}

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting veil-audit")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, os.Getenv("DB_URL"))
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

	// RabbitMQ
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueEventsSteps),
		Handler:  newAuditHandler(repo.NewEventRepo(pool), logger),
		Prefetch: 32,
	})

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("broker disconnected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8084"
	if v := os.Getenv("AUDIT_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("consuming", "queue", mq.QueueEventsSteps)
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("veil-audit stopped")
}

// newAuditHandler создаёт обработчик, сохраняющий переходы шагов.
// Сообщения других типов подтверждаются без сохранения.
func newAuditHandler(store eventStore, logger *slog.Logger) mq.Handler {
	return func(ctx context.Context, d *mq.Delivery) error {
		if d.Message.Type != mq.MessageTypeStepTransition {
			logger.Debug("skipping message", "type", d.Message.Type, "message_id", d.Message.ID)
			return nil
		}

		id, err := uuid.Parse(d.Message.ID)
		if err != nil {
			return fmt.Errorf("%w: message id %q: %v", mq.ErrMalformedPayload, d.Message.ID, err)
		}

		event, err := mq.ParsePayload[domain.StepEvent](&d.Message)
		if err != nil {
			return err
		}

		if err := store.Save(ctx, id, event); err != nil {
			return err
		}

		eventsStored.Inc()
		telemetry.WithRunID(logger, event.RunID.String()).Debug("step event stored",
			"step_id", event.StepID,
			"status", event.Result.Status,
		)
		return nil
	}
}
