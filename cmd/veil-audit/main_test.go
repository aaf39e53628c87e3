package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Veil/internal/domain"
	"github.com/shaiso/Veil/internal/mq"
)

type fakeStore struct {
	saved map[uuid.UUID]domain.StepEvent
	err   error
}

func (f *fakeStore) Save(_ context.Context, id uuid.UUID, event domain.StepEvent) error {
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = make(map[uuid.UUID]domain.StepEvent)
	}
	f.saved[id] = event
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stepDelivery(event domain.StepEvent) *mq.Delivery {
	return &mq.Delivery{Message: *mq.NewStepMessage(event)}
}

func TestAuditHandler_StoresEvent(t *testing.T) {
	store := &fakeStore{}
	handler := newAuditHandler(store, discardLogger())

	event := domain.StepEvent{
		RunID:  uuid.New(),
		StepID: domain.StepValidationSystem,
		Result: domain.StepResult{Status: domain.StepStatusProcessing},
		At:     time.Now().UTC(),
	}
	d := stepDelivery(event)

	if err := handler(context.Background(), d); err != nil {
		t.Fatalf("handler: %v", err)
	}

	id := uuid.MustParse(d.Message.ID)
	got, ok := store.saved[id]
	if !ok {
		t.Fatal("event not stored")
	}
	if got.RunID != event.RunID || got.StepID != event.StepID || got.Result.Status != event.Result.Status {
		t.Errorf("stored = %+v, want %+v", got, event)
	}
}

func TestAuditHandler_SkipsOtherTypes(t *testing.T) {
	store := &fakeStore{}
	handler := newAuditHandler(store, discardLogger())

	d := &mq.Delivery{Message: mq.Message{ID: uuid.NewString(), Type: "other"}}
	if err := handler(context.Background(), d); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(store.saved) != 0 {
		t.Error("unexpected store")
	}
}

func TestAuditHandler_MalformedID(t *testing.T) {
	handler := newAuditHandler(&fakeStore{}, discardLogger())

	d := stepDelivery(domain.StepEvent{RunID: uuid.New(), StepID: domain.StepRestoration})
	d.Message.ID = "not-a-uuid"

	err := handler(context.Background(), d)
	if !errors.Is(err, mq.ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestAuditHandler_MalformedPayload(t *testing.T) {
	handler := newAuditHandler(&fakeStore{}, discardLogger())

	d := &mq.Delivery{Message: mq.Message{
		ID:      uuid.NewString(),
		Type:    mq.MessageTypeStepTransition,
		Payload: "not an event",
	}}

	err := handler(context.Background(), d)
	if !errors.Is(err, mq.ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestAuditHandler_StoreError(t *testing.T) {
	boom := errors.New("db down")
	handler := newAuditHandler(&fakeStore{err: boom}, discardLogger())

	d := stepDelivery(domain.StepEvent{RunID: uuid.New(), StepID: domain.StepRestoration})

	err := handler(context.Background(), d)
	if !errors.Is(err, boom) {
		t.Errorf("expected store error, got %v", err)
	}
	if errors.Is(err, mq.ErrMalformedPayload) {
		t.Error("store error must be retried, not dead-lettered")
	}
}
