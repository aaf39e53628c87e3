package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Veil/internal/domain"
)

// fakePublisher — брокер, связь с которым появляется к попытке downUntil.
type fakePublisher struct {
	mu        sync.Mutex
	events    []domain.StepEvent
	attempts  int
	downUntil int
	err       error
	block     chan struct{}
}

func (f *fakePublisher) PublishStepEvent(ctx context.Context, event domain.StepEvent) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts < f.downUntil {
		return ErrNoChannel
	}
	f.events = append(f.events, event)
	return f.err
}

func (f *fakePublisher) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts >= f.downUntil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakePublisher) tries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func stepEvent(id domain.StepID) domain.StepEvent {
	return domain.StepEvent{
		RunID:  uuid.New(),
		StepID: id,
		Result: domain.StepResult{Status: domain.StepStatusSuccess},
		At:     time.Now(),
	}
}

func TestForwarder_PublishesInOrder(t *testing.T) {
	pub := &fakePublisher{}
	f := NewForwarder(ForwarderConfig{Publisher: pub})
	f.Start(context.Background())

	ids := []domain.StepID{domain.StepInputData, domain.StepPseudonymization, domain.StepRestoration}
	for _, id := range ids {
		f.Observe(stepEvent(id))
	}
	f.Stop()

	if pub.count() != len(ids) {
		t.Fatalf("published %d events, want %d", pub.count(), len(ids))
	}
	for i, id := range ids {
		if pub.events[i].StepID != id {
			t.Errorf("event %d = %s, want %s", i, pub.events[i].StepID, id)
		}
	}
}

func TestForwarder_DropsWhenFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	f := NewForwarder(ForwarderConfig{Publisher: pub, Buffer: 1})

	// Без Start буфер не разбирается
	f.Observe(stepEvent(domain.StepInputData))
	f.Observe(stepEvent(domain.StepPseudonymization))
	f.Observe(stepEvent(domain.StepRestoration))

	if got := f.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}

	close(pub.block)
	f.Start(context.Background())
	f.Stop()

	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}
}

func TestForwarder_PublishErrorDoesNotStop(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	f := NewForwarder(ForwarderConfig{Publisher: pub})
	f.Start(context.Background())

	f.Observe(stepEvent(domain.StepInputData))
	f.Observe(stepEvent(domain.StepOutputData))
	f.Stop()

	if pub.count() != 2 {
		t.Errorf("published %d events, want 2", pub.count())
	}
	if pub.tries() != 2 {
		t.Errorf("error on a live link should not be retried, got %d attempts", pub.tries())
	}
	if f.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", f.Failed())
	}
}

func TestForwarder_RetriesUntilLinkRestored(t *testing.T) {
	pub := &fakePublisher{downUntil: 3}
	f := NewForwarder(ForwarderConfig{Publisher: pub, RetryDelay: 5 * time.Millisecond})
	f.Start(context.Background())

	f.Observe(stepEvent(domain.StepInputData))

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.Stop()

	if pub.tries() != 3 {
		t.Errorf("attempts = %d, want 3", pub.tries())
	}
	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}
	if f.Failed() != 0 {
		t.Errorf("Failed() = %d, want 0", f.Failed())
	}
}

func TestForwarder_GivesUpAfterTimeoutWhileDown(t *testing.T) {
	pub := &fakePublisher{downUntil: 1 << 30}
	f := NewForwarder(ForwarderConfig{
		Publisher:  pub,
		Timeout:    50 * time.Millisecond,
		RetryDelay: 5 * time.Millisecond,
	})
	f.Start(context.Background())

	f.Observe(stepEvent(domain.StepInputData))

	deadline := time.Now().Add(2 * time.Second)
	for f.Failed() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.Stop()

	if f.Failed() != 1 {
		t.Fatalf("Failed() = %d, want 1", f.Failed())
	}
	if pub.tries() < 2 {
		t.Errorf("expected retries while link is down, got %d attempts", pub.tries())
	}
	if pub.count() != 0 {
		t.Errorf("published %d events, want 0", pub.count())
	}
}

func TestForwarder_StopWhileDownDoesNotWait(t *testing.T) {
	pub := &fakePublisher{downUntil: 1 << 30}
	f := NewForwarder(ForwarderConfig{Publisher: pub, Timeout: time.Hour})

	// Без Start события остаются в буфере до Stop
	f.Observe(stepEvent(domain.StepInputData))
	f.Observe(stepEvent(domain.StepOutputData))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Start(ctx)

	stopped := make(chan struct{})
	go func() {
		f.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a disconnected broker")
	}
	if f.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", f.Failed())
	}
}

func TestParsePayload_StepEvent(t *testing.T) {
	event := stepEvent(domain.StepValidationSystem)
	msg := NewStepMessage(event)

	got, err := ParsePayload[domain.StepEvent](msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if got.RunID != event.RunID || got.StepID != event.StepID {
		t.Errorf("got %+v, want %+v", got, event)
	}
	if msg.Type != MessageTypeStepTransition {
		t.Errorf("type = %s", msg.Type)
	}
}

func TestParsePayload_Malformed(t *testing.T) {
	msg := &Message{Payload: map[string]any{"run_id": 42}}

	if _, err := ParsePayload[domain.StepEvent](msg); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}
