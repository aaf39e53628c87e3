package mq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeAMQP — соединение, разрыв которого управляется тестом.
type fakeAMQP struct {
	mu        sync.Mutex
	receivers []chan *amqp.Error
	closed    bool
}

func (f *fakeAMQP) Channel() (*amqp.Channel, error) { return nil, nil }

func (f *fakeAMQP) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(receiver)
		return receiver
	}
	f.receivers = append(f.receivers, receiver)
	return receiver
}

func (f *fakeAMQP) Close() error {
	f.shutdown(nil)
	return nil
}

func (f *fakeAMQP) drop(cause *amqp.Error) {
	f.shutdown(cause)
}

func (f *fakeAMQP) shutdown(cause *amqp.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, r := range f.receivers {
		if cause != nil {
			r <- cause
		}
		close(r)
	}
}

func (f *fakeAMQP) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer отдаёт fakeAMQP; fail — сколько следующих попыток завершатся ошибкой.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeAMQP
	fail  int
	dials int
}

func (d *fakeDialer) dial(url string) (amqpConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail > 0 {
		d.fail--
		return nil, errors.New("connection refused")
	}
	c := &fakeAMQP{}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) current() *fakeAMQP {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = n
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitState(t *testing.T, c *Connection, want LinkState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", c.State(), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestConnection_InitialDialFails(t *testing.T) {
	d := &fakeDialer{fail: 1}
	if _, err := newConnection("amqp://test", quietLogger(), linkOptions{dial: d.dial}); err == nil {
		t.Fatal("expected error when broker is unreachable at start")
	}
}

func TestConnection_ReconnectsAfterLinkLoss(t *testing.T) {
	d := &fakeDialer{}
	c, err := newConnection("amqp://test", quietLogger(), linkOptions{
		dial:       d.dial,
		backoffMin: time.Millisecond,
		backoffMax: 4 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("newConnection: %v", err)
	}
	defer c.Close()

	if !c.IsConnected() {
		t.Fatal("expected link up after connect")
	}

	first, second := c.Reconnected(), c.Reconnected()
	lost := d.current()

	d.failNext(2)
	lost.drop(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"})

	for i, sub := range []<-chan struct{}{first, second} {
		select {
		case <-sub:
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d was not notified about reconnect", i)
		}
	}

	if c.State() != LinkUp {
		t.Errorf("state = %s, want up", c.State())
	}
	if c.Reconnects() != 1 {
		t.Errorf("Reconnects() = %d, want 1", c.Reconnects())
	}
	// начальное подключение + две неудачи + успешное
	if d.count() != 4 {
		t.Errorf("dials = %d, want 4", d.count())
	}
	if d.current() == lost {
		t.Error("expected a fresh connection after reconnect")
	}
}

func TestConnection_CloseInterruptsBackoff(t *testing.T) {
	d := &fakeDialer{}
	c, err := newConnection("amqp://test", quietLogger(), linkOptions{
		dial:       d.dial,
		backoffMin: time.Hour,
	})
	if err != nil {
		t.Fatalf("newConnection: %v", err)
	}

	d.current().drop(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"})
	waitState(t, c, LinkDown)

	if err := c.WithChannel(context.Background(), func(*amqp.Channel) error { return nil }); !errors.Is(err, ErrNoChannel) {
		t.Errorf("expected ErrNoChannel while down, got %v", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on reconnect backoff")
	}

	if c.State() != LinkClosed {
		t.Errorf("state = %s, want closed", c.State())
	}
	if err := c.WithChannel(context.Background(), func(*amqp.Channel) error { return nil }); !errors.Is(err, ErrLinkClosed) {
		t.Errorf("expected ErrLinkClosed after Close, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
}

func TestConnection_CloseShutsDownLink(t *testing.T) {
	d := &fakeDialer{}
	c, err := newConnection("amqp://test", quietLogger(), linkOptions{dial: d.dial})
	if err != nil {
		t.Fatalf("newConnection: %v", err)
	}

	conn := d.current()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !conn.isClosed() {
		t.Error("underlying connection should be closed")
	}
	if c.IsConnected() {
		t.Error("IsConnected after Close")
	}
	if c.Reconnects() != 0 {
		t.Errorf("Close must not trigger reconnect, got %d", c.Reconnects())
	}
}
