package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaiso/Veil/internal/domain"
)

const (
	// writeTimeout — дедлайн одной записи клиенту.
	writeTimeout = 10 * time.Second

	// pongWait — сколько ждём pong до признания соединения мёртвым.
	pongWait = 60 * time.Second

	// pingPeriod должен быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize — глубина исходящего буфера клиента.
	sendBufSize = 64

	defaultInterval = 5 * time.Second
)

// Типы событий.
const (
	EventSnapshot = "snapshot"
	EventStep     = "step"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS применяется на reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message — JSON конверт сообщения клиенту.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Snapshot — полное состояние для клиента.
type Snapshot struct {
	Pipeline domain.PipelineState `json:"pipeline"`
	Health   domain.HealthSummary `json:"health"`
}

// SnapshotFunc собирает текущий Snapshot.
type SnapshotFunc func() Snapshot

// Hub управляет WebSocket клиентами.
type Hub struct {
	snapshot SnapshotFunc
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// Config — конфигурация Hub.
type Config struct {
	// Snapshot — источник snapshot (обязательно).
	Snapshot SnapshotFunc

	// Interval — период рассылки snapshot (default: 5s).
	Interval time.Duration

	Logger *slog.Logger
}

// client — один подключённый клиент.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New создаёт Hub.
func New(cfg Config) *Hub {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		snapshot: cfg.Snapshot,
		interval: interval,
		logger:   logger,
		clients:  make(map[*client]struct{}),
	}
}

// Run рассылает snapshot каждые interval до отмены ctx, затем закрывает соединения.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if data, err := h.snapshotMessage(); err == nil {
				h.broadcast(data)
			}
		}
	}
}

// Observe рассылает переход шага всем клиентам.
func (h *Hub) Observe(event domain.StepEvent) {
	data, err := json.Marshal(Message{Event: EventStep, Data: event})
	if err != nil {
		h.logger.Error("failed to marshal step event", "error", err)
		return
	}
	h.broadcast(data)
}

// ServeHTTP переводит соединение в WebSocket и обслуживает клиента.
// Блокируется до закрытия соединения.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader уже записал ответ
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}

	// Snapshot кладём до регистрации, чтобы он пришёл раньше событий
	if data, err := h.snapshotMessage(); err == nil {
		c.send <- data
	}

	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count возвращает число подключённых клиентов.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.Count())
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast отправляет data всем; отправка идёт под RLock,
// поэтому unregister не может закрыть канал посреди неё.
func (h *Hub) broadcast(data []byte) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("websocket client too slow, disconnecting")
		h.unregister(c)
	}
}

func (h *Hub) snapshotMessage() ([]byte, error) {
	var snap Snapshot
	if h.snapshot != nil {
		snap = h.snapshot()
	}
	return json.Marshal(Message{Event: EventSnapshot, Data: snap})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump пересылает сообщения из send в соединение и шлёт ping.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump читает control frames и определяет отключение.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
