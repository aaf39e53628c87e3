package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shaiso/Veil/internal/domain"
	"github.com/shaiso/Veil/internal/telemetry"
)

const (
	// DefaultCallTimeout — таймаут вызовов с полезной нагрузкой (включая инференс моделей).
	DefaultCallTimeout = 120 * time.Second

	// DefaultProbeTimeout — таймаут liveness probe.
	DefaultProbeTimeout = 5 * time.Second

	maxResponseBody = 10 * 1024 * 1024 // 10 MB
)

// Client — вызовы одного зависимого сервиса.
type Client struct {
	desc       domain.ServiceDescriptor
	httpClient *http.Client
	headers    map[string]string
	timeout    time.Duration
}

// Config — конфигурация Client.
type Config struct {
	// Descriptor — описание сервиса.
	Descriptor domain.ServiceDescriptor

	// Timeout — таймаут Call по умолчанию (default: 120s).
	Timeout time.Duration

	// Headers — заголовки, добавляемые к каждому запросу.
	Headers map[string]string

	// HTTPClient — опционально; если nil, создаётся новый.
	HTTPClient *http.Client
}

// New создаёт новый Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Client{
		desc:       cfg.Descriptor,
		httpClient: httpClient,
		headers:    headers,
		timeout:    timeout,
	}
}

// Descriptor возвращает описание сервиса.
func (c *Client) Descriptor() domain.ServiceDescriptor {
	return c.desc
}

// Name возвращает имя сервиса.
func (c *Client) Name() string {
	return c.desc.Name
}

// Call выполняет POST path с JSON-телом и возвращает JSON ответа.
//
// timeout <= 0 — используется таймаут клиента.
// Пустое тело ответа возвращается как nil без ошибки.
func (c *Client) Call(ctx context.Context, path string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s: %w", c.desc.Name, err)
	}

	op := http.MethodPost + " " + path
	logger := telemetry.WithService(telemetry.FromContext(ctx), c.desc.Name)

	started := time.Now()
	respBody, status, err := c.do(ctx, http.MethodPost, path, body, timeout)
	if err != nil {
		logger.Debug("remote call failed", "op", op, "duration", time.Since(started), "error", err)
		return nil, err
	}
	logger.Debug("remote call", "op", op, "status", status, "duration", time.Since(started))

	if status < 200 || status > 299 {
		return nil, &RemoteError{
			Service:    c.desc.Name,
			Op:         op,
			StatusCode: status,
			Message:    truncate(strings.TrimSpace(string(respBody)), 200),
		}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}
	if !json.Valid(respBody) {
		return nil, &RemoteError{
			Service:    c.desc.Name,
			Op:         op,
			StatusCode: status,
			Message:    "malformed JSON response",
		}
	}

	return json.RawMessage(respBody), nil
}

// Probe выполняет GET на liveness path.
//
// Возвращает сырой ответ (JSON или строку, упакованную в JSON).
func (c *Client) Probe(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	respBody, status, err := c.do(ctx, http.MethodGet, c.desc.LivenessPath, nil, timeout)
	if err != nil {
		return nil, err
	}

	if status < 200 || status > 299 {
		return nil, &RemoteError{
			Service:    c.desc.Name,
			Op:         http.MethodGet + " " + c.desc.LivenessPath,
			StatusCode: status,
			Message:    truncate(strings.TrimSpace(string(respBody)), 200),
		}
	}

	return rawPayload(respBody), nil
}

// do выполняет HTTP запрос с таймаутом.
func (c *Client) do(ctx context.Context, method, path string, body []byte, timeout time.Duration) ([]byte, int, error) {
	op := method + " " + path

	if c.desc.Address == "" {
		return nil, 0, &TransportError{Service: c.desc.Name, Op: op, Err: ErrNoAddress}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, joinURL(c.desc.Address, path), bodyReader)
	if err != nil {
		return nil, 0, &TransportError{Service: c.desc.Name, Op: op, Err: err}
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Service: c.desc.Name, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, 0, &TransportError{Service: c.desc.Name, Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	return respBody, resp.StatusCode, nil
}

// joinURL склеивает базовый адрес и путь без двойных слешей.
func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// rawPayload возвращает body как JSON; не-JSON упаковывается в строку.
func rawPayload(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}

// truncate обрезает строку до maxLen байт, не разрезая руну.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
