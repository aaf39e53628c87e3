package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// StepResponse — шаг pipeline из API.
type StepResponse struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  string          `json:"started_at,omitempty"`
	FinishedAt string          `json:"finished_at,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// StateResponse — состояние pipeline из API.
type StateResponse struct {
	RunID         string         `json:"run_id"`
	IsRunning     bool           `json:"is_running"`
	CurrentStep   string         `json:"current_step,omitempty"`
	ParallelSteps []string       `json:"parallel_steps"`
	Steps         []StepResponse `json:"steps"`
	StartTime     string         `json:"start_time,omitempty"`
	EndTime       string         `json:"end_time,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// RunResponse — итог run из API.
type RunResponse struct {
	RunID      string          `json:"run_id"`
	Success    bool            `json:"success"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	FailedStep string          `json:"failed_step,omitempty"`
	Steps      []StepResponse  `json:"steps"`
	StartTime  string          `json:"start_time"`
	EndTime    string          `json:"end_time"`
	DurationMs int64           `json:"duration_ms"`
}

// HealthResponse — здоровье сервиса из API.
type HealthResponse struct {
	Service     string          `json:"service"`
	Status      string          `json:"status"`
	LastChecked string          `json:"last_checked"`
	LatencyMs   int64           `json:"latency_ms"`
	LastError   string          `json:"last_error,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Inferred    bool            `json:"inferred"`
	Note        string          `json:"note,omitempty"`
}

// HealthSummary — сводка здоровья из API.
type HealthSummary struct {
	HealthyCount int     `json:"healthy_count"`
	TotalCount   int     `json:"total_count"`
	Ratio        float64 `json:"ratio"`
	CheckedAt    string  `json:"checked_at"`
}

// ListRunsOpts — параметры фильтрации истории runs.
type ListRunsOpts struct {
	Success *bool
	Limit   int
	Offset  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Veil API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
//
// Таймаут больше таймаута стадий: запуск pipeline ждёт результат синхронно.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// --- Pipeline ---

// Execute запускает pipeline и ждёт итог run.
func (c *Client) Execute(text string) (*RunResponse, error) {
	body := map[string]string{"text": text}
	var run RunResponse
	err := c.post("/api/v1/pipeline/runs", body, &run)
	return &run, err
}

// State возвращает состояние текущего или последнего run.
func (c *Client) State() (*StateResponse, error) {
	var state StateResponse
	err := c.get("/api/v1/pipeline/state", &state)
	return &state, err
}

// Step возвращает шаг текущего run.
func (c *Client) Step(id string) (*StepResponse, error) {
	var step StepResponse
	err := c.get("/api/v1/pipeline/steps/"+url.PathEscape(id), &step)
	return &step, err
}

// Reset сбрасывает состояние pipeline.
func (c *Client) Reset() error {
	return c.post("/api/v1/pipeline/reset", nil, nil)
}

// --- Health ---

// Health возвращает здоровье всех сервисов.
func (c *Client) Health() ([]HealthResponse, error) {
	var records []HealthResponse
	err := c.list("/api/v1/health", nil, &records)
	return records, err
}

// HealthService возвращает здоровье одного сервиса.
// С refresh=true сервис проверяется немедленно.
func (c *Client) HealthService(name string, refresh bool) (*HealthResponse, error) {
	path := "/api/v1/health/" + url.PathEscape(name)
	if refresh {
		path += "?refresh=true"
	}

	var rec HealthResponse
	err := c.get(path, &rec)
	return &rec, err
}

// HealthSummary возвращает сводку здоровья.
func (c *Client) HealthSummary() (*HealthSummary, error) {
	var summary HealthSummary
	err := c.get("/api/v1/health/summary", &summary)
	return &summary, err
}

// --- Runs ---

// ListRuns возвращает историю runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Success != nil {
		params.Set("success", strconv.FormatBool(*opts.Success))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run из истории по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+url.PathEscape(id), &run)
	return &run, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}

	return &APIError{StatusCode: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
}
