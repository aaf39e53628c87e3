package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shaiso/Veil/internal/remote"
	"github.com/shaiso/Veil/internal/stages"
)

// Services — операции зависимых сервисов, по одной на стадию.
//
// Все поля кроме Augment и Feedback обязательны. Отсутствующая optional
// или background операция делает шаг no-op (success с пустым payload).
type Services struct {
	Pseudonymize stages.Operation
	Augment      stages.Operation
	AnalyzeA     stages.Operation
	AnalyzeB     stages.Operation
	Validate     stages.Operation
	Feedback     stages.Operation
	Restore      stages.Operation
}

// RemoteOperation создаёт операцию, которая POST-ит вход в path сервиса.
func RemoteOperation(client *remote.Client, path string, timeout time.Duration) stages.Operation {
	return func(ctx context.Context, in json.RawMessage) (json.RawMessage, error) {
		return client.Call(ctx, path, in, timeout)
	}
}

// noop — операция для незаданной optional/background стадии.
func noop(context.Context, json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}

// --- Контракты ответов ---

// pseudonymizeRequest — вход pseudonymization и intelligence-augmentation.
type pseudonymizeRequest struct {
	Text string `json:"text"`
}

// pseudonymizeResponse — ответ pseudonymization.
type pseudonymizeResponse struct {
	PseudonymizedText string `json:"pseudonymized_text"`

	// Token передаётся в restoration как есть.
	Token json.RawMessage `json:"token"`
}

// analysisRequest — общий вход участников parallel стадии.
type analysisRequest struct {
	Text         string          `json:"text"`
	Intelligence json.RawMessage `json:"intelligence,omitempty"`
}

// analysisResponse — ответ analysis backend.
type analysisResponse struct {
	Analysis json.RawMessage `json:"analysis"`
}

// validationRequest — вход validation-system.
type validationRequest struct {
	Text     string          `json:"text"`
	Analysis json.RawMessage `json:"analysis"`
}

// feedbackRequest — вход learning-feedback.
type feedbackRequest struct {
	Analysis   json.RawMessage `json:"analysis"`
	Validation json.RawMessage `json:"validation"`
	Backend    string          `json:"backend"`
}

// restorationRequest — вход restoration.
type restorationRequest struct {
	Text  json.RawMessage `json:"text"`
	Token json.RawMessage `json:"token"`
}

// restorationResponse — ответ restoration.
type restorationResponse struct {
	RestoredText json.RawMessage `json:"restored_text"`
}

// Output — итоговый результат run.
type Output struct {
	RestoredText    json.RawMessage `json:"restored_text"`
	Validation      json.RawMessage `json:"validation"`
	AnalysisBackend string          `json:"analysis_backend"`
}

// decodePseudonymized проверяет контракт pseudonymization.
func decodePseudonymized(out json.RawMessage) (pseudonymizeResponse, error) {
	var resp pseudonymizeResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return resp, fmt.Errorf("%w: pseudonymization: %v", ErrContractViolation, err)
	}
	if resp.PseudonymizedText == "" {
		return resp, fmt.Errorf("%w: pseudonymization: missing pseudonymized_text", ErrContractViolation)
	}
	if isAbsent(resp.Token) {
		return resp, fmt.Errorf("%w: pseudonymization: missing token", ErrContractViolation)
	}
	return resp, nil
}

// decodeAnalysis проверяет контракт analysis backend.
func decodeAnalysis(out json.RawMessage) (analysisResponse, error) {
	var resp analysisResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return resp, fmt.Errorf("%w: analysis: %v", ErrContractViolation, err)
	}
	if isAbsent(resp.Analysis) {
		return resp, fmt.Errorf("%w: analysis: missing analysis", ErrContractViolation)
	}
	return resp, nil
}

// decodeRestored проверяет контракт restoration.
func decodeRestored(out json.RawMessage) (restorationResponse, error) {
	var resp restorationResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return resp, fmt.Errorf("%w: restoration: %v", ErrContractViolation, err)
	}
	if isAbsent(resp.RestoredText) {
		return resp, fmt.Errorf("%w: restoration: missing restored_text", ErrContractViolation)
	}
	return resp, nil
}

// checked оборачивает операцию проверкой контракта ответа.
// Нарушение контракта — ошибка операции, т.е. ошибка шага.
func checked[T any](op stages.Operation, decode func(json.RawMessage) (T, error)) stages.Operation {
	return func(ctx context.Context, in json.RawMessage) (json.RawMessage, error) {
		out, err := op(ctx, in)
		if err != nil {
			return nil, err
		}
		if _, err := decode(out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// isAbsent — поле не пришло или пришло как null.
func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
