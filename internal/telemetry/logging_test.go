package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestFromContext_DefaultWhenMissing(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger for empty context")
	}
}

func TestStepContext(t *testing.T) {
	var buf bytes.Buffer
	base := WithRunID(slog.New(slog.NewJSONHandler(&buf, nil)), "run-1")

	ctx := StepContext(context.Background(), base, "analysis-a")
	WithService(FromContext(ctx), "svc-a").Info("called")

	out := buf.String()
	for _, want := range []string{`"run_id":"run-1"`, `"step_id":"analysis-a"`, `"service":"svc-a"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}
