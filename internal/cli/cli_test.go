package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func runCmd(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd.Execute()
}

func TestClient_Execute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/pipeline/runs", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["text"] != "hello" {
			t.Errorf("text = %q, want hello", req["text"])
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"run_id":  "11111111-1111-1111-1111-111111111111",
			"success": true,
			"output":  map[string]any{"restored_text": "done"},
			"steps": []map[string]any{
				{"id": "input-data", "status": "completed"},
			},
		}})
	})

	client := newTestServer(t, mux)

	run, err := client.Execute("hello")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !run.Success {
		t.Error("expected success")
	}
	if len(run.Steps) != 1 || run.Steps[0].ID != "input-data" {
		t.Errorf("steps = %+v", run.Steps)
	}
	if !strings.Contains(string(run.Output), "restored_text") {
		t.Errorf("output = %s", run.Output)
	}
}

func TestClient_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/pipeline/runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": map[string]string{"code": "CONFLICT", "message": "pipeline is already running"},
		})
	})

	client := newTestServer(t, mux)

	_, err := client.Execute("hello")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "CONFLICT" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if err.Error() != "CONFLICT: pipeline is already running" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestClient_APIError_NoBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/pipeline/state", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	client := newTestServer(t, mux)

	_, err := client.State()
	if err == nil || err.Error() != "API error: HTTP 502" {
		t.Errorf("err = %v", err)
	}
}

func TestClient_Reset(t *testing.T) {
	called := false
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/pipeline/reset", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	client := newTestServer(t, mux)

	if err := client.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !called {
		t.Error("reset endpoint not called")
	}
}

func TestClient_HealthService_Refresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health/{service}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("service") != "validation" {
			t.Errorf("service = %q", r.PathValue("service"))
		}
		if r.URL.Query().Get("refresh") != "true" {
			t.Error("expected refresh=true")
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"service": "validation", "status": "healthy", "latency_ms": 12,
		}})
	})

	client := newTestServer(t, mux)

	rec, err := client.HealthService("validation", true)
	if err != nil {
		t.Fatalf("HealthService: %v", err)
	}
	if rec.Status != "healthy" || rec.LatencyMs != 12 {
		t.Errorf("rec = %+v", rec)
	}
}

func TestClient_ListRuns_Params(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("success") != "false" || q.Get("limit") != "5" || q.Get("offset") != "10" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data":  []map[string]any{{"run_id": "a", "success": false, "failed_step": "validation-system"}},
			"total": 1,
		})
	})

	client := newTestServer(t, mux)

	failed := false
	runs, err := client.ListRuns(ListRunsOpts{Success: &failed, Limit: 5, Offset: 10})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].FailedStep != "validation-system" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestPipelineRunCmd_Table(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/pipeline/runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"run_id":      "r1",
			"success":     false,
			"error":       "validation failed",
			"failed_step": "validation-system",
			"steps": []map[string]any{
				{"id": "pseudonymization", "status": "completed", "duration_ms": 4},
				{"id": "validation-system", "status": "error", "error": "boom"},
			},
		}})
	})

	client := newTestServer(t, mux)
	var stdout, stderr bytes.Buffer
	out := NewOutputTo(false, &stdout, &stderr)

	cmd := NewPipelineCmd(func() *Client { return client }, func() *Output { return out })
	if err := runCmd(t, cmd, "run", "hello"); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !strings.Contains(stdout.String(), "STEP") || !strings.Contains(stdout.String(), "validation-system") {
		t.Errorf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "failed at validation-system") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestPipelineRunCmd_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(path, []byte("from file"), 0o644); err != nil {
		t.Fatal(err)
	}

	var got string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/pipeline/runs", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		got = req["text"]
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"run_id": "r1", "success": true}})
	})

	client := newTestServer(t, mux)
	out := NewOutputTo(true, &bytes.Buffer{}, &bytes.Buffer{})

	cmd := NewPipelineCmd(func() *Client { return client }, func() *Output { return out })
	if err := runCmd(t, cmd, "run", "--file", path); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got != "from file" {
		t.Errorf("text = %q", got)
	}
}

func TestReadInput(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "argument", args: []string{"abc"}, want: "abc"},
		{name: "stdin", stdin: "piped", args: []string{"-"}, want: "piped"},
		{name: "missing", wantErr: true},
		{name: "blank", args: []string{"   "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readInput(strings.NewReader(tt.stdin), tt.args, "")
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHealthCmd_JSON(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"service": "analysis-a", "status": "healthy"},
				{"service": "restoration", "status": "unhealthy", "inferred": true},
			},
			"total": 2,
		})
	})

	client := newTestServer(t, mux)
	var stdout bytes.Buffer
	out := NewOutputTo(true, &stdout, &bytes.Buffer{})

	cmd := NewHealthCmd(func() *Client { return client }, func() *Output { return out })
	if err := runCmd(t, cmd); err != nil {
		t.Fatalf("health: %v", err)
	}

	var records []HealthResponse
	if err := json.Unmarshal(stdout.Bytes(), &records); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout.String())
	}
	if len(records) != 2 || !records[1].Inferred {
		t.Errorf("records = %+v", records)
	}
}

func TestHealthSummaryCmd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health/summary", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"healthy_count": 3, "total_count": 4, "ratio": 0.75,
		}})
	})

	client := newTestServer(t, mux)
	var stdout bytes.Buffer
	out := NewOutputTo(false, &stdout, &bytes.Buffer{})

	cmd := NewHealthCmd(func() *Client { return client }, func() *Output { return out })
	if err := runCmd(t, cmd, "summary"); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(stdout.String(), "75%") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunsListCmd_SuccessFlag(t *testing.T) {
	var query string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}, "total": 0})
	})

	client := newTestServer(t, mux)
	out := NewOutputTo(false, &bytes.Buffer{}, &bytes.Buffer{})

	cmd := NewRunsCmd(func() *Client { return client }, func() *Output { return out })
	if err := runCmd(t, cmd, "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(query, "success") {
		t.Errorf("success filter sent without flag: %q", query)
	}

	cmd = NewRunsCmd(func() *Client { return client }, func() *Output { return out })
	if err := runCmd(t, cmd, "list", "--success=false"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(query, "success=false") {
		t.Errorf("query = %q", query)
	}
}
