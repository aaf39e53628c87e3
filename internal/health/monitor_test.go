package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/Veil/internal/domain"
)

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		services []domain.ServiceDescriptor
		wantErr  error
	}{
		{"empty", nil, ErrNoServices},
		{"no name", []domain.ServiceDescriptor{{Address: "http://x"}}, ErrEmptyServiceName},
		{"duplicate", []domain.ServiceDescriptor{{Name: "a"}, {Name: "a"}}, ErrDuplicateService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Services: tt.services})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMonitor_CheckAll_Mixed(t *testing.T) {
	up := healthyServer(t)
	down := failingServer(t)

	m, err := New(Config{
		Services: []domain.ServiceDescriptor{
			{Name: "up", Address: up.URL, LivenessPath: "/health"},
			{Name: "down", Address: down.URL, LivenessPath: "/health"},
			{Name: "unreachable", Address: "http://127.0.0.1:1", LivenessPath: "/health"},
			{Name: "shared-store"},
		},
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := m.CheckAll(context.Background())

	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}

	if rec := records["up"]; rec.Status != domain.HealthStatusHealthy || string(rec.Payload) != `{"status":"ok"}` {
		t.Errorf("up: unexpected record %+v", rec)
	}
	if rec := records["down"]; rec.Status != domain.HealthStatusUnhealthy || rec.LastError == "" {
		t.Errorf("down: expected unhealthy with error, got %+v", rec)
	}
	if rec := records["unreachable"]; rec.Status != domain.HealthStatusUnhealthy || rec.LastError == "" {
		t.Errorf("unreachable: expected unhealthy with error, got %+v", rec)
	}

	inferred := records["shared-store"]
	if !inferred.IsHealthy() || !inferred.Inferred || inferred.Note != domain.InferredHealthNote {
		t.Errorf("shared-store: expected inferred healthy, got %+v", inferred)
	}

	summary := m.Summary()
	if summary.TotalCount != 4 {
		t.Errorf("expected total 4, got %d", summary.TotalCount)
	}
	if summary.HealthyCount != 2 {
		t.Errorf("expected healthy 2, got %d", summary.HealthyCount)
	}
	if summary.Ratio != 0.5 {
		t.Errorf("expected ratio 0.5, got %v", summary.Ratio)
	}
}

func TestMonitor_CheckAll_AllFail(t *testing.T) {
	down := failingServer(t)

	m, err := New(Config{
		Services: []domain.ServiceDescriptor{
			{Name: "a", Address: down.URL, LivenessPath: "/health"},
			{Name: "b", Address: "", LivenessPath: "/health"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := m.CheckAll(context.Background())
	for name, rec := range records {
		if rec.IsHealthy() {
			t.Errorf("%s should be unhealthy", name)
		}
	}

	summary := m.Summary()
	if summary.TotalCount != 2 || summary.HealthyCount != 0 || summary.Ratio != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestMonitor_Summary_BeforeFirstCheck(t *testing.T) {
	m, err := New(Config{
		Services: []domain.ServiceDescriptor{
			{Name: "api", Address: "http://localhost", LivenessPath: "/health"},
			{Name: "cache"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary := m.Summary()
	if summary.TotalCount != 2 || summary.HealthyCount != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}

	rec, err := m.Record("api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.LastError != notCheckedYet {
		t.Errorf("expected %q, got %q", notCheckedYet, rec.LastError)
	}
}

func TestMonitor_CheckOne(t *testing.T) {
	up := healthyServer(t)

	m, err := New(Config{
		Services: []domain.ServiceDescriptor{
			{Name: "up", Address: up.URL, LivenessPath: "/health"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := m.CheckOne(context.Background(), "up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.IsHealthy() {
		t.Errorf("expected healthy, got %+v", rec)
	}
	if m.Records()["up"].Status != domain.HealthStatusHealthy {
		t.Error("record should be updated after CheckOne")
	}

	_, err = m.CheckOne(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownService) {
		t.Errorf("expected ErrUnknownService, got %v", err)
	}
}

func TestMonitor_SetServices(t *testing.T) {
	up := healthyServer(t)

	m, err := New(Config{
		Services: []domain.ServiceDescriptor{
			{Name: "a", Address: up.URL, LivenessPath: "/health"},
			{Name: "b", Address: up.URL, LivenessPath: "/health"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.CheckAll(context.Background())

	err = m.SetServices([]domain.ServiceDescriptor{
		{Name: "a", Address: up.URL, LivenessPath: "/health"},
		{Name: "c"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := m.Records()
	if _, ok := records["b"]; ok {
		t.Error("removed service should be dropped")
	}
	if !records["a"].IsHealthy() {
		t.Error("kept service should keep its record")
	}
	if !records["c"].Inferred {
		t.Error("new inferred service should be healthy by convention")
	}

	if err := m.SetServices(nil); !errors.Is(err, ErrNoServices) {
		t.Errorf("expected ErrNoServices, got %v", err)
	}
}

func TestMonitor_StartStop(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m, err := New(Config{
		Services: []domain.ServiceDescriptor{
			{Name: "svc", Address: server.URL, LivenessPath: "/health"},
		},
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	m.Stop()

	if hits.Load() < 2 {
		t.Errorf("expected at least 2 probes, got %d", hits.Load())
	}
	if !m.Records()["svc"].IsHealthy() {
		t.Error("svc should be healthy after polling")
	}
}
