package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shaiso/Veil/internal/config"
)

func TestBuildServices(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotPath, gotBody = r.URL.Path, string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pseudonymized_text":"x","token":"t"}`))
	}))
	defer srv.Close()

	yaml := strings.ReplaceAll(`
services:
  - name: pseudo
    address: ADDR
  - name: analysis
    address: ADDR
pipeline:
  stages:
    pseudonymization: {service: pseudo, path: /pseudonymize}
    analysis-a: {service: analysis, path: /a}
    analysis-b: {service: analysis, path: /b}
    validation-system: {service: analysis, path: /validate}
    restoration: {service: pseudo, path: /restore}
`, "ADDR", srv.URL)

	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	svc, err := buildServices(cfg)
	if err != nil {
		t.Fatalf("buildServices: %v", err)
	}

	if svc.Augment != nil || svc.Feedback != nil {
		t.Error("unbound optional stages should stay nil")
	}
	if svc.Pseudonymize == nil || svc.AnalyzeA == nil || svc.AnalyzeB == nil || svc.Validate == nil || svc.Restore == nil {
		t.Fatal("required stages should be bound")
	}

	out, err := svc.Pseudonymize(context.Background(), json.RawMessage(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("Pseudonymize: %v", err)
	}
	if gotPath != "/pseudonymize" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotBody, "hello") {
		t.Errorf("body = %q", gotBody)
	}
	if !strings.Contains(string(out), "pseudonymized_text") {
		t.Errorf("out = %s", out)
	}
}
