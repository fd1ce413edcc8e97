package main

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/routeharness/routeharness/internal/config"
)

func TestAttrListParsing(t *testing.T) {
	var attrs attrList
	if err := attrs.Set("StudyDescription=Visual Fields (VF) GPA"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := attrs.Set("Modality=OPV"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Name != "StudyDescription" || attrs[0].Value != "Visual Fields (VF) GPA" {
		t.Fatalf("unexpected first attribute: %+v", attrs[0])
	}
	if got := attrs.String(); !strings.Contains(got, "Modality=OPV") {
		t.Fatalf("String() = %q missing second attribute", got)
	}
}

func TestAttrListRejectsMalformed(t *testing.T) {
	var attrs attrList
	if err := attrs.Set("no-separator"); err == nil {
		t.Fatal("expected error for value without separator")
	}
	if err := attrs.Set("=value"); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestLoadItemsFallsBackToSynthetic(t *testing.T) {
	cfg := config.Default()
	cfg.Dataset.RootDir = ""

	logger := log.New(io.Discard, "", 0)
	loaded, err := loadItems(cfg, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded) == 0 {
		t.Fatal("expected synthetic items")
	}
	for _, item := range loaded {
		if len(item.Payload) == 0 {
			t.Fatalf("synthetic item %s has empty payload", item.StudyUID)
		}
	}
}

func TestBuildBackendsRejectsUnknownName(t *testing.T) {
	cfg := config.Default()
	cfg.Verification.Backends = []string{"carrier-pigeon"}

	_, _, err := buildBackends(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for unknown backend name")
	}
}

func TestBuildBackendsOrdersByConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoint.Host = "127.0.0.1"
	cfg.Verification.Backends = []string{config.BackendDIMSE, config.BackendAPI}
	cfg.Verification.API.BaseURL = "http://127.0.0.1:8080"

	backends, cleanup, err := buildBackends(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup()
	if len(backends) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(backends))
	}
	if backends[0].Name() != "dimse" || backends[1].Name() != "api" {
		t.Fatalf("unexpected backend order: %s, %s", backends[0].Name(), backends[1].Name())
	}
}
