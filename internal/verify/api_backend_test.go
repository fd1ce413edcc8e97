package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newAPITestServer(t *testing.T, jobs map[string]jobRecord) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		uid := r.URL.Query().Get("study_uid")
		rec, ok := jobs[uid]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]jobRecord{rec})
	})
	return httptest.NewServer(mux)
}

func TestAPIBackendQueryFound(t *testing.T) {
	srv := newAPITestServer(t, map[string]jobRecord{
		"2.25.100": {
			JobID:    7,
			StudyUID: "2.25.100",
			Status:   "completed",
			Attributes: map[string]string{
				"StudyDescription": "Visual Fields (VF) SFA",
				"Modality":         "OPV",
			},
		},
	})
	defer srv.Close()

	b, err := NewAPIBackend(APIConfig{BaseURL: srv.URL, Token: "secret"}, APIDependencies{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewAPIBackend: %v", err)
	}

	if err := b.Available(context.Background()); err != nil {
		t.Fatalf("Available: %v", err)
	}

	found, attrs, err := b.Query(context.Background(), "2.25.100", []string{"StudyDescription"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !found {
		t.Fatalf("expected found")
	}
	if !attrs.Equal("StudyDescription", "Visual Fields (VF) SFA") {
		t.Fatalf("attributes wrong: %+v", attrs)
	}
	if !attrs.Equal("Status", "completed") {
		t.Fatalf("job status not mapped: %+v", attrs)
	}
}

func TestAPIBackendQueryNotFound(t *testing.T) {
	srv := newAPITestServer(t, nil)
	defer srv.Close()

	b, err := NewAPIBackend(APIConfig{BaseURL: srv.URL}, APIDependencies{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewAPIBackend: %v", err)
	}

	found, attrs, err := b.Query(context.Background(), "2.25.404", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if found || attrs != nil {
		t.Fatalf("expected not found, got %+v", attrs)
	}
}

func TestAPIBackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, err := NewAPIBackend(APIConfig{BaseURL: srv.URL}, APIDependencies{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewAPIBackend: %v", err)
	}
	if err := b.Available(context.Background()); err == nil {
		t.Fatalf("expected availability error")
	}
}

func TestAPIBackendRequiresBaseURL(t *testing.T) {
	if _, err := NewAPIBackend(APIConfig{}, APIDependencies{}); err == nil {
		t.Fatalf("expected constructor error")
	}
}

func TestAPIBackendAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]jobRecord{})
	}))
	defer srv.Close()

	b, err := NewAPIBackend(APIConfig{BaseURL: srv.URL, Token: "tok123"}, APIDependencies{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewAPIBackend: %v", err)
	}
	found, _, err := b.Query(context.Background(), "2.25.1", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if found {
		t.Fatalf("empty list should be not found")
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}
