package status

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/routeharness/routeharness/internal/metrics"
	"github.com/routeharness/routeharness/pkg/types"
)

func newTestServer(t *testing.T, deps Dependencies) *httptest.Server {
	t.Helper()
	srv := New(Config{}, deps)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, Dependencies{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestSnapshotReflectsCollector(t *testing.T) {
	collector := metrics.NewCollector()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 100; i++ {
		latency := time.Duration(i) * time.Millisecond
		collector.Record(types.Sample{
			StudyUID: fmt.Sprintf("2.25.%d", i),
			Start:    base,
			End:      base.Add(latency),
			Latency:  latency,
			Success:  true,
		})
	}
	collector.Record(types.Sample{
		StudyUID: "2.25.101",
		Start:    base,
		End:      base.Add(time.Millisecond),
		Failure:  types.FailureConnect,
	})

	ts := newTestServer(t, Dependencies{Collector: collector})

	resp, err := http.Get(ts.URL + "/api/v1/snapshot")
	if err != nil {
		t.Fatalf("snapshot request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q, want application/json", ct)
	}

	var body struct {
		State        string                `json:"state"`
		Snapshot     types.MetricsSnapshot `json:"snapshot"`
		StreamingP95 time.Duration         `json:"streaming_p95_ns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if body.State != "idle" {
		t.Fatalf("state = %q, want idle without a driver", body.State)
	}
	if body.Snapshot.Count != 101 || body.Snapshot.Failed != 1 {
		t.Fatalf("snapshot count/failed = %d/%d, want 101/1", body.Snapshot.Count, body.Snapshot.Failed)
	}
	if body.Snapshot.Failures[types.FailureConnect] != 1 {
		t.Fatalf("connect failures = %d, want 1", body.Snapshot.Failures[types.FailureConnect])
	}
	if body.Snapshot.P95Latency != 95*time.Millisecond {
		t.Fatalf("exact p95 = %v, want 95ms", body.Snapshot.P95Latency)
	}
	// hdrhistogram is approximate at 3 significant figures.
	if body.StreamingP95 < 90*time.Millisecond || body.StreamingP95 > 100*time.Millisecond {
		t.Fatalf("streaming p95 = %v, want ~95ms", body.StreamingP95)
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	collector := metrics.NewCollector()
	now := time.Now()
	collector.Record(types.Sample{
		StudyUID: "2.25.102",
		Start:    now,
		End:      now.Add(10 * time.Millisecond),
		Latency:  10 * time.Millisecond,
		Success:  true,
	})

	ts := newTestServer(t, Dependencies{Collector: collector})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	if !strings.Contains(string(raw), "routeharness_attempts_total 1") {
		t.Fatalf("metrics output missing attempts counter:\n%s", raw)
	}
}

func TestSnapshotRejectsPost(t *testing.T) {
	ts := newTestServer(t, Dependencies{})

	resp, err := http.Post(ts.URL+"/api/v1/snapshot", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status = %d, want 405", resp.StatusCode)
	}
}
