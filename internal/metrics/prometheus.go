package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/routeharness/routeharness/pkg/types"
)

// WritePrometheus renders the current aggregate using the Prometheus text format.
func (c *Collector) WritePrometheus(w io.Writer) error {
	snap := c.Snapshot()
	lines := []string{
		"# HELP routeharness_attempts_total Number of transmission attempts recorded.",
		"# TYPE routeharness_attempts_total counter",
		fmt.Sprintf("routeharness_attempts_total %d", snap.Count),
		"# HELP routeharness_failures_total Number of failed transmission attempts.",
		"# TYPE routeharness_failures_total counter",
		fmt.Sprintf("routeharness_failures_total %d", snap.Failed),
		"# HELP routeharness_error_rate Ratio of failed attempts to all attempts.",
		"# TYPE routeharness_error_rate gauge",
		fmt.Sprintf("routeharness_error_rate %g", snap.ErrorRate),
		"# HELP routeharness_latency_seconds Latency of successful attempts.",
		"# TYPE routeharness_latency_seconds gauge",
		fmt.Sprintf("routeharness_latency_seconds{stat=%q} %g", "min", snap.MinLatency.Seconds()),
		fmt.Sprintf("routeharness_latency_seconds{stat=%q} %g", "mean", snap.MeanLatency.Seconds()),
		fmt.Sprintf("routeharness_latency_seconds{stat=%q} %g", "p95", snap.P95Latency.Seconds()),
		"# HELP routeharness_throughput_per_second Attempt throughput since the collector started.",
		"# TYPE routeharness_throughput_per_second gauge",
		fmt.Sprintf("routeharness_throughput_per_second %g", snap.Throughput),
		"# HELP routeharness_failures_by_kind_total Failed attempts annotated by classification.",
		"# TYPE routeharness_failures_by_kind_total counter",
	}
	if len(snap.Failures) == 0 {
		lines = append(lines, fmt.Sprintf("routeharness_failures_by_kind_total{kind=%q} 0", "none"))
	} else {
		kinds := make([]string, 0, len(snap.Failures))
		for k := range snap.Failures {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			lines = append(lines, fmt.Sprintf("routeharness_failures_by_kind_total{kind=%q} %d", k, snap.Failures[types.FailureKind(k)]))
		}
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(c *Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := c.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
