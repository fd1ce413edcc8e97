// Package metrics collects per-attempt samples from concurrent workers and
// derives aggregate statistics on demand. The sample store is the only
// structure in the harness mutated by more than one goroutine; all mutation
// funnels through Record's single critical section.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"

	"github.com/routeharness/routeharness/pkg/types"
)

// Collector accumulates samples and serves consistent snapshots. Safe for
// arbitrary concurrent callers.
type Collector struct {
	mu      sync.Mutex
	samples []types.Sample
	failed  int
	kinds   map[types.FailureKind]int
	hist    *hdrhistogram.Histogram
	started time.Time

	now func() time.Time
}

type Option func(*Collector)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCollector constructs an empty collector. The histogram tracks successful
// latencies from 1µs to 10min at three significant figures for cheap
// streaming quantiles; exact percentiles come from Snapshot.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		kinds: make(map[types.FailureKind]int),
		hist:  hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.started = c.now()
	return c
}

// Record appends one sample. Ownership of the sample transfers to the
// collector; callers must not mutate it afterwards.
func (c *Collector) Record(s types.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, s)
	if s.Success {
		us := int64(s.Latency / time.Microsecond)
		if us < 1 {
			us = 1
		}
		// Out-of-range values saturate; an error here only means the value
		// was clamped, which is fine for a streaming estimate.
		_ = c.hist.RecordValue(us)
	} else {
		c.failed++
		c.kinds[s.Failure]++
	}
}

// Count returns the number of recorded samples.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// Snapshot computes a consistent aggregate view of all samples recorded so
// far. Failed samples count toward the total and the error rate but never
// toward latency statistics. All values are well defined on zero samples.
func (c *Collector) Snapshot() types.MetricsSnapshot {
	c.mu.Lock()
	count := len(c.samples)
	failed := c.failed
	kinds := make(map[types.FailureKind]int, len(c.kinds))
	for k, v := range c.kinds {
		kinds[k] = v
	}
	latencies := make([]time.Duration, 0, count-failed)
	for _, s := range c.samples {
		if s.Success {
			latencies = append(latencies, s.Latency)
		}
	}
	elapsed := c.now().Sub(c.started)
	c.mu.Unlock()

	snap := types.MetricsSnapshot{
		Count:   count,
		Failed:  failed,
		Elapsed: elapsed,
	}
	if len(kinds) > 0 {
		snap.Failures = kinds
	}
	if count > 0 {
		snap.ErrorRate = float64(failed) / float64(count)
	}
	if elapsed > 0 {
		snap.Throughput = float64(count) / elapsed.Seconds()
	}
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		snap.MinLatency = latencies[0]
		var total time.Duration
		for _, l := range latencies {
			total += l
		}
		snap.MeanLatency = total / time.Duration(len(latencies))
		snap.P95Latency = latencies[percentileIndex(len(latencies), 0.95)]
	}
	return snap
}

// StreamingQuantile returns an approximate latency quantile (q in percent,
// e.g. 95) from the histogram without copying or sorting the sample set.
func (c *Collector) StreamingQuantile(q float64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.hist.ValueAtQuantile(q)) * time.Microsecond
}

// percentileIndex returns ceil(p*n)-1 clamped to [0, n-1].
func percentileIndex(n int, p float64) int {
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}
