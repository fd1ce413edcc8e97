package driver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/routeharness/routeharness/internal/dimse"
	"github.com/routeharness/routeharness/internal/items"
	"github.com/routeharness/routeharness/internal/metrics"
	"github.com/routeharness/routeharness/pkg/types"
)

// stubClient counts transmissions and can fail or delay on demand.
type stubClient struct {
	transmits atomic.Int64
	delay     time.Duration
	err       error

	mu       sync.Mutex
	inFlight int
	maxSeen  int
	starts   []time.Time
}

func (c *stubClient) Probe(ctx context.Context) error { return nil }

func (c *stubClient) Transmit(ctx context.Context, item types.WorkItem, timeout time.Duration) (time.Duration, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxSeen {
		c.maxSeen = c.inFlight
	}
	c.starts = append(c.starts, time.Now())
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()

	c.transmits.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return time.Millisecond, nil
}

func (c *stubClient) Query(ctx context.Context, uid string, filter []string, timeout time.Duration) (bool, types.AttributeSet, error) {
	return false, nil, nil
}

func (c *stubClient) maxInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSeen
}

func (c *stubClient) transmitStarts() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.starts...)
}

func testSource() items.Source {
	return items.NewCyclic([]types.WorkItem{
		{SourceFile: "a"},
		{SourceFile: "b"},
		{SourceFile: "c"},
	})
}

func newDriver(t *testing.T, cfg Config, client dimse.Client, collector *metrics.Collector) *Driver {
	t.Helper()
	d, err := New(cfg, Dependencies{
		Client:    client,
		Source:    testSource(),
		Collector: collector,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestNewValidation(t *testing.T) {
	client := &stubClient{}
	collector := metrics.NewCollector()
	good := Config{Concurrency: 2, MaxItems: 10, AttemptTimeout: time.Second}

	cases := []struct {
		name   string
		mutate func(*Config, *Dependencies)
	}{
		{"zero concurrency", func(c *Config, _ *Dependencies) { c.Concurrency = 0 }},
		{"unbounded", func(c *Config, _ *Dependencies) { c.MaxItems = 0; c.Duration = 0 }},
		{"zero timeout", func(c *Config, _ *Dependencies) { c.AttemptTimeout = 0 }},
		{"negative rate", func(c *Config, _ *Dependencies) { c.RatePerSecond = -1 }},
		{"nil client", func(_ *Config, d *Dependencies) { d.Client = nil }},
		{"nil source", func(_ *Config, d *Dependencies) { d.Source = nil }},
		{"nil collector", func(_ *Config, d *Dependencies) { d.Collector = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := good
			deps := Dependencies{Client: client, Source: testSource(), Collector: collector}
			tc.mutate(&cfg, &deps)
			if _, err := New(cfg, deps); err == nil {
				t.Fatalf("expected constructor error")
			}
		})
	}
}

func TestStressOneThousandItems(t *testing.T) {
	client := &stubClient{}
	collector := metrics.NewCollector()
	d := newDriver(t, Config{
		Concurrency:    8,
		MaxItems:       1000,
		AttemptTimeout: time.Second,
	}, client, collector)

	total, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if total != 1000 {
		t.Fatalf("attempted %d, want 1000", total)
	}
	snap := collector.Snapshot()
	if snap.Count != 1000 {
		t.Fatalf("recorded %d samples, want 1000", snap.Count)
	}
	if snap.Failed != 0 {
		t.Fatalf("unexpected failures: %d", snap.Failed)
	}
	if got := client.transmits.Load(); got != 1000 {
		t.Fatalf("client saw %d transmits, want 1000", got)
	}
	if d.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", d.State())
	}
}

func TestConcurrencyBound(t *testing.T) {
	client := &stubClient{delay: 5 * time.Millisecond}
	collector := metrics.NewCollector()
	d := newDriver(t, Config{
		Concurrency:    4,
		MaxItems:       100,
		AttemptTimeout: time.Second,
	}, client, collector)

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if max := client.maxInFlight(); max > 4 {
		t.Fatalf("observed %d concurrent transmits, bound is 4", max)
	}
}

func TestFailuresProduceClassifiedSamples(t *testing.T) {
	client := &stubClient{err: fmt.Errorf("transmit: %w", dimse.ErrAssociationRejected)}
	collector := metrics.NewCollector()
	d := newDriver(t, Config{
		Concurrency:    2,
		MaxItems:       20,
		AttemptTimeout: time.Second,
	}, client, collector)

	total, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := collector.Snapshot()
	if snap.Count != total || total != 20 {
		t.Fatalf("count=%d total=%d, want 20", snap.Count, total)
	}
	if snap.Failed != 20 {
		t.Fatalf("failed = %d, want 20", snap.Failed)
	}
	if snap.Failures[types.FailureAssociation] != 20 {
		t.Fatalf("classification missing: %#v", snap.Failures)
	}
	if snap.ErrorRate != 1 {
		t.Fatalf("error rate = %v, want 1", snap.ErrorRate)
	}
}

func TestDurationBoundStopsIssuingPermits(t *testing.T) {
	client := &stubClient{delay: time.Millisecond}
	collector := metrics.NewCollector()
	d := newDriver(t, Config{
		Concurrency:    2,
		Duration:       60 * time.Millisecond,
		AttemptTimeout: time.Second,
	}, client, collector)

	start := time.Now()
	total, err := d.Run(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if total == 0 {
		t.Fatalf("no attempts within duration")
	}
	// Stopped must be reached within duration + attempt timeout; with a 1ms
	// stub the drain is nearly immediate.
	if elapsed > 2*time.Second {
		t.Fatalf("run took %v, drain did not finish promptly", elapsed)
	}
	if collector.Count() != total {
		t.Fatalf("samples %d != attempted %d", collector.Count(), total)
	}
	if d.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", d.State())
	}
	// No further samples may appear after Run returns.
	before := collector.Count()
	time.Sleep(30 * time.Millisecond)
	if after := collector.Count(); after != before {
		t.Fatalf("samples grew after stop: %d -> %d", before, after)
	}
}

func TestDrainDiscardsBufferedPermits(t *testing.T) {
	// A slow transmit keeps the single worker busy past the duration bound
	// while the pacer buffers one more permit. That buffered permit must be
	// discarded, not executed: no transmission may start after the deadline.
	client := &stubClient{delay: 120 * time.Millisecond}
	collector := metrics.NewCollector()
	d := newDriver(t, Config{
		Concurrency:    1,
		Duration:       30 * time.Millisecond,
		AttemptTimeout: 150 * time.Millisecond,
	}, client, collector)

	deadline := time.Now().Add(30 * time.Millisecond)
	total, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if total != 1 {
		t.Fatalf("attempted %d, want 1: buffered permit was executed after the deadline", total)
	}
	for _, s := range client.transmitStarts() {
		if s.After(deadline) {
			t.Fatalf("transmission started %v after the deadline", s.Sub(deadline))
		}
	}
	if d.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", d.State())
	}
}

func TestCancellationObservedAtPermitBoundary(t *testing.T) {
	client := &stubClient{delay: 2 * time.Millisecond}
	collector := metrics.NewCollector()
	d := newDriver(t, Config{
		Concurrency:    2,
		Duration:       10 * time.Second,
		AttemptTimeout: time.Second,
	}, client, collector)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	total, err := d.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cancellation not observed promptly: %v", elapsed)
	}
	if collector.Count() != total {
		t.Fatalf("samples %d != attempted %d", collector.Count(), total)
	}
}

func TestRatePacing(t *testing.T) {
	client := &stubClient{}
	collector := metrics.NewCollector()
	d := newDriver(t, Config{
		RatePerSecond:  50,
		Concurrency:    2,
		MaxItems:       6,
		AttemptTimeout: time.Second,
	}, client, collector)

	start := time.Now()
	total, err := d.Run(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if total != 6 {
		t.Fatalf("attempted %d, want 6", total)
	}
	// Five inter-permit gaps at 20ms each; allow generous slack below.
	if elapsed < 80*time.Millisecond {
		t.Fatalf("6 permits at 50/s finished in %v, pacing not applied", elapsed)
	}
}

func TestDriverIsSingleUse(t *testing.T) {
	client := &stubClient{}
	collector := metrics.NewCollector()
	d := newDriver(t, Config{
		Concurrency:    1,
		MaxItems:       1,
		AttemptTimeout: time.Second,
	}, client, collector)

	if d.State() != StateIdle {
		t.Fatalf("state before run = %s, want idle", d.State())
	}
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := d.Run(context.Background()); err == nil {
		t.Fatalf("second Run should fail")
	}
}
