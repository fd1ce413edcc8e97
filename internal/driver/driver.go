// Package driver pushes work items through the protocol client at a target
// aggregate rate using a bounded worker pool, recording exactly one sample
// per attempt. Pacing is token based: a single pacer goroutine issues permits
// into a bounded channel and the workers consume them, so backlog can never
// grow past the permit queue.
package driver

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/routeharness/routeharness/internal/dimse"
	"github.com/routeharness/routeharness/internal/items"
	"github.com/routeharness/routeharness/internal/metrics"
	"github.com/routeharness/routeharness/pkg/types"
)

// State is the driver's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config bounds a run. Either Duration or MaxItems must be set; both may be.
type Config struct {
	// RatePerSecond is the target aggregate send rate. Zero means unbounded:
	// workers pull as fast as capacity allows.
	RatePerSecond float64
	// Concurrency is the worker pool size, the maximum number of in-flight
	// transmissions.
	Concurrency int
	// Duration bounds the run by wall clock. Zero means count-bound only.
	Duration time.Duration
	// MaxItems bounds the run by permit count. Zero means duration-bound only.
	MaxItems int
	// AttemptTimeout is the upper bound on a single transmission.
	AttemptTimeout time.Duration
	// PermitQueue bounds how many issued permits may wait for a worker.
	// Defaults to Concurrency.
	PermitQueue int
}

// Dependencies supply the driver's collaborators.
type Dependencies struct {
	Client    dimse.Client
	Source    items.Source
	Collector *metrics.Collector
	Logger    *log.Logger
	Now       func() time.Time
}

// Driver executes one load run. A driver is single-use: construct, Run, read
// the total. State transitions Idle → Running → Draining → Stopped.
type Driver struct {
	cfg       Config
	client    dimse.Client
	source    items.Source
	collector *metrics.Collector
	logger    *log.Logger
	now       func() time.Time

	state     atomic.Int32
	attempted atomic.Int64
}

// New validates configuration and builds an idle driver.
func New(cfg Config, deps Dependencies) (*Driver, error) {
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive")
	}
	if cfg.Duration <= 0 && cfg.MaxItems <= 0 {
		return nil, fmt.Errorf("either duration or max items must bound the run")
	}
	if cfg.AttemptTimeout <= 0 {
		return nil, fmt.Errorf("attempt timeout must be positive")
	}
	if cfg.RatePerSecond < 0 {
		return nil, fmt.Errorf("rate must not be negative")
	}
	if cfg.PermitQueue <= 0 {
		cfg.PermitQueue = cfg.Concurrency
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("item source is required")
	}
	if deps.Collector == nil {
		return nil, fmt.Errorf("collector is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Driver{
		cfg:       cfg,
		client:    deps.Client,
		source:    deps.Source,
		collector: deps.Collector,
		logger:    logger,
		now:       now,
	}, nil
}

// State returns the driver's current lifecycle state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Attempted returns the number of attempts recorded so far.
func (d *Driver) Attempted() int {
	return int(d.attempted.Load())
}

// Run drives the load until the duration elapses, the item count is reached,
// or ctx is cancelled, then drains in-flight attempts and returns the total
// attempted. Cancellation is observed at permit boundaries only; an in-flight
// transmission is left to its own attempt timeout. Per-item failures are
// recorded as samples, never returned as errors.
func (d *Driver) Run(ctx context.Context) (int, error) {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return 0, fmt.Errorf("driver already run (state %s)", d.State())
	}

	pacerCtx := ctx
	var cancel context.CancelFunc
	if d.cfg.Duration > 0 {
		pacerCtx, cancel = context.WithTimeout(ctx, d.cfg.Duration)
		defer cancel()
	}

	permits := make(chan struct{}, d.cfg.PermitQueue)

	// Set when the pacer stops because of cancellation or the duration bound.
	// Permits still buffered at that point are discarded, not executed: no new
	// work starts once cancellation has been observed. A count-bound stop keeps
	// the flag clear so every issued permit is attempted.
	var discard atomic.Bool

	var g errgroup.Group
	g.Go(func() error {
		err := d.pace(pacerCtx, permits)
		if err != nil {
			discard.Store(true)
		}
		d.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		close(permits)
		return err
	})

	for i := 0; i < d.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			for range permits {
				if discard.Load() {
					continue
				}
				d.attempt(worker)
			}
			return nil
		})
	}

	// Pacer cancellation is the normal end of a run, not a failure.
	_ = g.Wait()
	d.state.Store(int32(StateStopped))

	total := int(d.attempted.Load())
	d.logger.Printf("run stopped: attempted=%d", total)
	return total, nil
}

// pace issues permits until the bound is hit or ctx is cancelled. When the
// permit queue is full the send blocks, which is the backpressure: the pacer
// falls behind the target rate rather than queueing unboundedly.
func (d *Driver) pace(ctx context.Context, permits chan<- struct{}) error {
	var limiter *rate.Limiter
	if d.cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.cfg.RatePerSecond), 1)
	}

	issued := 0
	for {
		if d.cfg.MaxItems > 0 && issued >= d.cfg.MaxItems {
			return nil
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case permits <- struct{}{}:
			issued++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attempt performs one transmission and records exactly one sample, whatever
// the outcome. The transmit call gets a fresh context deliberately detached
// from the run's cancellation: draining lets in-flight calls finish up to
// their own timeout instead of aborting them mid-association.
func (d *Driver) attempt(worker int) {
	item := d.source.Next()
	start := d.now()
	latency, err := d.client.Transmit(context.Background(), item, d.cfg.AttemptTimeout)
	end := d.now()

	sample := types.Sample{
		StudyUID: item.StudyUID,
		Worker:   worker,
		Start:    start,
		End:      end,
		Latency:  latency,
		Success:  err == nil,
		Failure:  dimse.Classify(err),
	}
	if err != nil {
		d.logger.Printf("transmit %s failed (%s): %v", item.StudyUID, sample.Failure, err)
	}
	d.collector.Record(sample)
	d.attempted.Add(1)
}
