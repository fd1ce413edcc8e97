// Package preflight gates a load run on endpoint reachability. A probe that
// cannot succeed means every transmission would fail identically, so the run
// is aborted before any item is dispatched.
package preflight

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/avast/retry-go"

	"github.com/routeharness/routeharness/internal/dimse"
)

// Config bounds the probe retry loop.
type Config struct {
	Attempts uint
	Delay    time.Duration
}

// Dependencies supply the probe target and logging.
type Dependencies struct {
	Client dimse.Client
	Logger *log.Logger
}

// Check probes the endpoint with bounded retries. The returned error is the
// last probe failure and signals total unavailability.
func Check(ctx context.Context, cfg Config, deps Dependencies) error {
	if deps.Client == nil {
		return fmt.Errorf("client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}

	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}
			return deps.Client.Probe(ctx)
		},
		retry.Attempts(cfg.Attempts),
		retry.Delay(cfg.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Printf("preflight probe attempt %d failed: %v", n+1, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("endpoint not reachable after %d probe attempts: %w", cfg.Attempts, err)
	}
	return nil
}
