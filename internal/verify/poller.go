// Package verify confirms, with bounded wait, that a transmitted item
// reached the router's authoritative store and carries the expected
// attributes. Confirmation reads go through one of several backends tried in
// a configured priority order; the backend is chosen before polling starts
// and handles the rest of the query, falling forward to the next backend only
// when it reports it cannot serve queries at all. It never falls back.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/routeharness/routeharness/internal/dimse"
	"github.com/routeharness/routeharness/pkg/types"
)

// Backend is one implementation of the query capability against a specific
// authoritative source. Query must be idempotent and side-effect free.
type Backend interface {
	Name() string
	// Available reports whether the backend can serve queries right now.
	// Wrapping dimse.ErrNotSupported or a connection-level error makes the
	// poller fall through to the next backend in the priority order.
	Available(ctx context.Context) error
	Query(ctx context.Context, studyUID string, filter []string) (bool, types.AttributeSet, error)
}

// Query is one verification request.
type Query struct {
	StudyUID string
	Expected types.AttributeSet
}

// Config paces a single query's polling loop. QueryTimeout bounds each
// individual backend call so a hung backend can never stall the poll loop;
// it defaults to 30s.
type Config struct {
	InitialDelay time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
	QueryTimeout time.Duration
}

// Dependencies supply the poller's collaborators. Backends are in priority
// order; at least one is required.
type Dependencies struct {
	Backends []Backend
	Logger   *log.Logger
	Now      func() time.Time
}

// Poller runs verification queries. Polls for one query are strictly
// sequential; independent queries may run concurrently from separate callers.
type Poller struct {
	cfg      Config
	backends []Backend
	logger   *log.Logger
	now      func() time.Time
}

// NewPoller validates pacing and builds a poller.
func NewPoller(cfg Config, deps Dependencies) (*Poller, error) {
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if cfg.PollTimeout <= 0 {
		return nil, fmt.Errorf("poll timeout must be positive")
	}
	if cfg.InitialDelay < 0 {
		return nil, fmt.Errorf("initial delay must not be negative")
	}
	if cfg.QueryTimeout < 0 {
		return nil, fmt.Errorf("query timeout must not be negative")
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if len(deps.Backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Poller{
		cfg:      cfg,
		backends: deps.Backends,
		logger:   logger,
		now:      now,
	}, nil
}

// Verify polls until the item is found or the timeout elapses and returns a
// terminal result; it never blocks past initial delay + poll timeout + one
// final poll per usable backend. The deadline is checked at poll boundaries
// only, never mid-query. A backend answering a poll with NotSupported or a
// connection-level failure hands the remainder of the query to the next
// backend in priority order; the poller never moves back up the list.
func (p *Poller) Verify(ctx context.Context, q Query) types.VerificationResult {
	result := types.VerificationResult{StudyUID: q.StudyUID}
	start := p.now()

	backend, idx, err := p.selectBackend(ctx, 0)
	if err != nil {
		result.State = types.VerificationBackendError
		result.Err = err.Error()
		result.Elapsed = p.now().Sub(start)
		return result
	}
	result.Backend = backend.Name()
	p.logger.Printf("verify %s via %s", q.StudyUID, backend.Name())

	if p.cfg.InitialDelay > 0 {
		if err := sleepCtx(ctx, p.cfg.InitialDelay); err != nil {
			result.State = types.VerificationNotFound
			result.Err = err.Error()
			result.Elapsed = p.now().Sub(start)
			return result
		}
	}

	filter := q.Expected.Names()
	pollStart := p.now()
	for {
		result.Attempts++
		found, actual, err := p.query(ctx, backend, q.StudyUID, filter)
		if err != nil {
			p.logger.Printf("verify %s poll %d via %s: %v", q.StudyUID, result.Attempts, backend.Name(), err)
			if errors.Is(err, dimse.ErrNotSupported) || errors.Is(err, dimse.ErrConnect) {
				// This backend cannot serve the query class at all. Hand the
				// rest of the polling window to the next one in priority
				// order instead of burning the window on retries.
				next, nextIdx, serr := p.selectBackend(ctx, idx+1)
				if serr != nil {
					result.State = types.VerificationBackendError
					result.Err = serr.Error()
					result.Elapsed = p.now().Sub(start)
					return result
				}
				backend, idx = next, nextIdx
				result.Backend = backend.Name()
				p.logger.Printf("verify %s continuing via %s", q.StudyUID, backend.Name())
				continue
			}
			// Transient query errors are retried until the deadline.
		} else if found {
			result.Found = true
			result.Actual = actual
			result.Mismatches = compare(q.Expected, actual)
			if len(result.Mismatches) > 0 {
				result.State = types.VerificationMismatched
			} else {
				result.State = types.VerificationMatched
			}
			result.Elapsed = p.now().Sub(start)
			return result
		}

		elapsed := p.now().Sub(pollStart)
		if elapsed >= p.cfg.PollTimeout {
			result.State = types.VerificationNotFound
			result.Elapsed = p.now().Sub(start)
			return result
		}
		sleep := p.cfg.PollInterval
		if remaining := p.cfg.PollTimeout - elapsed; remaining < sleep {
			sleep = remaining
		}
		if err := sleepCtx(ctx, sleep); err != nil {
			result.State = types.VerificationNotFound
			result.Err = err.Error()
			result.Elapsed = p.now().Sub(start)
			return result
		}
	}
}

// selectBackend walks the priority order starting at from and returns the
// first usable backend with its index. Selection only ever moves forward.
func (p *Poller) selectBackend(ctx context.Context, from int) (Backend, int, error) {
	var reasons []string
	for i := from; i < len(p.backends); i++ {
		b := p.backends[i]
		availCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
		err := b.Available(availCtx)
		cancel()
		if err != nil {
			p.logger.Printf("backend %s unavailable: %v", b.Name(), err)
			reasons = append(reasons, fmt.Sprintf("%s: %v", b.Name(), err))
			continue
		}
		return b, i, nil
	}
	if len(reasons) == 0 {
		return nil, 0, fmt.Errorf("no further verification backend available")
	}
	return nil, 0, fmt.Errorf("no verification backend available: %s", strings.Join(reasons, "; "))
}

// query runs one backend poll under the per-call timeout so a hung backend
// cannot stall the loop past its bound.
func (p *Poller) query(ctx context.Context, b Backend, studyUID string, filter []string) (bool, types.AttributeSet, error) {
	queryCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()
	return b.Query(queryCtx, studyUID, filter)
}

// compare checks every expected attribute against the actual set. Values are
// compared after trimming surrounding whitespace; a missing attribute is a
// mismatch with an empty actual value.
func compare(expected, actual types.AttributeSet) []types.AttributeMismatch {
	var mismatches []types.AttributeMismatch
	for _, want := range expected {
		got, _ := actual.Get(want.Name)
		if strings.TrimSpace(got) != strings.TrimSpace(want.Value) {
			mismatches = append(mismatches, types.AttributeMismatch{
				Name:     want.Name,
				Expected: want.Value,
				Actual:   got,
			})
		}
	}
	return mismatches
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
