// Package dimse drives the router's DICOM surface through a narrow capability
// contract: a connectivity probe, a store-style transmit, and a find-style
// query. The wire protocol itself lives behind the Transport seam so the rest
// of the harness never depends on a particular DICOM implementation.
package dimse

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/routeharness/routeharness/pkg/types"
)

// Client is the capability set the driver and the verification poller consume.
type Client interface {
	// Probe performs a lightweight round trip confirming the endpoint is
	// reachable and accepts the caller's identity.
	Probe(ctx context.Context) error
	// Transmit performs one association cycle delivering the item and returns
	// the wall-clock latency of the cycle.
	Transmit(ctx context.Context, item types.WorkItem, timeout time.Duration) (time.Duration, error)
	// Query looks the item up by its study UID, returning whether it was
	// found and the requested attributes.
	Query(ctx context.Context, studyUID string, filter []string, timeout time.Duration) (bool, types.AttributeSet, error)
}

// Assoc is one established association with the endpoint. An association is
// never shared between goroutines.
type Assoc interface {
	Echo(ctx context.Context) error
	Store(ctx context.Context, item types.WorkItem) error
	Find(ctx context.Context, studyUID string, filter []string) (bool, types.AttributeSet, error)
	Release() error
}

// Transport establishes associations. Implementations adapt a concrete DICOM
// library (or a stub, in tests) to the harness.
type Transport interface {
	Dial(ctx context.Context, addr, calledAET, callingAET string) (Assoc, error)
}

// Config holds the static identity and target of an association client.
type Config struct {
	Addr         string
	CalledAET    string
	CallingAET   string
	ProbeTimeout time.Duration
}

// Dependencies allow test overrides for the transport, clock and logging.
type Dependencies struct {
	Transport Transport
	Now       func() time.Time
	Logger    *log.Logger
}

// AssocClient implements Client with one association per call: dial, perform
// the single operation, release. Pooling associations is an optimization the
// contract permits but does not require.
type AssocClient struct {
	cfg       Config
	transport Transport
	now       func() time.Time
	logger    *log.Logger
}

// NewAssocClient builds a client from configuration and dependencies.
func NewAssocClient(cfg Config, deps Dependencies) (*AssocClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("endpoint address is required")
	}
	if cfg.CalledAET == "" || cfg.CallingAET == "" {
		return nil, fmt.Errorf("called and calling AE titles are required")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &AssocClient{
		cfg:       cfg,
		transport: deps.Transport,
		now:       now,
		logger:    logger,
	}, nil
}

func (c *AssocClient) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	assoc, err := c.transport.Dial(ctx, c.cfg.Addr, c.cfg.CalledAET, c.cfg.CallingAET)
	if err != nil {
		return fmt.Errorf("probe %s: %w", c.cfg.Addr, err)
	}
	defer assoc.Release()

	if err := assoc.Echo(ctx); err != nil {
		return fmt.Errorf("probe echo %s: %w", c.cfg.Addr, err)
	}
	return nil
}

func (c *AssocClient) Transmit(ctx context.Context, item types.WorkItem, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := c.now()
	assoc, err := c.transport.Dial(ctx, c.cfg.Addr, c.cfg.CalledAET, c.cfg.CallingAET)
	if err != nil {
		return c.now().Sub(start), fmt.Errorf("transmit %s: %w", item.StudyUID, err)
	}

	storeErr := assoc.Store(ctx, item)
	if relErr := assoc.Release(); storeErr == nil && relErr != nil {
		storeErr = fmt.Errorf("release: %w", relErr)
	}
	latency := c.now().Sub(start)
	if storeErr != nil {
		return latency, fmt.Errorf("transmit %s: %w", item.StudyUID, storeErr)
	}
	return latency, nil
}

func (c *AssocClient) Query(ctx context.Context, studyUID string, filter []string, timeout time.Duration) (bool, types.AttributeSet, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	assoc, err := c.transport.Dial(ctx, c.cfg.Addr, c.cfg.CalledAET, c.cfg.CallingAET)
	if err != nil {
		return false, nil, fmt.Errorf("query %s: %w", studyUID, err)
	}
	defer assoc.Release()

	found, attrs, err := assoc.Find(ctx, studyUID, filter)
	if err != nil {
		return false, nil, fmt.Errorf("query %s: %w", studyUID, err)
	}
	return found, attrs, nil
}

var _ Client = (*AssocClient)(nil)
