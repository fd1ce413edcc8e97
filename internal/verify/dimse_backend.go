package verify

import (
	"context"
	"time"

	"github.com/routeharness/routeharness/internal/dimse"
	"github.com/routeharness/routeharness/pkg/types"
)

// DIMSEBackend queries the router itself through the protocol client's find
// capability. This is the primary backend: it exercises the same protocol
// surface real downstream systems use.
type DIMSEBackend struct {
	client       dimse.Client
	queryTimeout time.Duration
}

// NewDIMSEBackend wraps a protocol client as a verification backend.
func NewDIMSEBackend(client dimse.Client, queryTimeout time.Duration) *DIMSEBackend {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &DIMSEBackend{client: client, queryTimeout: queryTimeout}
}

func (b *DIMSEBackend) Name() string { return "dimse" }

// Available probes the endpoint; an unreachable endpoint or a transport
// without find support makes the poller fall through.
func (b *DIMSEBackend) Available(ctx context.Context) error {
	return b.client.Probe(ctx)
}

func (b *DIMSEBackend) Query(ctx context.Context, studyUID string, filter []string) (bool, types.AttributeSet, error) {
	return b.client.Query(ctx, studyUID, filter, b.queryTimeout)
}

var _ Backend = (*DIMSEBackend)(nil)
