// Package items supplies the work items a load run drives through the
// router. Sources are finite sets replayed cyclically so a duration-bound run
// can outlast a small dataset; every draw is stamped with a fresh study UID
// so each attempt stays individually verifiable.
package items

import (
	"math/big"
	"sync"

	"github.com/google/uuid"

	"github.com/routeharness/routeharness/pkg/types"
)

// Source yields work items. Implementations must be safe for concurrent use.
type Source interface {
	Next() types.WorkItem
}

// NewStudyUID derives a DICOM-style unique identifier from a random UUID
// under the 2.25 UUID root.
func NewStudyUID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return "2.25." + n.String()
}

// Cyclic replays a fixed slice of items forever, round-robin. Each draw gets
// its own study UID; payloads and attributes are shared, never copied.
type Cyclic struct {
	mu    sync.Mutex
	items []types.WorkItem
	next  int

	newUID func() string
}

type CyclicOption func(*Cyclic)

// WithUIDFunc overrides UID generation, for tests.
func WithUIDFunc(fn func() string) CyclicOption {
	return func(c *Cyclic) {
		if fn != nil {
			c.newUID = fn
		}
	}
}

// NewCyclic builds a cyclic source over items. Panics on an empty set: a
// driver with nothing to send is a configuration error caught upstream.
func NewCyclic(items []types.WorkItem, opts ...CyclicOption) *Cyclic {
	if len(items) == 0 {
		panic("items: cyclic source requires at least one item")
	}
	c := &Cyclic{
		items:  items,
		newUID: NewStudyUID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cyclic) Next() types.WorkItem {
	c.mu.Lock()
	item := c.items[c.next]
	c.next = (c.next + 1) % len(c.items)
	uid := c.newUID()
	c.mu.Unlock()

	item.StudyUID = uid
	return item
}

// Len returns the size of the underlying set.
func (c *Cyclic) Len() int {
	return len(c.items)
}

var _ Source = (*Cyclic)(nil)
