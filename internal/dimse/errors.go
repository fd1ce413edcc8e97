package dimse

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/routeharness/routeharness/pkg/types"
)

// Sentinel errors classifying how an attempt against the endpoint failed.
// Callers wrap them with fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	// ErrConnect means the endpoint could not be reached at all.
	ErrConnect = errors.New("endpoint unreachable")
	// ErrAssociationRejected means the endpoint was reachable but refused the
	// association, typically because it does not accept the calling AE title.
	ErrAssociationRejected = errors.New("association rejected")
	// ErrTimeout means the attempt exceeded its per-attempt bound. A timeout
	// implies no confirmation, not necessarily non-delivery.
	ErrTimeout = errors.New("attempt timed out")
	// ErrTransport means the association broke mid-exchange or the peer
	// responded with something unparseable.
	ErrTransport = errors.New("transport failure")
	// ErrNotSupported means the capability is not implemented by this
	// transport or backend. It is reported explicitly so callers can tell
	// "not verified" apart from "verified as absent".
	ErrNotSupported = errors.New("operation not supported")
)

// Classify maps an attempt error onto the sample failure taxonomy.
func Classify(err error) types.FailureKind {
	switch {
	case err == nil:
		return types.FailureNone
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded):
		return types.FailureTimeout
	case errors.Is(err, ErrAssociationRejected):
		return types.FailureAssociation
	case errors.Is(err, ErrConnect):
		return types.FailureConnect
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return types.FailureTimeout
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return types.FailureConnect
		}
		return types.FailureTransport
	}
}
