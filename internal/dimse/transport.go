package dimse

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/routeharness/routeharness/pkg/types"
)

// TCPProbeTransport is the transport used when no DICOM library has been
// wired in. It can establish and release raw TCP connections, which is enough
// for reachability probing; Store and Find report ErrNotSupported rather than
// silently succeeding, so callers always know nothing was verified.
type TCPProbeTransport struct {
	DialTimeout time.Duration
}

func (t *TCPProbeTransport) Dial(ctx context.Context, addr, calledAET, callingAET string) (Assoc, error) {
	timeout := t.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnect, addr, err)
	}
	return &tcpAssoc{conn: conn}, nil
}

type tcpAssoc struct {
	conn net.Conn
}

// Echo succeeds when the connection is up: establishing the TCP session is
// this transport's entire notion of reachability.
func (a *tcpAssoc) Echo(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (a *tcpAssoc) Store(ctx context.Context, item types.WorkItem) error {
	return fmt.Errorf("%w: store requires a DICOM transport", ErrNotSupported)
}

func (a *tcpAssoc) Find(ctx context.Context, studyUID string, filter []string) (bool, types.AttributeSet, error) {
	return false, nil, fmt.Errorf("%w: find requires a DICOM transport", ErrNotSupported)
}

func (a *tcpAssoc) Release() error {
	return a.conn.Close()
}
