// Package connectivity decides whether the remote store is reachable.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrOffline: the reachability probe failed
var ErrOffline = errors.New("connectivity unavailable")

// Dialer opens a network connection
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Probe makes one outbound TCP connection attempt to a well-known address.
// It never retries; callers choose the cadence.
type Probe struct {
	target  string
	timeout time.Duration
	dialer  Dialer
}

// NewProbe creates a probe for target (host:port)
func NewProbe(target string, timeout time.Duration) *Probe {
	return &Probe{
		target:  target,
		timeout: timeout,
		dialer:  &net.Dialer{},
	}
}

// Target returns the probed address
func (p *Probe) Target() string {
	return p.target
}

// IsOnline reports whether a connection to the target could be opened within
// timeout. A zero timeout uses the probe's default.
func (p *Probe) IsOnline(ctx context.Context, timeout time.Duration) bool {
	return p.check(ctx, timeout) == nil
}

// Check is IsOnline with the reason: nil when online, ErrOffline wrapping the
// dial error otherwise
func (p *Probe) Check(ctx context.Context) error {
	return p.check(ctx, 0)
}

func (p *Probe) check(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.timeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(dialCtx, "tcp", p.target)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOffline, p.target, err)
	}
	conn.Close()
	return nil
}
