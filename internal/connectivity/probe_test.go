package connectivity

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestProbe_Online(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := NewProbe(ln.Addr().String(), time.Second)
	assert.True(t, p.IsOnline(context.Background(), 0))
	assert.NoError(t, p.Check(context.Background()))
}

func TestProbe_Offline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	p := NewProbe(addr, time.Second)
	assert.False(t, p.IsOnline(context.Background(), 0))

	err = p.Check(context.Background())
	assert.True(t, errors.Is(err, ErrOffline))
	assert.Contains(t, err.Error(), addr)
}

type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProbe_TimeoutBounded(t *testing.T) {
	p := &Probe{target: "192.0.2.1:53", timeout: time.Hour, dialer: blockingDialer{}}

	start := time.Now()
	assert.False(t, p.IsOnline(context.Background(), 50*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
}
