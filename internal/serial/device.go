package serial

import (
	"bytes"
	"context"
	"fmt"
	"time"

	bugserial "go.bug.st/serial"
)

const maxLineLength = 4096

// DeviceOpener opens real serial devices
type DeviceOpener struct {
	BaudRate    int
	OpenTimeout time.Duration
	ReadTimeout time.Duration
}

// Open opens path, giving up after OpenTimeout. The underlying open call
// cannot be interrupted, so a late success is closed in the background.
func (o *DeviceOpener) Open(ctx context.Context, path string) (Port, error) {
	type result struct {
		port bugserial.Port
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := bugserial.Open(path, &bugserial.Mode{BaudRate: o.BaudRate})
		ch <- result{p, err}
	}()

	timeout := o.OpenTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	abandon := func() {
		go func() {
			if r := <-ch; r.port != nil {
				r.port.Close()
			}
		}()
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("open %s: %w", path, r.err)
		}
		readTimeout := o.ReadTimeout
		if readTimeout <= 0 {
			readTimeout = time.Second
		}
		if err := r.port.SetReadTimeout(readTimeout); err != nil {
			r.port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
		}
		return &devicePort{port: r.port}, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("open %s: timed out after %s", path, timeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// ListPorts returns the serial devices present on the system
func ListPorts() ([]string, error) {
	return bugserial.GetPortsList()
}

type devicePort struct {
	port    bugserial.Port
	pending []byte
}

// ReadLine reads until a newline or until a read times out with nothing new
func (p *devicePort) ReadLine() (string, error) {
	buf := make([]byte, 256)
	for {
		if i := bytes.IndexByte(p.pending, '\n'); i >= 0 {
			line := string(bytes.TrimRight(p.pending[:i], "\r"))
			p.pending = p.pending[i+1:]
			return line, nil
		}

		n, err := p.port.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			// read timeout; a partial line stays pending for the next call
			return "", nil
		}
		p.pending = append(p.pending, buf[:n]...)
		if len(p.pending) > maxLineLength {
			p.pending = p.pending[:0]
		}
	}
}

func (p *devicePort) Close() error {
	return p.port.Close()
}
