// Package serial reads sensor snapshots from the field sensor board.
package serial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
)

// ErrSerialUnavailable: no candidate port produced a valid record
var ErrSerialUnavailable = errors.New("serial sensor unavailable")

// Snapshot is one sensor record
type Snapshot struct {
	Longitude   string `json:"longitude"`
	Latitude    string `json:"latitude"`
	Temperature string `json:"temperature"`
	Light       string `json:"light"`
}

// Port is an open serial device
type Port interface {
	// ReadLine returns the next complete line without its terminator, or ""
	// when nothing arrived within the read timeout
	ReadLine() (string, error)
	Close() error
}

// Opener opens a device path
type Opener interface {
	Open(ctx context.Context, path string) (Port, error)
}

// Arbiter gives callers exclusive, serialized access to the sensor board,
// which may show up under any of several device paths
type Arbiter struct {
	opener     Opener
	ports      []string
	retries    int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	metrics    *metrics.Metrics
	logger     *logger.Logger

	mu   sync.Mutex // held for the whole read, across every port
	last *Snapshot
}

// ArbiterConfig contains configuration for the arbiter
type ArbiterConfig struct {
	Opener     Opener
	Ports      []string // priority order
	Retries    int
	RetryDelay time.Duration
	Metrics    *metrics.Metrics
}

// NewArbiter creates a new arbiter
func NewArbiter(config ArbiterConfig, log *logger.Logger) *Arbiter {
	if config.Retries <= 0 {
		config.Retries = 5
	}
	return &Arbiter{
		opener:     config.Opener,
		ports:      config.Ports,
		retries:    config.Retries,
		retryDelay: config.RetryDelay,
		sleep:      sleepContext,
		metrics:    config.Metrics,
		logger:     log,
	}
}

// ReadSnapshot reads one record. Ports are tried in order; each gets the
// full retry budget, and a malformed line uses up a retry on the same port.
// A concurrent caller waits until the current read finishes.
func (a *Arbiter) ReadSnapshot(ctx context.Context) (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, path := range a.ports {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}

		snap, err := a.readPort(ctx, path)
		if err == nil {
			a.last = &snap
			a.metrics.RecordSerialRead(nil)
			a.logger.Debug("Sensor snapshot read", "port", path)
			return snap, nil
		}
		a.logger.Debug("Sensor port gave no record", "port", path, "error", err)
	}

	err := fmt.Errorf("%w: tried %s", ErrSerialUnavailable, strings.Join(a.ports, ", "))
	a.metrics.RecordSerialRead(err)
	return Snapshot{}, err
}

// Last returns the most recent successful snapshot, if any
func (a *Arbiter) Last() (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Snapshot{}, false
	}
	return *a.last, true
}

func (a *Arbiter) readPort(ctx context.Context, path string) (Snapshot, error) {
	port, err := a.opener.Open(ctx, path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open: %w", err)
	}
	defer port.Close()

	var lastErr error = errors.New("no data")
	for attempt := 0; attempt < a.retries; attempt++ {
		line, err := port.ReadLine()
		if err != nil {
			return Snapshot{}, fmt.Errorf("read: %w", err)
		}
		if line == "" {
			if err := a.sleep(ctx, a.retryDelay); err != nil {
				return Snapshot{}, err
			}
			continue
		}

		snap, err := ParseSnapshot(line)
		if err != nil {
			lastErr = err
			a.logger.Debug("Discarding malformed sensor line", "port", path, "attempt", attempt+1, "error", err)
			continue
		}
		return snap, nil
	}
	return Snapshot{}, lastErr
}

// ParseSnapshot parses "longitude,latitude,temperature,light"
func ParseSnapshot(line string) (Snapshot, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 4 {
		return Snapshot{}, fmt.Errorf("expected 4 fields, got %d in %q", len(fields), line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
		if fields[i] == "" {
			return Snapshot{}, fmt.Errorf("empty field %d in %q", i+1, line)
		}
	}
	return Snapshot{
		Longitude:   fields[0],
		Latitude:    fields[1],
		Temperature: fields[2],
		Light:       fields[3],
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
