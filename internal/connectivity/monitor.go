package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
)

// Checker is the probe the monitor polls
type Checker interface {
	IsOnline(ctx context.Context, timeout time.Duration) bool
}

// Monitor polls the probe on a fixed interval and fires OnOnline once per
// offline to online transition. The first tick after start counts as a
// transition when the probe succeeds.
type Monitor struct {
	*service.ServiceBase
	probe    Checker
	interval time.Duration
	timeout  time.Duration
	onOnline func(ctx context.Context)
	metrics  *metrics.Metrics

	mu     sync.Mutex
	online bool
	cancel context.CancelFunc
	done   chan struct{}
}

// MonitorConfig contains configuration for the monitor
type MonitorConfig struct {
	Probe    Checker
	Interval time.Duration
	Timeout  time.Duration
	OnOnline func(ctx context.Context) // runs on the monitor goroutine
	Metrics  *metrics.Metrics
}

// NewMonitor creates a new connectivity monitor
func NewMonitor(config MonitorConfig, log *logger.Logger) *Monitor {
	if config.Interval <= 0 {
		config.Interval = 50 * time.Second
	}
	return &Monitor{
		ServiceBase: service.NewServiceBase("connectivity-monitor", log),
		probe:       config.Probe,
		interval:    config.Interval,
		timeout:     config.Timeout,
		onOnline:    config.OnOnline,
		metrics:     config.Metrics,
	}
}

// Start starts polling on a background goroutine
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx, m.done)

	m.GetStatus().SetStatus(service.StatusRunning)
	m.LogInfo("Connectivity monitor started", "interval", m.interval)
	return nil
}

// Stop stops polling and waits for an in-progress tick to finish
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.GetStatus().SetStatus(service.StatusStopped)
	m.LogInfo("Connectivity monitor stopped")
	return nil
}

// Online returns the result of the last probe
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick probes once and handles a state change. Exposed so the one-shot CLI
// commands and tests can drive the monitor without a timer.
func (m *Monitor) Tick(ctx context.Context) {
	online := m.probe.IsOnline(ctx, m.timeout)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	cameOnline := online && !m.online
	wentOffline := !online && m.online
	m.online = online
	m.mu.Unlock()

	m.metrics.SetOnline(online)

	switch {
	case cameOnline:
		m.LogInfo("Connectivity online")
		m.PublishEvent(service.EventTypeOnline, nil)
		if m.onOnline != nil {
			m.onOnline(ctx)
		}
	case wentOffline:
		m.LogWarn("Connectivity lost")
		m.PublishEvent(service.EventTypeOffline, nil)
	default:
		m.LogDebug("Connectivity unchanged", "online", online)
	}
}
