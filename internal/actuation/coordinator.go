// Package actuation runs the physical response to a detection and owns the
// flag that pauses detection while it runs.
package actuation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/telemetry"
)

var (
	// ErrBusy: a sequence is already running
	ErrBusy = errors.New("actuation in progress")
	// ErrActuatorFailure: the platform failed during a sequence
	ErrActuatorFailure = errors.New("actuator failure")
	// ErrClosed: the coordinator has been shut down
	ErrClosed = errors.New("coordinator shut down")
)

// State is the coordinator state
type State int

const (
	StateIdle State = iota
	StateBusy
)

func (s State) String() string {
	if s == StateBusy {
		return "busy"
	}
	return "idle"
}

// Runner executes one response
type Runner interface {
	Run(ctx context.Context, req Request) error
}

// Coordinator runs at most one response sequence at a time. While a
// sequence runs the coordinator is Busy, which is the pause signal for
// detection. Only the sequence goroutine moves it back to Idle.
type Coordinator struct {
	*service.ServiceBase

	actuator       Actuator
	runner         Runner
	pollInterval   time.Duration
	recoverTimeout time.Duration
	reporter       *telemetry.Reporter
	metrics        *metrics.Metrics

	mu      sync.Mutex
	state   State
	idle    chan struct{} // closed while Idle
	closed  bool
	current Request
	lastErr error

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// CoordinatorConfig contains configuration for the coordinator
type CoordinatorConfig struct {
	Actuator       Actuator
	Runner         Runner        // defaults to a Sequence over Actuator
	PollInterval   time.Duration // for WaitIdlePolling, default 1s
	RecoverTimeout time.Duration // bounds stop and reset after a failure, default 10s
	Reporter       *telemetry.Reporter
	Metrics        *metrics.Metrics
}

// NewCoordinator creates a new coordinator in the Idle state
func NewCoordinator(config CoordinatorConfig, log *logger.Logger) *Coordinator {
	if config.Runner == nil {
		config.Runner = NewSequence(SequenceConfig{Actuator: config.Actuator}, log)
	}
	if config.PollInterval == 0 {
		config.PollInterval = time.Second
	}
	if config.RecoverTimeout <= 0 {
		config.RecoverTimeout = 10 * time.Second
	}

	idle := make(chan struct{})
	close(idle)
	runCtx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		ServiceBase:    service.NewServiceBase("actuation-coordinator", log),
		actuator:       config.Actuator,
		runner:         config.Runner,
		pollInterval:   config.PollInterval,
		recoverTimeout: config.RecoverTimeout,
		reporter:       config.Reporter,
		metrics:        config.Metrics,
		idle:           idle,
		runCtx:         runCtx,
		cancelRun:      cancel,
	}
}

// Trigger starts a response sequence. It stops the platform, marks the
// coordinator Busy and returns; the sequence runs on its own goroutine.
func (c *Coordinator) Trigger(ctx context.Context, req Request) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateBusy {
		c.mu.Unlock()
		return fmt.Errorf("%w: responding to %s", ErrBusy, c.current.Species)
	}
	c.state = StateBusy
	c.current = req
	idle := make(chan struct{})
	c.idle = idle
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.SetActuationBusy(true)
	if err := c.actuator.Stop(ctx); err != nil {
		c.LogWarn("Failed to stop platform before response", "error", err)
	}

	c.LogInfo("Response sequence started", "event_id", req.EventID, "species", req.Species, "risk_level", req.Risk)
	c.PublishEvent(service.EventTypeActuationStarted, map[string]interface{}{
		"event_id": req.EventID,
		"species":  req.Species,
	})

	go c.run(req, idle)
	return nil
}

func (c *Coordinator) run(req Request, idle chan struct{}) {
	defer c.wg.Done()

	start := time.Now()
	err := c.runSafely(req)
	duration := time.Since(start)
	c.metrics.RecordActuation(duration, err)

	if err != nil {
		c.LogWarn("Response sequence failed", "event_id", req.EventID, "species", req.Species, "error", err)
		c.reporter.CaptureError("actuation", err, map[string]string{"species": req.Species})
		c.PublishEvent(service.EventTypeActuationFailed, map[string]interface{}{
			"event_id": req.EventID,
			"error":    err.Error(),
		})
		c.recoverPose(req)
	} else {
		c.LogInfo("Response sequence finished", "event_id", req.EventID, "duration", duration)
		c.PublishEvent(service.EventTypeActuationFinished, map[string]interface{}{
			"event_id": req.EventID,
			"duration": duration.String(),
		})
	}

	c.mu.Lock()
	c.state = StateIdle
	c.current = Request{}
	c.lastErr = err
	close(idle)
	c.mu.Unlock()
	c.metrics.SetActuationBusy(false)
}

// recoverPose brings the platform back to rest after a sequence aborted
// part way. Failures are logged only; the coordinator goes Idle regardless.
func (c *Coordinator) recoverPose(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), c.recoverTimeout)
	defer cancel()

	if err := c.callSafely(func() error { return c.actuator.Stop(ctx) }); err != nil {
		c.LogWarn("Failed to stop platform after failed sequence", "event_id", req.EventID, "error", err)
	}
	if err := c.callSafely(func() error { return c.actuator.ResetPose(ctx) }); err != nil {
		c.LogWarn("Failed to reset pose after failed sequence", "event_id", req.EventID, "error", err)
		return
	}
	c.LogInfo("Platform reset after failed sequence", "event_id", req.EventID)
}

func (c *Coordinator) callSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrActuatorFailure, r)
		}
	}()
	return fn()
}

func (c *Coordinator) runSafely(req Request) error {
	return c.callSafely(func() error { return c.runner.Run(c.runCtx, req) })
}

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Paused reports whether detection should be paused
func (c *Coordinator) Paused() bool {
	return c.State() == StateBusy
}

// LastError returns the error of the most recent sequence, or nil
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// WaitIdle blocks until the coordinator is Idle or ctx is done
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitIdlePolling is WaitIdle checking the state once per poll interval
func (c *Coordinator) WaitIdlePolling(ctx context.Context) error {
	if !c.Paused() {
		return nil
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !c.Paused() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Start implements service.Service
func (c *Coordinator) Start(ctx context.Context) error {
	c.LogInfo("Actuation coordinator ready")
	return nil
}

// Stop implements service.Service
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.Shutdown(ctx)
}

// Shutdown refuses new triggers and waits for an in-flight sequence until
// ctx is done, then interrupts it. The platform is stopped either way.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	err := c.WaitIdle(ctx)
	if err != nil {
		c.LogWarn("Response sequence still running at shutdown, interrupting", "error", err)
		err = fmt.Errorf("waiting for response sequence: %w", err)
	}
	c.cancelRun()
	c.wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if serr := c.actuator.Stop(stopCtx); serr != nil {
		c.LogWarn("Failed to stop platform at shutdown", "error", serr)
	}
	return err
}
