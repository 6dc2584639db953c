package integration

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/actuation"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/connectivity"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
)

// TestServiceManager_ServiceLifecycle tests starting and stopping the
// long-running services together
func TestServiceManager_ServiceLifecycle(t *testing.T) {
	env := SetupTestEnvironment(t)
	defer env.Cleanup()

	manager := service.NewManager(env.Logger)

	var drains atomic.Int32
	coordinator := actuation.NewCoordinator(actuation.CoordinatorConfig{
		Actuator: actuation.NewLogActuator(env.Logger),
	}, env.Logger)
	monitor := connectivity.NewMonitor(connectivity.MonitorConfig{
		Probe:    connectivity.NewProbe(ListenLocal(t), time.Second),
		Interval: time.Hour,
		OnOnline: func(ctx context.Context) { drains.Add(1) },
	}, env.Logger)

	manager.Register(coordinator)
	manager.Register(monitor)

	ctx, cancel := ContextWithTimeout(5 * time.Second)
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}

	for _, name := range []string{coordinator.Name(), monitor.Name()} {
		if status := manager.GetServiceStatus(name); status.GetStatus() != service.StatusRunning {
			t.Errorf("Expected %s running, got %v", name, status.GetStatus())
		}
	}

	if !WaitForCondition(2*time.Second, func() bool { return drains.Load() == 1 }) {
		t.Errorf("Expected one drain on the first online tick, got %d", drains.Load())
	}
	if !monitor.Online() {
		t.Error("Monitor should report online")
	}

	if err := manager.Shutdown(ctx); err != nil {
		t.Fatalf("Failed to shutdown services: %v", err)
	}
	for _, name := range []string{coordinator.Name(), monitor.Name()} {
		if status := manager.GetServiceStatus(name); status.GetStatus() != service.StatusStopped {
			t.Errorf("Expected %s stopped, got %v", name, status.GetStatus())
		}
	}
}

// TestServiceManager_ActuationEvents tests that a response sequence is
// visible on the event bus
func TestServiceManager_ActuationEvents(t *testing.T) {
	env := SetupTestEnvironment(t)
	defer env.Cleanup()

	manager := service.NewManager(env.Logger)
	steps := map[string]time.Duration{}
	for _, s := range actuation.Steps {
		steps[s] = 0
	}
	actuator := actuation.NewLogActuator(env.Logger)
	coordinator := actuation.NewCoordinator(actuation.CoordinatorConfig{
		Actuator: actuator,
		Runner:   actuation.NewSequence(actuation.SequenceConfig{Actuator: actuator, Steps: steps}, env.Logger),
	}, env.Logger)
	manager.Register(coordinator)

	ctx, cancel := ContextWithTimeout(5 * time.Second)
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}
	defer manager.Shutdown(ctx)

	finished := manager.GetEventBus().Subscribe(service.EventTypeActuationFinished)

	if err := coordinator.Trigger(ctx, actuation.Request{EventID: "evt-1", Species: "Box Tree Moth", Risk: 2}); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if err := coordinator.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}

	select {
	case e := <-finished:
		if e.Source != coordinator.Name() {
			t.Errorf("Expected source %s, got %s", coordinator.Name(), e.Source)
		}
	case <-time.After(2 * time.Second):
		t.Error("Timeout waiting for actuation.finished")
	}
}
