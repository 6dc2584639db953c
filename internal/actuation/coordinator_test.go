package actuation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
)

func newTestCoordinator(act Actuator, runner Runner) *Coordinator {
	return NewCoordinator(CoordinatorConfig{
		Actuator:     act,
		Runner:       runner,
		PollInterval: 5 * time.Millisecond,
	}, logger.NewNopLogger())
}

func TestCoordinator_IdleBusyIdle(t *testing.T) {
	act := &fakeActuator{}
	runner := newGatedRunner()
	c := newTestCoordinator(act, runner)
	defer c.Shutdown(context.Background())

	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.Paused())
	require.NoError(t, c.WaitIdle(context.Background()))

	require.NoError(t, c.Trigger(context.Background(), Request{Species: "ant"}))
	<-runner.started
	assert.True(t, c.Paused())
	assert.Equal(t, "stop", act.callLog()[0], "the platform stops before the sequence")

	err := c.Trigger(context.Background(), Request{Species: "ladybug"})
	assert.ErrorIs(t, err, ErrBusy)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitIdle(ctx), context.DeadlineExceeded)

	runner.release <- nil
	require.NoError(t, c.WaitIdle(context.Background()))
	assert.Equal(t, StateIdle, c.State())
	assert.NoError(t, c.LastError())
}

func TestCoordinator_FailureReturnsToIdle(t *testing.T) {
	runner := newGatedRunner()
	c := newTestCoordinator(&fakeActuator{}, runner)
	defer c.Shutdown(context.Background())

	require.NoError(t, c.Trigger(context.Background(), Request{Species: "ant"}))
	<-runner.started
	runner.release <- errors.New("arm jammed")

	require.NoError(t, c.WaitIdle(context.Background()))
	assert.False(t, c.Paused())
	assert.EqualError(t, c.LastError(), "arm jammed")

	// A new detection can be handled
	require.NoError(t, c.Trigger(context.Background(), Request{Species: "ladybug"}))
	<-runner.started
	runner.release <- nil
	require.NoError(t, c.WaitIdle(context.Background()))
}

func TestCoordinator_PanicReturnsToIdle(t *testing.T) {
	c := newTestCoordinator(&fakeActuator{}, panicRunner{})
	defer c.Shutdown(context.Background())

	require.NoError(t, c.Trigger(context.Background(), Request{Species: "ant"}))
	require.NoError(t, c.WaitIdle(context.Background()))

	assert.Equal(t, StateIdle, c.State())
	assert.ErrorIs(t, c.LastError(), ErrActuatorFailure)
}

func TestCoordinator_SequencePanicInActuator(t *testing.T) {
	act := &fakeActuator{panicOn: "point"}
	seq := NewSequence(SequenceConfig{Actuator: act, Steps: testSteps, Sleeper: &fakeClock{}}, logger.NewNopLogger())
	c := newTestCoordinator(act, seq)
	defer c.Shutdown(context.Background())

	require.NoError(t, c.Trigger(context.Background(), Request{Species: "ant"}))
	require.NoError(t, c.WaitIdle(context.Background()))
	assert.ErrorIs(t, c.LastError(), ErrActuatorFailure)
}

func TestCoordinator_FailedSequenceResetsPose(t *testing.T) {
	act := &fakeActuator{failOn: "drive"}
	seq := NewSequence(SequenceConfig{Actuator: act, Steps: testSteps, Sleeper: &fakeClock{}}, logger.NewNopLogger())
	c := newTestCoordinator(act, seq)
	defer c.Shutdown(context.Background())

	require.NoError(t, c.Trigger(context.Background(), Request{
		Species: "ant",
		BBox:    &events.BoundingBox{Y1: 0, Y2: 100},
	}))
	require.NoError(t, c.WaitIdle(context.Background()))

	assert.ErrorIs(t, c.LastError(), ErrActuatorFailure)
	assert.Equal(t, []string{"stop", "indicate", "drive", "stop", "reset"}, act.callLog())
}

func TestCoordinator_ResetFailureStillIdle(t *testing.T) {
	act := &fakeActuator{failOn: "reset"}
	runner := newGatedRunner()
	c := newTestCoordinator(act, runner)
	defer c.Shutdown(context.Background())

	require.NoError(t, c.Trigger(context.Background(), Request{Species: "ant"}))
	<-runner.started
	runner.release <- errors.New("arm jammed")

	require.NoError(t, c.WaitIdle(context.Background()))
	assert.Equal(t, StateIdle, c.State())
	assert.EqualError(t, c.LastError(), "arm jammed")
	assert.Equal(t, []string{"stop", "stop", "reset"}, act.callLog())

	require.NoError(t, c.Trigger(context.Background(), Request{Species: "ladybug"}))
	<-runner.started
	runner.release <- nil
	require.NoError(t, c.WaitIdle(context.Background()))
}

func TestCoordinator_WaitIdlePolling(t *testing.T) {
	runner := newGatedRunner()
	c := newTestCoordinator(&fakeActuator{}, runner)
	defer c.Shutdown(context.Background())

	require.NoError(t, c.WaitIdlePolling(context.Background()))

	require.NoError(t, c.Trigger(context.Background(), Request{Species: "ant"}))
	<-runner.started

	done := make(chan error, 1)
	go func() { done <- c.WaitIdlePolling(context.Background()) }()

	select {
	case <-done:
		t.Fatal("polling wait returned while busy")
	case <-time.After(20 * time.Millisecond):
	}

	runner.release <- nil
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("polling wait did not observe idle")
	}
}

func TestCoordinator_ManyWaiters(t *testing.T) {
	runner := newGatedRunner()
	c := newTestCoordinator(&fakeActuator{}, runner)
	defer c.Shutdown(context.Background())

	require.NoError(t, c.Trigger(context.Background(), Request{Species: "ant"}))
	<-runner.started

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.WaitIdle(context.Background()))
		}()
	}
	runner.release <- nil
	wg.Wait()
}

func TestCoordinator_ShutdownWaitsForSequence(t *testing.T) {
	runner := newGatedRunner()
	c := newTestCoordinator(&fakeActuator{}, runner)

	require.NoError(t, c.Trigger(context.Background(), Request{Species: "ant"}))
	<-runner.started

	go func() {
		time.Sleep(10 * time.Millisecond)
		runner.release <- nil
	}()
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, StateIdle, c.State())
	assert.NoError(t, c.LastError())

	assert.ErrorIs(t, c.Trigger(context.Background(), Request{Species: "ant"}), ErrClosed)
}

func TestCoordinator_ShutdownDeadlineInterrupts(t *testing.T) {
	runner := newGatedRunner()
	c := newTestCoordinator(&fakeActuator{}, runner)

	require.NoError(t, c.Trigger(context.Background(), Request{Species: "ant"}))
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, c.State())
	assert.ErrorIs(t, c.LastError(), context.Canceled)
}

func TestCoordinator_PublishesEvents(t *testing.T) {
	bus := service.NewEventBus(10)
	defer bus.Close()
	started := bus.Subscribe(service.EventTypeActuationStarted)
	finished := bus.Subscribe(service.EventTypeActuationFinished)

	runner := newGatedRunner()
	c := newTestCoordinator(&fakeActuator{}, runner)
	c.SetEventBus(bus)
	defer c.Shutdown(context.Background())

	require.NoError(t, c.Trigger(context.Background(), Request{EventID: "e1", Species: "ant"}))
	<-runner.started
	runner.release <- nil

	select {
	case ev := <-started:
		assert.Equal(t, "e1", ev.Data["event_id"])
	case <-time.After(time.Second):
		t.Fatal("no started event")
	}
	select {
	case ev := <-finished:
		assert.Equal(t, "actuation-coordinator", ev.Source)
	case <-time.After(time.Second):
		t.Fatal("no finished event")
	}
}
