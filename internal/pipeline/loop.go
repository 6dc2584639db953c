package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/actuation"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/gate"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/serial"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
)

// Admitter decides whether a detection becomes an event
type Admitter interface {
	Admit(d gate.Detection) (*events.DetectionEvent, error)
}

// Responder runs the physical response and owns the pause signal
type Responder interface {
	Trigger(ctx context.Context, req actuation.Request) error
	WaitIdle(ctx context.Context) error
	Paused() bool
}

// SensorReader reads the current sensor values
type SensorReader interface {
	ReadSnapshot(ctx context.Context) (serial.Snapshot, error)
}

// EventRecorder stores an event remotely or in the local queue
type EventRecorder interface {
	Record(ctx context.Context, event *events.DetectionEvent) (events.Outcome, error)
}

// Notifier announces a stored event
type Notifier interface {
	Notify(ctx context.Context, event *events.DetectionEvent, outcome events.Outcome) error
}

// Loop handles detections strictly one at a time
type Loop struct {
	detector        Detector
	gate            Admitter
	responder       Responder
	sensor          SensorReader
	recorder        EventRecorder
	notifier        Notifier
	warmup          int
	limiter         *rate.Limiter
	shutdownTimeout time.Duration
	eventBus        *service.EventBus
	logger          *logger.Logger

	frames int
}

// LoopConfig contains the loop's collaborators
type LoopConfig struct {
	Detector        Detector
	Gate            Admitter
	Responder       Responder
	Sensor          SensorReader
	Recorder        EventRecorder
	Notifier        Notifier      // optional
	WarmupFrames    int           // frames ignored after start
	PerMinute       int           // admitted detections per minute, 0 for unlimited
	ShutdownTimeout time.Duration // finishing an event once ctx is done, default 30s
	EventBus        *service.EventBus
}

// NewLoop creates a new detection loop
func NewLoop(config LoopConfig, log *logger.Logger) *Loop {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.PerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.PerMinute)), 1)
	}
	shutdownTimeout := config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Loop{
		detector:        config.Detector,
		gate:            config.Gate,
		responder:       config.Responder,
		sensor:          config.Sensor,
		recorder:        config.Recorder,
		notifier:        config.Notifier,
		warmup:          config.WarmupFrames,
		limiter:         limiter,
		shutdownTimeout: shutdownTimeout,
		eventBus:        config.EventBus,
		logger:          log,
	}
}

// Run consumes frames until the detector is exhausted or ctx is done.
// Errors on individual detections never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	frames, err := l.detector.Frames(ctx)
	if err != nil {
		return err
	}

	l.logger.Info("Detection loop started", "warmup_frames", l.warmup)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Detection loop stopped")
			return nil
		case frame, ok := <-frames:
			if !ok {
				l.logger.Info("Detection source exhausted", "frames", l.frames)
				return nil
			}
			if err := l.handleFrame(ctx, frame); err != nil {
				return nil
			}
		}
	}
}

// handleFrame returns an error only when ctx is done
func (l *Loop) handleFrame(ctx context.Context, frame Frame) error {
	// No detection is judged while a response sequence runs
	if l.responder.Paused() {
		l.logger.Debug("Paused, waiting for response sequence to finish")
		if err := l.responder.WaitIdle(ctx); err != nil {
			return err
		}
	}

	l.frames++
	if l.frames <= l.warmup {
		return nil
	}

	for _, d := range frame.Detections {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.handleDetection(ctx, d)
	}
	return nil
}

func (l *Loop) handleDetection(ctx context.Context, d gate.Detection) {
	event, err := l.gate.Admit(d)
	if err != nil {
		l.publish(service.EventTypeDetectionRejected, map[string]interface{}{
			"species": d.Label,
			"reason":  err.Error(),
		})
		return
	}
	if !l.limiter.Allow() {
		l.logger.Debug("Detection rate limited", "event_id", event.ID, "species", event.SpeciesName)
		return
	}
	l.publish(service.EventTypeDetectionAdmitted, map[string]interface{}{
		"event_id": event.ID,
		"species":  event.SpeciesName,
	})

	if err := l.responder.Trigger(ctx, actuation.RequestFor(event)); err != nil {
		l.logger.Warn("Response sequence not started", "event_id", event.ID, "error", err)
	} else {
		l.waitForResponse(ctx, event.ID)
	}

	// An admitted event is always finished, within shutdownTimeout once ctx is done
	stepCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), l.shutdownTimeout)
		defer cancel()
	}

	snap, err := l.sensor.ReadSnapshot(stepCtx)
	if err != nil {
		l.logger.Warn("Sensor unavailable, recording unknown values", "event_id", event.ID, "error", err)
	} else {
		event.Sensor = events.SensorSnapshot(snap)
	}

	outcome, err := l.recorder.Record(context.WithoutCancel(stepCtx), event)
	if err != nil {
		l.logger.Error("Detection lost, could not be stored", "event_id", event.ID, "species", event.SpeciesName, "error", err)
		return
	}

	eventType := service.EventTypeDetectionPersisted
	if outcome == events.OutcomeQueued {
		eventType = service.EventTypeDetectionQueued
	}
	l.publish(eventType, map[string]interface{}{
		"event_id": event.ID,
		"species":  event.SpeciesName,
	})

	if l.notifier != nil {
		if err := l.notifier.Notify(ctx, event, outcome); err != nil {
			l.logger.Debug("Notification failed", "event_id", event.ID, "error", err)
		}
	}
}

// waitForResponse blocks until the response sequence is over. Cancelling ctx
// does not cut the wait short: sensors are read only once the platform is at
// rest, so the wait continues for up to shutdownTimeout.
func (l *Loop) waitForResponse(ctx context.Context, eventID string) {
	err := l.responder.WaitIdle(ctx)
	if err == nil {
		return
	}
	if ctx.Err() == nil {
		l.logger.Warn("Stopped waiting for response sequence", "event_id", eventID, "error", err)
		return
	}

	l.logger.Info("Shutting down, letting response sequence finish", "event_id", eventID, "timeout", l.shutdownTimeout)
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.shutdownTimeout)
	defer cancel()
	if err := l.responder.WaitIdle(waitCtx); err != nil {
		// Still persist what was seen
		l.logger.Warn("Response sequence outlived shutdown timeout", "event_id", eventID, "error", err)
	}
}

func (l *Loop) publish(eventType service.EventType, data map[string]interface{}) {
	if l.eventBus == nil {
		return
	}
	l.eventBus.Publish(service.Event{
		Type:   eventType,
		Source: "pipeline",
		Data:   data,
	})
}
