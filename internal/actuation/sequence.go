package actuation

import (
	"context"
	"fmt"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// Step names, in execution order
const (
	StepIndicate = "indicate"
	StepApproach = "approach"
	StepPoint    = "point"
	StepRetreat  = "retreat"
	StepReset    = "reset"
)

// Steps lists the response sequence steps in order
var Steps = []string{StepIndicate, StepApproach, StepPoint, StepRetreat, StepReset}

// Distance estimate: reference object size over box height
const (
	distanceScale   = 200 * 0.3
	driveTimeFactor = 2 // seconds of driving per unit of distance

	defaultMaxDrive = 10 * time.Second
)

// Sleeper waits for d or until ctx is done
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// RealSleeper sleeps on the wall clock
var RealSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
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
})

// Request describes the detection a sequence responds to
type Request struct {
	EventID string
	Species string
	Risk    int
	BBox    *events.BoundingBox
}

// RequestFor builds a request from an admitted event
func RequestFor(e *events.DetectionEvent) Request {
	return Request{
		EventID: e.ID,
		Species: e.SpeciesName,
		Risk:    e.RiskLevel,
		BBox:    e.BoundingBox,
	}
}

// DriveTime returns how long to drive towards the detection. Without a usable
// box the platform stays put. The result is not bounded; Sequence clamps it.
func DriveTime(bbox *events.BoundingBox) time.Duration {
	if bbox == nil || bbox.Height() <= 0 {
		return 0
	}
	distance := distanceScale / bbox.Height()
	return time.Duration(distance * driveTimeFactor * float64(time.Second))
}

// Sequence is the physical response to one detection
type Sequence struct {
	actuator Actuator
	steps    map[string]time.Duration
	speed    float64
	maxDrive time.Duration
	sleeper  Sleeper
	logger   *logger.Logger
}

// SequenceConfig contains configuration for the response sequence
type SequenceConfig struct {
	Actuator   Actuator
	Steps      map[string]time.Duration // settle time after each step
	DriveSpeed float64
	MaxDrive   time.Duration // caps approach and retreat, default 10s
	Sleeper    Sleeper       // defaults to RealSleeper
}

// NewSequence creates a new response sequence
func NewSequence(config SequenceConfig, log *logger.Logger) *Sequence {
	if config.Sleeper == nil {
		config.Sleeper = RealSleeper
	}
	if config.DriveSpeed == 0 {
		config.DriveSpeed = 0.2
	}
	if config.MaxDrive <= 0 {
		config.MaxDrive = defaultMaxDrive
	}
	steps := make(map[string]time.Duration, len(config.Steps))
	for k, v := range config.Steps {
		steps[k] = v
	}
	return &Sequence{
		actuator: config.Actuator,
		steps:    steps,
		speed:    config.DriveSpeed,
		maxDrive: config.MaxDrive,
		sleeper:  config.Sleeper,
		logger:   log,
	}
}

// Run executes every step in order. The first failing step aborts the run
// with ErrActuatorFailure.
func (s *Sequence) Run(ctx context.Context, req Request) error {
	drive := DriveTime(req.BBox)
	if drive > s.maxDrive {
		s.logger.Warn("Drive time clamped", "species", req.Species, "estimated", drive, "max", s.maxDrive)
		drive = s.maxDrive
	}

	for _, step := range Steps {
		if err := s.runStep(ctx, step, req, drive); err != nil {
			return fmt.Errorf("%w: step %s: %v", ErrActuatorFailure, step, err)
		}
		if err := s.sleeper.Sleep(ctx, s.steps[step]); err != nil {
			return fmt.Errorf("%w: step %s interrupted: %v", ErrActuatorFailure, step, err)
		}
	}
	return nil
}

func (s *Sequence) runStep(ctx context.Context, step string, req Request, drive time.Duration) error {
	switch step {
	case StepIndicate:
		ind, err := s.actuator.RunResponseSequence(ctx, req.Risk)
		if err != nil {
			return err
		}
		s.logger.Debug("Risk indicated", "species", req.Species, "color", ind.Color, "beeps", ind.Beeps)
		return nil
	case StepApproach:
		if drive == 0 {
			return nil
		}
		return s.actuator.Drive(ctx, s.speed, drive)
	case StepPoint:
		return s.actuator.Point(ctx)
	case StepRetreat:
		if drive == 0 {
			return nil
		}
		return s.actuator.Drive(ctx, -s.speed, drive)
	case StepReset:
		return s.actuator.ResetPose(ctx)
	default:
		return fmt.Errorf("unknown step %q", step)
	}
}
