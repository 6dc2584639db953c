package actuation

import (
	"context"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// Actuator drives the physical platform
type Actuator interface {
	// Stop halts all motion
	Stop(ctx context.Context) error
	// ResetPose returns the arm to its travel pose
	ResetPose(ctx context.Context) error
	// RunResponseSequence signals the risk level with lamps and beeper
	RunResponseSequence(ctx context.Context, risk int) (RiskIndication, error)
	// Drive moves at speed (m/s, negative reverses) for d, then stops
	Drive(ctx context.Context, speed float64, d time.Duration) error
	// Point aims the arm at the detection
	Point(ctx context.Context) error
}

// RiskIndication is what the platform shows for a risk level
type RiskIndication struct {
	Risk  int    `json:"risk"`
	Color string `json:"color"`
	Beeps int    `json:"beeps"`
}

// IndicationFor returns the lamp color and beep count for a risk level
func IndicationFor(risk int) RiskIndication {
	switch {
	case risk >= 2:
		return RiskIndication{Risk: risk, Color: "red", Beeps: 3}
	case risk == 1:
		return RiskIndication{Risk: risk, Color: "yellow", Beeps: 2}
	default:
		return RiskIndication{Risk: risk, Color: "green", Beeps: 1}
	}
}

// LogActuator is a dry-run actuator that only logs what it would do
type LogActuator struct {
	logger *logger.Logger
}

// NewLogActuator creates a dry-run actuator
func NewLogActuator(log *logger.Logger) *LogActuator {
	return &LogActuator{logger: log}
}

func (a *LogActuator) Stop(ctx context.Context) error {
	a.logger.Debug("Actuator: stop")
	return nil
}

func (a *LogActuator) ResetPose(ctx context.Context) error {
	a.logger.Debug("Actuator: reset pose")
	return nil
}

func (a *LogActuator) RunResponseSequence(ctx context.Context, risk int) (RiskIndication, error) {
	ind := IndicationFor(risk)
	a.logger.Info("Actuator: risk indication", "risk", ind.Risk, "color", ind.Color, "beeps", ind.Beeps)
	return ind, nil
}

func (a *LogActuator) Drive(ctx context.Context, speed float64, d time.Duration) error {
	a.logger.Debug("Actuator: drive", "speed", speed, "duration", d)
	return nil
}

func (a *LogActuator) Point(ctx context.Context) error {
	a.logger.Debug("Actuator: point")
	return nil
}
