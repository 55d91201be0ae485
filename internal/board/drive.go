package board

import (
	"fmt"
	"log/slog"
	"time"
)

// Speed factors selectable from the web UI.
const (
	SpeedSlow     = 0.3
	SpeedModerate = 0.5
	SpeedFast     = 0.9
)

// The right gearbox runs hot; scale it down to track straight.
const rightWheelCorrection = 0.69

// Motor values below this stall instead of turning the wheel.
const minMotorThreshold = 60

const (
	baseSpeed     = 200
	rotationSpeed = 150
)

// Drive layers speed levels, wheel correction and timed rotations on
// top of the raw motor registers.
type Drive struct {
	astar       *AStar
	speedFactor float64
	sleep       func(time.Duration)
}

// NewDrive creates a Drive at the fast speed level.
func NewDrive(a *AStar) *Drive {
	return &Drive{astar: a, speedFactor: SpeedFast, sleep: time.Sleep}
}

// SetSpeedLevel selects slow, moderate or fast; anything else maps to
// fast, matching the web UI contract.
func (d *Drive) SetSpeedLevel(level string) float64 {
	switch level {
	case "slow":
		d.speedFactor = SpeedSlow
	case "moderate":
		d.speedFactor = SpeedModerate
	default:
		d.speedFactor = SpeedFast
	}
	return d.speedFactor
}

// SpeedFactor returns the current speed factor.
func (d *Drive) SpeedFactor() float64 {
	return d.speedFactor
}

// Motors applies wheel correction and the stall threshold, then writes
// the motor registers.
func (d *Drive) Motors(left, right int) error {
	rightCorrected := int(float64(right) * rightWheelCorrection)

	left = applyThreshold(left)
	rightCorrected = applyThreshold(rightCorrected)

	return d.astar.Motors(clampMotor(left), clampMotor(rightCorrected))
}

// JoystickMotors scales raw joystick values by the current speed level.
func (d *Drive) JoystickMotors(left, right int) error {
	return d.Motors(int(float64(left)*d.speedFactor), int(float64(right)*d.speedFactor))
}

// Forward starts continuous forward motion at the current speed level.
func (d *Drive) Forward() error {
	speed := int(baseSpeed * d.speedFactor)
	return d.Motors(speed, speed)
}

// Backward starts continuous backward motion.
func (d *Drive) Backward() error {
	speed := int(baseSpeed * d.speedFactor)
	return d.Motors(-speed, -speed)
}

// Stop halts both motors.
func (d *Drive) Stop() error {
	return d.astar.Motors(0, 0)
}

// RotateLeft starts continuous counter-clockwise rotation.
func (d *Drive) RotateLeft() error {
	speed := int(rotationSpeed * d.speedFactor)
	return d.Motors(-speed, speed)
}

// RotateRight starts continuous clockwise rotation.
func (d *Drive) RotateRight() error {
	speed := int(rotationSpeed * d.speedFactor)
	return d.Motors(speed, -speed)
}

// RotateBy turns the robot by angle degrees (positive = clockwise) and
// stops. The duration is calibrated for 90 degrees in half a second at
// full factor; the call blocks until the rotation completes.
func (d *Drive) RotateBy(angle float64) error {
	if angle == 0 {
		return d.Stop()
	}

	if err := d.Stop(); err != nil {
		return fmt.Errorf("failed to stop before rotation: %w", err)
	}

	speed := int(rotationSpeed * d.speedFactor)

	var err error
	if angle > 0 {
		err = d.Motors(speed, -speed)
	} else {
		err = d.Motors(-speed, speed)
	}
	if err != nil {
		return fmt.Errorf("failed to start rotation: %w", err)
	}

	duration := rotationDuration(angle, d.speedFactor)
	slog.Debug("timed rotation", "angle", angle, "duration", duration)
	d.sleep(duration)

	return d.Stop()
}

func rotationDuration(angle, factor float64) time.Duration {
	if angle < 0 {
		angle = -angle
	}
	baseSeconds := angle / 90.0 * 0.5
	return time.Duration(baseSeconds / factor * float64(time.Second))
}

func applyThreshold(v int) int {
	if v == 0 {
		return 0
	}
	if v > 0 && v < minMotorThreshold {
		return minMotorThreshold
	}
	if v < 0 && v > -minMotorThreshold {
		return -minMotorThreshold
	}
	return v
}

func clampMotor(v int) int16 {
	if v > 400 {
		return 400
	}
	if v < -400 {
		return -400
	}
	return int16(v)
}
