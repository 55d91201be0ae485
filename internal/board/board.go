package board

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

// Shared-memory register offsets on the A-Star controller. The layout
// mirrors the struct the AVR firmware exposes over I2C.
const (
	regLEDs              = 0
	regButtons           = 3
	regMotors            = 6
	regBatteryMillivolts = 10
	regAnalog            = 12
	regPlayNotes         = 24
	regEncoders          = 39
	regServoPosition     = 43
	regServoEnable       = 44
	regLiftPWM           = 45
	regTiltPWM           = 47
	regGripperPWM        = 49
)

// Predefined servo arm positions understood by the firmware.
const (
	ServoNone byte = iota
	ServoHome
	ServoHold
	ServoLift
	ServoGrip
	ServoCapture
)

// Servo PWM limits in microseconds, from the arm's mechanical range.
const (
	liftPWMMin    = 960
	liftPWMMax    = 1900
	tiltPWMMin    = 1210
	tiltPWMMax    = 1890
	gripperPWMMin = 500
	gripperPWMMax = 2330
)

const notesLen = 14

// Bus is the register-addressed transaction interface the controller
// presents. Implementations must be safe for use from a single
// goroutine at a time.
type Bus interface {
	WriteReg(reg byte, data []byte) error
	ReadReg(reg byte, n int) ([]byte, error)
	Close() error
}

// AStar is the register-mapped glue for the controller board.
type AStar struct {
	bus Bus
}

// New wraps a Bus in the A-Star register map.
func New(bus Bus) *AStar {
	return &AStar{bus: bus}
}

// Close releases the underlying bus.
func (a *AStar) Close() error {
	return a.bus.Close()
}

// LEDs sets the red, yellow and green LEDs.
func (a *AStar) LEDs(red, yellow, green bool) error {
	return a.bus.WriteReg(regLEDs, []byte{b2i(red), b2i(yellow), b2i(green)})
}

// Motors sets the signed motor speeds (-400..400).
func (a *AStar) Motors(left, right int16) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], uint16(left))
	binary.LittleEndian.PutUint16(buf[2:], uint16(right))
	return a.bus.WriteReg(regMotors, buf)
}

// Buttons reads the A, B and C button states.
func (a *AStar) Buttons() (btnA, btnB, btnC bool, err error) {
	data, err := a.bus.ReadReg(regButtons, 3)
	if err != nil {
		return false, false, false, fmt.Errorf("failed to read buttons: %w", err)
	}
	return data[0] != 0, data[1] != 0, data[2] != 0, nil
}

// BatteryMillivolts reads the battery voltage.
func (a *AStar) BatteryMillivolts() (uint16, error) {
	data, err := a.bus.ReadReg(regBatteryMillivolts, 2)
	if err != nil {
		return 0, fmt.Errorf("failed to read battery voltage: %w", err)
	}
	return binary.LittleEndian.Uint16(data), nil
}

// Analog reads the six analog sensor channels.
func (a *AStar) Analog() ([6]uint16, error) {
	var vals [6]uint16
	data, err := a.bus.ReadReg(regAnalog, 12)
	if err != nil {
		return vals, fmt.Errorf("failed to read analog channels: %w", err)
	}
	for i := range vals {
		vals[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return vals, nil
}

// Encoders reads the signed left and right encoder counts.
func (a *AStar) Encoders() (left, right int16, err error) {
	data, err := a.bus.ReadReg(regEncoders, 4)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read encoders: %w", err)
	}
	left = int16(binary.LittleEndian.Uint16(data[0:]))
	right = int16(binary.LittleEndian.Uint16(data[2:]))
	return left, right, nil
}

// PlayNotes sends a note string to the buzzer. Strings longer than the
// firmware's 14-byte buffer are truncated.
func (a *AStar) PlayNotes(notes string) error {
	buf := make([]byte, 1+notesLen)
	buf[0] = 1
	copy(buf[1:], notes)
	return a.bus.WriteReg(regPlayNotes, buf)
}

// ServoEnable enables or disables servo control.
func (a *AStar) ServoEnable(enable bool) error {
	return a.bus.WriteReg(regServoEnable, []byte{b2i(enable)})
}

// ServoSetPosition moves the arm to one of the predefined positions,
// enabling the servos first.
func (a *AStar) ServoSetPosition(position byte) error {
	if position > ServoCapture {
		return fmt.Errorf("unknown servo position %d", position)
	}
	if err := a.ServoEnable(true); err != nil {
		return err
	}
	return a.bus.WriteReg(regServoPosition, []byte{position})
}

// ServoPark homes the arm and disables the servos.
func (a *AStar) ServoPark() error {
	if err := a.ServoSetPosition(ServoHome); err != nil {
		return err
	}
	return a.ServoEnable(false)
}

// ServoSetLiftPWM sets the lift servo pulse width, clamped to its
// mechanical range.
func (a *AStar) ServoSetLiftPWM(us uint16) error {
	return a.writePWM(regLiftPWM, clampPWM(us, liftPWMMin, liftPWMMax))
}

// ServoSetTiltPWM sets the tilt servo pulse width, clamped.
func (a *AStar) ServoSetTiltPWM(us uint16) error {
	return a.writePWM(regTiltPWM, clampPWM(us, tiltPWMMin, tiltPWMMax))
}

// ServoSetGripperPWM sets the gripper servo pulse width, clamped.
func (a *AStar) ServoSetGripperPWM(us uint16) error {
	return a.writePWM(regGripperPWM, clampPWM(us, gripperPWMMin, gripperPWMMax))
}

func (a *AStar) writePWM(reg byte, us uint16) error {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, us)
	return a.bus.WriteReg(reg, buf)
}

// ServoStatus is a snapshot of the arm state.
type ServoStatus struct {
	Position byte `json:"position"`
	Enabled  bool `json:"enabled"`
}

// ReadServoStatus reads the current servo position and enable flag.
// Read errors degrade to a zero status rather than failing the caller.
func (a *AStar) ReadServoStatus() ServoStatus {
	pos, err := a.bus.ReadReg(regServoPosition, 1)
	if err != nil {
		slog.Debug("servo position read failed", "error", err)
		return ServoStatus{}
	}
	en, err := a.bus.ReadReg(regServoEnable, 1)
	if err != nil {
		slog.Debug("servo enable read failed", "error", err)
		return ServoStatus{}
	}
	return ServoStatus{Position: pos[0], Enabled: en[0] != 0}
}

func clampPWM(us, min, max uint16) uint16 {
	if us < min {
		return min
	}
	if us > max {
		return max
	}
	return us
}

func b2i(v bool) byte {
	if v {
		return 1
	}
	return 0
}
