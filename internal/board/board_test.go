package board

import (
	"bytes"
	"errors"
	"testing"
)

// fakeBus records register writes and serves canned reads.
type fakeBus struct {
	writes []regWrite
	reads  map[byte][]byte
	err    error
}

type regWrite struct {
	reg  byte
	data []byte
}

func (b *fakeBus) WriteReg(reg byte, data []byte) error {
	if b.err != nil {
		return b.err
	}
	cp := append([]byte(nil), data...)
	b.writes = append(b.writes, regWrite{reg: reg, data: cp})
	return nil
}

func (b *fakeBus) ReadReg(reg byte, n int) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	data, ok := b.reads[reg]
	if !ok || len(data) < n {
		return nil, errors.New("no canned read")
	}
	return data[:n], nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) lastWrite(t *testing.T) regWrite {
	t.Helper()
	if len(b.writes) == 0 {
		t.Fatal("Expected at least one register write")
	}
	return b.writes[len(b.writes)-1]
}

func TestMotors_LittleEndianPacking(t *testing.T) {
	bus := &fakeBus{}
	a := New(bus)

	if err := a.Motors(200, -138); err != nil {
		t.Fatalf("Motors failed: %v", err)
	}

	w := bus.lastWrite(t)
	if w.reg != regMotors {
		t.Errorf("Expected register %d, got %d", regMotors, w.reg)
	}
	// 200 = 0x00C8, -138 = 0xFF76
	want := []byte{0xC8, 0x00, 0x76, 0xFF}
	if !bytes.Equal(w.data, want) {
		t.Errorf("Expected %v, got %v", want, w.data)
	}
}

func TestLEDs_Packing(t *testing.T) {
	bus := &fakeBus{}
	a := New(bus)

	if err := a.LEDs(true, false, true); err != nil {
		t.Fatalf("LEDs failed: %v", err)
	}

	w := bus.lastWrite(t)
	if w.reg != regLEDs {
		t.Errorf("Expected register %d, got %d", regLEDs, w.reg)
	}
	if !bytes.Equal(w.data, []byte{1, 0, 1}) {
		t.Errorf("Expected [1 0 1], got %v", w.data)
	}
}

func TestPlayNotes_TruncatesToBufferSize(t *testing.T) {
	bus := &fakeBus{}
	a := New(bus)

	if err := a.PlayNotes("o4l16ceg>c8this part is cut"); err != nil {
		t.Fatalf("PlayNotes failed: %v", err)
	}

	w := bus.lastWrite(t)
	if w.reg != regPlayNotes {
		t.Errorf("Expected register %d, got %d", regPlayNotes, w.reg)
	}
	if len(w.data) != 1+notesLen {
		t.Fatalf("Expected %d bytes, got %d", 1+notesLen, len(w.data))
	}
	if w.data[0] != 1 {
		t.Errorf("Expected play flag 1, got %d", w.data[0])
	}
	if string(w.data[1:]) != "o4l16ceg>c8thi" {
		t.Errorf("Unexpected truncation: %q", w.data[1:])
	}
}

func TestBatteryMillivolts(t *testing.T) {
	bus := &fakeBus{reads: map[byte][]byte{
		regBatteryMillivolts: {0x40, 0x1F}, // 8000 mV
	}}
	a := New(bus)

	mv, err := a.BatteryMillivolts()
	if err != nil {
		t.Fatalf("BatteryMillivolts failed: %v", err)
	}
	if mv != 8000 {
		t.Errorf("Expected 8000 mV, got %d", mv)
	}
}

func TestEncoders_SignedValues(t *testing.T) {
	bus := &fakeBus{reads: map[byte][]byte{
		regEncoders: {0x10, 0x00, 0xF0, 0xFF}, // 16, -16
	}}
	a := New(bus)

	left, right, err := a.Encoders()
	if err != nil {
		t.Fatalf("Encoders failed: %v", err)
	}
	if left != 16 || right != -16 {
		t.Errorf("Expected (16, -16), got (%d, %d)", left, right)
	}
}

func TestServoSetPosition_EnablesFirst(t *testing.T) {
	bus := &fakeBus{}
	a := New(bus)

	if err := a.ServoSetPosition(ServoGrip); err != nil {
		t.Fatalf("ServoSetPosition failed: %v", err)
	}

	if len(bus.writes) != 2 {
		t.Fatalf("Expected 2 writes (enable then position), got %d", len(bus.writes))
	}
	if bus.writes[0].reg != regServoEnable || bus.writes[0].data[0] != 1 {
		t.Errorf("Expected enable write first, got reg %d data %v", bus.writes[0].reg, bus.writes[0].data)
	}
	if bus.writes[1].reg != regServoPosition || bus.writes[1].data[0] != ServoGrip {
		t.Errorf("Expected position write, got reg %d data %v", bus.writes[1].reg, bus.writes[1].data)
	}
}

func TestServoSetPosition_RejectsUnknown(t *testing.T) {
	a := New(&fakeBus{})
	if err := a.ServoSetPosition(ServoCapture + 1); err == nil {
		t.Error("Expected error for out-of-range position")
	}
}

func TestServoPWM_Clamped(t *testing.T) {
	cases := []struct {
		name string
		call func(*AStar) error
		reg  byte
		want uint16
	}{
		{"lift below min", func(a *AStar) error { return a.ServoSetLiftPWM(100) }, regLiftPWM, 960},
		{"lift above max", func(a *AStar) error { return a.ServoSetLiftPWM(5000) }, regLiftPWM, 1900},
		{"tilt in range", func(a *AStar) error { return a.ServoSetTiltPWM(1500) }, regTiltPWM, 1500},
		{"gripper above max", func(a *AStar) error { return a.ServoSetGripperPWM(3000) }, regGripperPWM, 2330},
	}

	for _, c := range cases {
		bus := &fakeBus{}
		a := New(bus)
		if err := c.call(a); err != nil {
			t.Fatalf("%s: call failed: %v", c.name, err)
		}
		w := bus.lastWrite(t)
		if w.reg != c.reg {
			t.Errorf("%s: expected register %d, got %d", c.name, c.reg, w.reg)
		}
		got := uint16(w.data[0]) | uint16(w.data[1])<<8
		if got != c.want {
			t.Errorf("%s: expected %d us, got %d", c.name, c.want, got)
		}
	}
}

func TestReadServoStatus_DegradesOnError(t *testing.T) {
	a := New(&fakeBus{err: errors.New("bus gone")})
	st := a.ReadServoStatus()
	if st.Position != 0 || st.Enabled {
		t.Errorf("Expected zero status on bus error, got %+v", st)
	}
}
