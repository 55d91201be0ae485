package doa

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gousb"
)

// ReSpeaker Mic Array v2.0 USB identity.
const (
	respeakerVendorID  = 0x2886
	respeakerProductID = 0x0018
)

// Tuning parameter id for DOAANGLE on the XMOS firmware. The value is
// read with a vendor control-in transfer; bit 7 of wValue selects a
// read, bit 6 selects the integer parameter bank.
const (
	doaParamID     = 21
	tuningReadInt  = 0x80 | 0x40
	tuningRespSize = 8
)

// ReSpeakerReader reads the array's DOA angle over USB.
type ReSpeakerReader struct {
	ctx *gousb.Context
	dev *gousb.Device
}

// OpenReSpeaker finds the microphone array on the USB bus. Returns an
// error if the device is not attached.
func OpenReSpeaker() (*ReSpeakerReader, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(respeakerVendorID, respeakerProductID)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to open mic array: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("mic array %04x:%04x not found", respeakerVendorID, respeakerProductID)
	}

	return &ReSpeakerReader{ctx: ctx, dev: dev}, nil
}

// ReadBearing reads the DOAANGLE tuning parameter (0..359 degrees).
func (r *ReSpeakerReader) ReadBearing() (int, error) {
	buf := make([]byte, tuningRespSize)

	n, err := r.dev.Control(
		gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		0, tuningReadInt, doaParamID, buf)
	if err != nil {
		return 0, fmt.Errorf("doa control transfer failed: %w", err)
	}
	if n < 4 {
		return 0, fmt.Errorf("short doa response: %d bytes", n)
	}

	return int(int32(binary.LittleEndian.Uint32(buf[:4]))), nil
}

// Close releases the USB handles.
func (r *ReSpeakerReader) Close() error {
	if err := r.dev.Close(); err != nil {
		r.ctx.Close()
		return fmt.Errorf("failed to close mic array: %w", err)
	}
	return r.ctx.Close()
}
