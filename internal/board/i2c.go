package board

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// The AVR's TWI module needs a pause between the address write and the
// subsequent read transaction.
const twiSettleDelay = 100 * time.Microsecond

// I2CBus implements Bus over a periph.io I2C device.
type I2CBus struct {
	mu  sync.Mutex
	bus i2c.BusCloser
	dev i2c.Dev
}

// OpenI2C initializes the host and opens the named I2C bus ("1" on the
// Raspberry Pi header) targeting the controller at addr.
func OpenI2C(busName string, addr uint16) (*I2CBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", busName, err)
	}

	return &I2CBus{
		bus: bus,
		dev: i2c.Dev{Bus: bus, Addr: addr},
	}, nil
}

// WriteReg writes data starting at reg.
func (b *I2CBus) WriteReg(reg byte, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := append([]byte{reg}, data...)
	if err := b.dev.Tx(buf, nil); err != nil {
		return fmt.Errorf("i2c write at reg %d failed: %w", reg, err)
	}
	time.Sleep(twiSettleDelay)
	return nil
}

// ReadReg sets the register pointer, waits out the TWI settle delay and
// reads n bytes.
func (b *I2CBus) ReadReg(reg byte, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.dev.Tx([]byte{reg}, nil); err != nil {
		return nil, fmt.Errorf("i2c address write at reg %d failed: %w", reg, err)
	}
	time.Sleep(twiSettleDelay)

	buf := make([]byte, n)
	if err := b.dev.Tx(nil, buf); err != nil {
		return nil, fmt.Errorf("i2c read at reg %d failed: %w", reg, err)
	}
	return buf, nil
}

// Close closes the underlying bus.
func (b *I2CBus) Close() error {
	return b.bus.Close()
}
