// Package doa tracks the direction of arrival reported by the
// microphone array. A background poller keeps the latest bearing
// available without ever blocking the audio capture loop.
package doa

import (
	"log/slog"
	"sync"
	"time"
)

const (
	pollInterval = 100 * time.Millisecond
	joinTimeout  = 2 * time.Second

	// Log at most one read failure per this many errors.
	errorLogEvery = 50
)

// BearingReader reads one bearing sample from hardware.
type BearingReader interface {
	ReadBearing() (int, error)
	Close() error
}

// Sensor polls a BearingReader at 10 Hz and publishes the latest value
// under a lock. It runs for the hardware lifetime, not per session.
type Sensor struct {
	reader BearingReader

	mu      sync.Mutex
	bearing int
	valid   bool

	errCount uint64

	stop chan struct{}
	done chan struct{}
}

// NewSensor wraps reader in a poller. Call Start to begin polling.
func NewSensor(reader BearingReader) *Sensor {
	return &Sensor{reader: reader}
}

// Start launches the polling loop.
func (s *Sensor) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop()
}

func (s *Sensor) loop() {
	defer close(s.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			bearing, err := s.reader.ReadBearing()
			if err != nil {
				s.errCount++
				if s.errCount%errorLogEvery == 1 {
					slog.Warn("bearing read failed", "error", err, "total_errors", s.errCount)
				}
				continue
			}

			s.mu.Lock()
			s.bearing = bearing
			s.valid = true
			s.mu.Unlock()
		}
	}
}

// Current returns the most recent bearing, or ok=false if no reading
// has been produced yet. Never blocks on hardware.
func (s *Sensor) Current() (bearing int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bearing, s.valid
}

// Stop ends the polling loop with a bounded join and closes the reader.
func (s *Sensor) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)

	select {
	case <-s.done:
	case <-time.After(joinTimeout):
		slog.Warn("bearing poller did not stop within timeout")
	}

	if err := s.reader.Close(); err != nil {
		slog.Debug("bearing reader close failed", "error", err)
	}
	s.stop = nil
}
