package recording

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robff/rovercap/internal/config"
)

const (
	joinTimeout = 5 * time.Second

	// In-memory backup of recent DOA entries, kept for post-mortem
	// inspection when the log file is suspect.
	backupRingSize = 100

	transientLogEvery = 50
)

// Source is a multi-channel audio input device. ReadFrame blocks until
// one full frame is available and must tolerate device overflow without
// failing.
type Source interface {
	Initialize(cfg config.AudioConfig) error
	ReadFrame(dst []int16) error
	Close() error
}

// BearingProvider is a non-blocking view of the latest DOA reading.
type BearingProvider interface {
	Current() (bearing int, ok bool)
}

// FrameSink receives every captured frame for network mirroring.
type FrameSink interface {
	Connected() bool
	Send(frame []byte, frameLength, channels int, bearing *int, level float64)
}

// CaptureChannel owns one audio input stream and its capture loop.
type CaptureChannel struct {
	cfg       config.AudioConfig
	source    Source
	bearing   BearingProvider
	sink      FrameSink
	sessionID string

	mu          sync.Mutex
	initialized bool
	capturing   bool
	writer      *Writer
	frameCount  int
	startTime   time.Time

	// Bounded ring of the most recent DOA entries.
	backup []LogEntry

	transientErrs uint64

	stop chan struct{}
	done chan struct{}
}

// NewCaptureChannel wires a capture channel. bearing and sink may be
// nil; the loop then logs unknown bearings and skips mirroring.
func NewCaptureChannel(cfg config.AudioConfig, source Source, bearing BearingProvider, sink FrameSink) *CaptureChannel {
	return &CaptureChannel{cfg: cfg, source: source, bearing: bearing, sink: sink}
}

// SetSessionID tags checkpoint and summary records with the session.
func (c *CaptureChannel) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Initialize discovers and opens the input device. Returns false when
// no matching device is attached; the session then runs without audio.
func (c *CaptureChannel) Initialize() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return true
	}

	if err := c.source.Initialize(c.cfg); err != nil {
		slog.Warn("audio device initialization failed", "error", err)
		return false
	}

	c.initialized = true
	slog.Info("audio capture initialized",
		"sample_rate", c.cfg.SampleRate, "channels", c.cfg.Channels, "frame_length", c.cfg.FrameLength)
	return true
}

// Initialized reports whether the input device was opened.
func (c *CaptureChannel) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// StartCapture opens the output files and launches the capture loop.
// Fails if the device was never initialized or a capture is running.
func (c *CaptureChannel) StartCapture(outputDir, filenamePrefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		slog.Warn("start capture requested but audio device not initialized")
		return false
	}
	if c.capturing {
		return false
	}

	writer, err := NewWriter(outputDir, filenamePrefix, c.cfg.SampleRate, c.cfg.Channels)
	if err != nil {
		slog.Error("failed to open recording files", "error", err)
		return false
	}

	c.writer = writer
	c.frameCount = 0
	c.backup = nil
	c.transientErrs = 0
	c.startTime = time.Now()
	c.capturing = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.captureLoop()

	slog.Info("audio capture started", "output", writer.WavPath())
	return true
}

// captureLoop pulls frames until stopped. Each iteration is fully
// sequential: append, level, bearing, cadence-gated log, mirror send.
// A write in progress always completes before cancellation is observed.
func (c *CaptureChannel) captureLoop() {
	defer close(c.done)

	frame := make([]int16, c.cfg.FrameLength*c.cfg.Channels)
	logInterval := time.Duration(c.cfg.DOALogIntervalSec * float64(time.Second))
	var lastLog time.Time

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if err := c.source.ReadFrame(frame); err != nil {
			c.transientErrs++
			if c.transientErrs%transientLogEvery == 1 {
				slog.Warn("audio frame read failed", "error", err, "total_errors", c.transientErrs)
			}
			continue
		}

		if err := c.writer.AppendFrame(frame); err != nil {
			c.transientErrs++
			if c.transientErrs%transientLogEvery == 1 {
				slog.Warn("audio frame write failed", "error", err, "total_errors", c.transientErrs)
			}
			continue
		}

		c.mu.Lock()
		c.frameCount++
		frameCount := c.frameCount
		c.mu.Unlock()

		if frameCount%c.cfg.FlushEveryFrames == 0 {
			if err := c.writer.Sync(); err != nil {
				slog.Debug("audio sync failed", "error", err)
			}
		}

		level := meanAbsLevel(frame)

		var bearingPtr *int
		if c.bearing != nil {
			if bearing, ok := c.bearing.Current(); ok {
				b := bearing
				bearingPtr = &b
			}
		}

		now := time.Now()
		if lastLog.IsZero() || now.Sub(lastLog) >= logInterval {
			lastLog = now
			entry := LogEntry{
				Timestamp:  float64(now.UnixNano()) / float64(time.Second),
				Frame:      frameCount,
				DOAAngle:   bearingPtr,
				AudioLevel: level,
			}
			if err := c.writer.LogEntry(entry); err != nil {
				slog.Debug("doa log write failed", "error", err)
			}
			c.appendBackup(entry)
		}

		if c.sink != nil && c.sink.Connected() {
			c.sink.Send(frameBytes(frame), c.cfg.FrameLength, c.cfg.Channels, bearingPtr, level)
		}

		if frameCount%c.cfg.CheckpointEveryFrames == 0 {
			c.writer.Checkpoint(CheckpointRecord{
				SessionID:                c.sessionID,
				Timestamp:                float64(now.UnixNano()) / float64(time.Second),
				FrameCount:               frameCount,
				FileSizeBytes:            c.writer.FileSize(),
				RecordingDurationSeconds: c.durationSeconds(frameCount),
			})
		}
	}
}

// StopCapture signals the loop, joins it with a bounded wait, writes
// the final summary and closes the files. A loop that misses the join
// timeout keeps ownership of the writer and the files stay
// unfinalized.
func (c *CaptureChannel) StopCapture() {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return
	}
	c.capturing = false
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(joinTimeout):
		// The loop still owns the writer; finalizing now would race
		// its appends. Leave the files as they are.
		c.mu.Lock()
		writer := c.writer
		c.mu.Unlock()
		slog.Error("audio capture loop did not stop within timeout, leaving files unfinalized",
			"output", writer.WavPath())
		return
	}

	c.mu.Lock()
	writer := c.writer
	frameCount := c.frameCount
	sessionID := c.sessionID
	entryCount := writer.EntryCount()
	c.mu.Unlock()

	writer.Summary(SummaryRecord{
		SessionID:                sessionID,
		AudioFile:                writer.WavPath(),
		FileSizeBytes:            writer.FileSize(),
		FrameCount:               frameCount,
		RecordingDurationSeconds: c.durationSeconds(frameCount),
		DOALogFile:               writer.LogPath(),
		DOAEntryCount:            entryCount,
	})

	if err := writer.Close(); err != nil {
		slog.Error("failed to finalize recording files", "error", err)
	}

	slog.Info("audio capture stopped",
		"frames", frameCount, "duration_sec", c.durationSeconds(frameCount),
		"size_bytes", writer.FileSize(), "transient_errors", c.transientErrs)
}

// Capturing reports whether the loop is running.
func (c *CaptureChannel) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// FrameCount returns the number of frames appended so far.
func (c *CaptureChannel) FrameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameCount
}

// Duration is derived from the frame count, not wall-clock time, so it
// is exact regardless of scheduling jitter.
func (c *CaptureChannel) Duration() time.Duration {
	return time.Duration(c.durationSeconds(c.FrameCount()) * float64(time.Second))
}

// RecentEntries returns a copy of the in-memory DOA backup ring.
func (c *CaptureChannel) RecentEntries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.backup))
	copy(out, c.backup)
	return out
}

// Close releases the input device.
func (c *CaptureChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		if err := c.source.Close(); err != nil {
			slog.Debug("audio source close failed", "error", err)
		}
		c.initialized = false
	}
}

func (c *CaptureChannel) durationSeconds(frames int) float64 {
	return float64(frames) * float64(c.cfg.FrameLength) / float64(c.cfg.SampleRate)
}

func (c *CaptureChannel) appendBackup(entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backup = append(c.backup, entry)
	if len(c.backup) > backupRingSize {
		c.backup = c.backup[len(c.backup)-backupRingSize:]
	}
}

// meanAbsLevel computes the mean absolute amplitude over all channels.
func meanAbsLevel(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return sum / float64(len(samples))
}

// frameBytes serializes samples as little-endian 16-bit PCM, the raw
// layout the mirror receiver expects.
func frameBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
