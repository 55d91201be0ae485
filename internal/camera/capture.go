package camera

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robff/rovercap/internal/config"
)

const (
	// An encoder that dies inside this window is treated as a failed
	// profile and the next one is tried.
	startProbation = 2 * time.Second

	monitorInterval = 5 * time.Second
	stopTimeout     = 5 * time.Second
)

// newEncoderCmd builds the encoder command line. Hook for tests.
var newEncoderCmd = func(args []string) *exec.Cmd {
	return exec.Command(args[0], args[1:]...)
}

// encoder is one supervised ffmpeg process writing a camera file.
type encoder struct {
	device     Device
	profile    string
	outputFile string
	cmd        *exec.Cmd
	stderrBuf  strings.Builder

	exited   chan error
	reported bool
}

// Channel supervises the per-camera encoder processes for one session.
type Channel struct {
	cfg     config.CameraConfig
	devices []Device

	mu        sync.Mutex
	encoders  []*encoder
	recording bool

	monitorStop chan struct{}
	monitorDone chan struct{}
}

// NewChannel creates a channel over the discovered devices.
func NewChannel(cfg config.CameraConfig, devices []Device) *Channel {
	return &Channel{cfg: cfg, devices: devices}
}

// DeviceCount returns how many cameras were discovered.
func (c *Channel) DeviceCount() int {
	return len(c.devices)
}

// DevicePaths returns the discovered device nodes.
func (c *Channel) DevicePaths() []string {
	paths := make([]string, len(c.devices))
	for i, d := range c.devices {
		paths[i] = d.Path
	}
	return paths
}

// ActiveCount returns how many encoders are currently believed to be
// running.
func (c *Channel) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, e := range c.encoders {
		if !e.reported {
			count++
		}
	}
	return count
}

// OutputFiles returns the media file paths of all started encoders.
func (c *Channel) OutputFiles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	files := make([]string, 0, len(c.encoders))
	for _, e := range c.encoders {
		files = append(files, e.outputFile)
	}
	return files
}

// StartRecording launches one encoder per discovered device, trying the
// configured capture profiles in order. Returns true if at least one
// camera started.
func (c *Channel) StartRecording(outputDir, filenamePrefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording {
		return false
	}
	if len(c.devices) == 0 {
		slog.Info("no cameras discovered, skipping video recording")
		return false
	}

	c.encoders = nil
	for i, dev := range c.devices {
		outputFile := filepath.Join(outputDir, fmt.Sprintf("%s_camera%d.avi", filenamePrefix, i+1))

		enc := c.startWithFallback(dev, outputFile)
		if enc == nil {
			slog.Error("all capture profiles failed for camera", "device", dev.Path)
			continue
		}

		slog.Info("camera recording started",
			"device", dev.Path, "profile", enc.profile, "output", outputFile)
		c.encoders = append(c.encoders, enc)
	}

	if len(c.encoders) == 0 {
		return false
	}

	c.recording = true
	c.monitorStop = make(chan struct{})
	c.monitorDone = make(chan struct{})
	go c.monitor()

	return true
}

// startWithFallback tries each capture profile until one survives the
// probation window.
func (c *Channel) startWithFallback(dev Device, outputFile string) *encoder {
	for _, profile := range c.cfg.Profiles {
		enc, err := startEncoder(dev, profile, outputFile)
		if err != nil {
			slog.Warn("capture profile failed",
				"device", dev.Path, "profile", profile.Name, "error", err)
			os.Remove(outputFile)
			continue
		}
		return enc
	}
	return nil
}

// startEncoder spawns the encoder and watches it through the probation
// window. An immediate exit means the device rejected the profile.
func startEncoder(dev Device, profile config.CaptureProfile, outputFile string) (*encoder, error) {
	args := buildEncoderArgs(dev.Path, profile, outputFile)
	cmd := newEncoderCmd(args)

	enc := &encoder{
		device:     dev,
		profile:    profile.Name,
		outputFile: outputFile,
		cmd:        cmd,
		exited:     make(chan error, 1),
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stderr.Read(buf)
			if n > 0 {
				enc.stderrBuf.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
	}()

	go func() {
		enc.exited <- cmd.Wait()
	}()

	select {
	case err := <-enc.exited:
		return nil, fmt.Errorf("encoder exited during startup (%v): %s", err, tail(enc.stderrBuf.String()))
	case <-time.After(startProbation):
		return enc, nil
	}
}

// buildEncoderArgs constructs the ffmpeg command line for one profile.
func buildEncoderArgs(devicePath string, profile config.CaptureProfile, outputFile string) []string {
	args := []string{"ffmpeg", "-f", "v4l2"}

	if profile.InputFormat != "" {
		args = append(args, "-input_format", profile.InputFormat)
	}

	args = append(args,
		"-video_size", profile.VideoSize,
		"-framerate", fmt.Sprintf("%d", profile.Framerate),
		"-i", devicePath,
		"-c:v", profile.Codec,
	)

	if profile.Codec == "libx264" {
		args = append(args, "-preset", "ultrafast")
	}

	args = append(args, "-y", outputFile)
	return args
}

// monitor polls the encoders and logs any that exited prematurely. No
// restart is attempted; the remaining channels keep recording.
func (c *Channel) monitor() {
	defer close(c.monitorDone)

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.monitorStop:
			return
		case <-ticker.C:
			c.mu.Lock()
			for _, e := range c.encoders {
				if e.reported {
					continue
				}
				select {
				case err := <-e.exited:
					e.reported = true
					slog.Error("camera encoder exited unexpectedly",
						"device", e.device.Path, "profile", e.profile,
						"error", err, "stderr", tail(e.stderrBuf.String()))
				default:
				}
			}
			c.mu.Unlock()
		}
	}
}

// StopRecording terminates the encoders gracefully, killing any that do
// not exit within the timeout, and logs the final file sizes. The
// monitor is joined outside the lock so an in-flight tick can take it
// and finish.
func (c *Channel) StopRecording() {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.recording = false
	stop, done := c.monitorStop, c.monitorDone
	encoders := c.encoders
	c.mu.Unlock()

	close(stop)
	<-done

	for _, e := range encoders {
		c.stopEncoder(e)
	}

	for _, e := range encoders {
		if info, err := os.Stat(e.outputFile); err == nil {
			slog.Info("camera file finalized",
				"output", e.outputFile, "size_bytes", info.Size(), "profile", e.profile)
		} else {
			slog.Warn("camera file missing after stop", "output", e.outputFile)
		}
	}
}

func (c *Channel) stopEncoder(e *encoder) {
	c.mu.Lock()
	reported := e.reported
	c.mu.Unlock()
	if reported {
		// Already exited; drain status if still pending.
		return
	}

	if e.cmd.Process != nil {
		if err := e.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("failed to interrupt encoder, killing", "device", e.device.Path, "error", err)
			e.cmd.Process.Kill()
		}
	}

	select {
	case <-e.exited:
		slog.Debug("camera encoder stopped", "device", e.device.Path)
	case <-time.After(stopTimeout):
		slog.Warn("camera encoder did not exit within timeout, force killing", "device", e.device.Path)
		if e.cmd.Process != nil {
			e.cmd.Process.Kill()
		}
		<-e.exited
	}

	c.mu.Lock()
	e.reported = true
	c.mu.Unlock()
}

// tail returns the last part of captured diagnostic output, enough to
// see why ffmpeg bailed without flooding the log.
func tail(s string) string {
	const max = 512
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
