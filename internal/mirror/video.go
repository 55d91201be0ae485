package mirror

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
)

// VideoStreamer pushes live low-resolution camera feeds to the remote
// laptop, one ffmpeg process per camera on consecutive ports. It is
// fully decoupled from local recording.
type VideoStreamer struct {
	mu        sync.Mutex
	streaming bool
}

// NewVideoStreamer returns an idle streamer.
func NewVideoStreamer() *VideoStreamer {
	return &VideoStreamer{}
}

// StartStreaming launches one streaming process per device path,
// pushing to host:basePort+i. Launch failures are logged and skipped.
func (v *VideoStreamer) StartStreaming(host string, basePort int, devices []string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.streaming {
		return
	}

	for i, dev := range devices {
		target := fmt.Sprintf("udp://%s:%d", host, basePort+i)

		cmd := exec.Command("ffmpeg",
			"-f", "v4l2",
			"-video_size", "640x480",
			"-framerate", "10",
			"-i", dev,
			"-c:v", "mpeg2video",
			"-b:v", "1M",
			"-f", "mpegts",
			target,
		)

		if err := cmd.Start(); err != nil {
			slog.Warn("video mirror stream failed to start", "device", dev, "target", target, "error", err)
			continue
		}

		slog.Info("video mirror stream started", "device", dev, "target", target, "pid", cmd.Process.Pid)

		// Reap the process when it exits so it does not linger as a
		// zombie; the handle itself is not tracked past this point.
		go func(c *exec.Cmd, dev string) {
			if err := c.Wait(); err != nil {
				slog.Debug("video mirror stream ended", "device", dev, "error", err)
			}
		}(cmd, dev)
	}

	v.streaming = true
}

// StopStreaming flips the streaming flag. The spawned processes are not
// tracked or terminated here; they end when their input disappears.
// TODO: keep the process handles so stop can terminate orphaned
// streamers instead of leaking them across sessions.
func (v *VideoStreamer) StopStreaming() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.streaming = false
}

// Streaming reports whether streaming has been requested.
func (v *VideoStreamer) Streaming() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.streaming
}
