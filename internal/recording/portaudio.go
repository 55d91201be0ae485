package recording

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/robff/rovercap/internal/config"
)

// PortAudioSource opens the microphone array through PortAudio.
type PortAudioSource struct {
	stream *portaudio.Stream
	buf    []int16
}

// NewPortAudioSource returns an unopened source; Initialize performs
// the device discovery.
func NewPortAudioSource() *PortAudioSource {
	return &PortAudioSource{}
}

// Initialize scans input devices for one whose name matches a
// configured keyword and that offers at least the configured channel
// count, then opens a blocking capture stream on it.
func (s *PortAudioSource) Initialize(cfg config.AudioConfig) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to enumerate audio devices: %w", err)
	}

	var match *portaudio.DeviceInfo
	for _, dev := range devices {
		name := strings.ToLower(dev.Name)
		for _, keyword := range cfg.DeviceKeywords {
			if strings.Contains(name, keyword) {
				if dev.MaxInputChannels >= cfg.Channels {
					match = dev
				} else {
					slog.Debug("matching device has too few channels",
						"device", dev.Name, "channels", dev.MaxInputChannels, "required", cfg.Channels)
				}
				break
			}
		}
		if match != nil {
			break
		}
	}

	if match == nil {
		portaudio.Terminate()
		return fmt.Errorf("no input device matched keywords %v with >= %d channels", cfg.DeviceKeywords, cfg.Channels)
	}

	s.buf = make([]int16, cfg.FrameLength*cfg.Channels)

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   match,
			Channels: cfg.Channels,
			Latency:  match.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FrameLength,
	}, s.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open stream on %s: %w", match.Name, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start stream on %s: %w", match.Name, err)
	}

	s.stream = stream
	slog.Info("opened audio input device", "device", match.Name, "max_channels", match.MaxInputChannels)
	return nil
}

// ReadFrame blocks until one frame is captured. Device overflow is
// tolerated: the frame is delivered as-is and capture continues.
func (s *PortAudioSource) ReadFrame(dst []int16) error {
	if err := s.stream.Read(); err != nil && err != portaudio.InputOverflowed {
		return fmt.Errorf("stream read failed: %w", err)
	}
	copy(dst, s.buf)
	return nil
}

// Close stops and closes the stream and tears down PortAudio.
func (s *PortAudioSource) Close() error {
	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
		s.stream = nil
	}
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate portaudio: %w", err)
	}
	return nil
}
