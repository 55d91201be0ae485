package cmd

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/robff/rovercap/internal/camera"
	"github.com/robff/rovercap/internal/doa"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long:  `List the audio input devices, cameras and DOA sensor visible to the rover.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := listAudioDevices(); err != nil {
			return err
		}
		listCameras()
		listDOASensor()
		return nil
	},
}

// listAudioDevices prints every PortAudio input device.
func listAudioDevices() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("failed to enumerate audio devices: %w", err)
	}

	fmt.Printf("🎤 AUDIO INPUT DEVICES:\n")
	n := 0
	for _, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}
		n++
		fmt.Printf("  %d. %s (%d channels, %.0f Hz default)\n",
			n, dev.Name, dev.MaxInputChannels, dev.DefaultSampleRate)
	}
	if n == 0 {
		fmt.Printf("  (none found)\n")
	}
	fmt.Println()
	return nil
}

// listCameras prints the cameras discovery would pick up.
func listCameras() {
	devices := camera.Discover(cfg.Camera.ModelMatch, cfg.Camera.ProbePaths, cfg.Camera.Targets)

	fmt.Printf("📷 CAMERAS (%d found, target %d):\n", len(devices), cfg.Camera.Targets)
	for i, dev := range devices {
		name := dev.Name
		if name == "" {
			name = "(probed)"
		}
		fmt.Printf("  %d. %s  %s\n", i+1, dev.Path, name)
	}
	if len(devices) == 0 {
		fmt.Printf("  (none found)\n")
	}
	fmt.Println()
}

// listDOASensor reports whether the microphone array's USB control
// interface is reachable and prints one bearing reading if so.
func listDOASensor() {
	fmt.Printf("🧭 DOA SENSOR:\n")

	reader, err := doa.OpenReSpeaker()
	if err != nil {
		fmt.Printf("  not available: %v\n", err)
		return
	}
	defer reader.Close()

	bearing, err := reader.ReadBearing()
	if err != nil {
		fmt.Printf("  connected, but read failed: %v\n", err)
		return
	}
	fmt.Printf("  connected, current bearing %d°\n", bearing)
}
