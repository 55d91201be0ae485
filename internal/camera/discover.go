// Package camera records the rover's USB cameras through supervised
// ffmpeg encoder processes.
package camera

import (
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Device is one capture device candidate.
type Device struct {
	Path string
	Name string
}

// listDevicesOutput runs the system device-listing utility. Split out
// for testing the parser against canned output.
var listDevicesOutput = func() (string, error) {
	out, err := exec.Command("v4l2-ctl", "--list-devices").Output()
	return string(out), err
}

var devicePathExists = func(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Discover enumerates candidate cameras: entries from `v4l2-ctl
// --list-devices` whose name matches modelMatch come first, then fixed
// probe paths fill any remaining slots up to targets. Degrades to an
// empty result when nothing is attached.
func Discover(modelMatch string, probePaths []string, targets int) []Device {
	var devices []Device

	out, err := listDevicesOutput()
	if err != nil {
		slog.Debug("v4l2-ctl listing failed, falling back to probe paths", "error", err)
	} else {
		devices = parseDeviceList(out, modelMatch)
	}

	// Fall back to probing the usual device nodes.
	for _, path := range probePaths {
		if len(devices) >= targets {
			break
		}
		if hasPath(devices, path) {
			continue
		}
		if devicePathExists(path) {
			devices = append(devices, Device{Path: path, Name: "probed"})
		}
	}

	if len(devices) > targets {
		devices = devices[:targets]
	}

	slog.Info("camera discovery complete", "found", len(devices), "target", targets)
	return devices
}

// parseDeviceList extracts the first device node of each block whose
// header matches modelMatch (case-insensitive). v4l2-ctl prints one
// unindented header per physical device followed by indented nodes.
func parseDeviceList(out, modelMatch string) []Device {
	var devices []Device
	match := strings.ToLower(modelMatch)

	var currentName string
	var taken bool
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "\t") && !strings.HasPrefix(line, " ") {
			currentName = strings.TrimSuffix(strings.TrimSpace(line), ":")
			taken = false
			continue
		}

		path := strings.TrimSpace(line)
		if !strings.HasPrefix(path, "/dev/video") {
			continue
		}
		if taken || !strings.Contains(strings.ToLower(currentName), match) {
			continue
		}

		// Only the first node of a block carries the capture stream.
		devices = append(devices, Device{Path: path, Name: currentName})
		taken = true
	}

	return devices
}

func hasPath(devices []Device, path string) bool {
	for _, d := range devices {
		if d.Path == path {
			return true
		}
	}
	return false
}
