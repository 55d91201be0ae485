package camera

import (
	"errors"
	"testing"
)

const cannedListing = `USB Camera: USB Camera (usb-0000:01:00.0-1.2):
	/dev/video0
	/dev/video1
	/dev/media0

USB Camera: USB Camera (usb-0000:01:00.0-1.3):
	/dev/video2
	/dev/video3
	/dev/media1

bcm2835-isp (platform:bcm2835-isp):
	/dev/video13
	/dev/video14
`

func TestParseDeviceList_FirstNodePerMatchingBlock(t *testing.T) {
	devices := parseDeviceList(cannedListing, "usb camera")

	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d: %v", len(devices), devices)
	}
	if devices[0].Path != "/dev/video0" {
		t.Errorf("Expected /dev/video0 first, got %s", devices[0].Path)
	}
	if devices[1].Path != "/dev/video2" {
		t.Errorf("Expected /dev/video2 second, got %s", devices[1].Path)
	}
}

func TestParseDeviceList_NonMatchingBlocksSkipped(t *testing.T) {
	devices := parseDeviceList(cannedListing, "bcm2835")

	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	if devices[0].Path != "/dev/video13" {
		t.Errorf("Expected /dev/video13, got %s", devices[0].Path)
	}
}

func TestDiscover_ProbeFallbackFillsTargets(t *testing.T) {
	origList := listDevicesOutput
	origExists := devicePathExists
	defer func() {
		listDevicesOutput = origList
		devicePathExists = origExists
	}()

	listDevicesOutput = func() (string, error) {
		return "", errors.New("v4l2-ctl not installed")
	}
	devicePathExists = func(path string) bool {
		return path == "/dev/video0" || path == "/dev/video2"
	}

	devices := Discover("usb camera", []string{"/dev/video0", "/dev/video1", "/dev/video2"}, 2)

	if len(devices) != 2 {
		t.Fatalf("Expected 2 probed devices, got %d", len(devices))
	}
	if devices[0].Path != "/dev/video0" || devices[1].Path != "/dev/video2" {
		t.Errorf("Unexpected probe result: %v", devices)
	}
}

func TestDiscover_CapsAtTargets(t *testing.T) {
	origList := listDevicesOutput
	origExists := devicePathExists
	defer func() {
		listDevicesOutput = origList
		devicePathExists = origExists
	}()

	listDevicesOutput = func() (string, error) { return cannedListing, nil }
	devicePathExists = func(path string) bool { return true }

	devices := Discover("usb camera", []string{"/dev/video5"}, 1)

	if len(devices) != 1 {
		t.Fatalf("Expected discovery capped at 1 device, got %d", len(devices))
	}
	if devices[0].Path != "/dev/video0" {
		t.Errorf("Expected model-matched device first, got %s", devices[0].Path)
	}
}

func TestDiscover_NothingAttached(t *testing.T) {
	origList := listDevicesOutput
	origExists := devicePathExists
	defer func() {
		listDevicesOutput = origList
		devicePathExists = origExists
	}()

	listDevicesOutput = func() (string, error) { return "", errors.New("no devices") }
	devicePathExists = func(path string) bool { return false }

	devices := Discover("usb camera", []string{"/dev/video0"}, 2)
	if len(devices) != 0 {
		t.Errorf("Expected no devices, got %v", devices)
	}
}
