package cmd

import (
	"log/slog"

	"github.com/robff/rovercap/internal/board"
	"github.com/robff/rovercap/internal/camera"
	"github.com/robff/rovercap/internal/config"
	"github.com/robff/rovercap/internal/doa"
	"github.com/robff/rovercap/internal/mirror"
	"github.com/robff/rovercap/internal/recording"
	"github.com/robff/rovercap/internal/session"
)

// hardwareContext holds everything probed at startup. Any component may
// be nil when its hardware is absent; the orchestrator degrades around
// the gaps.
type hardwareContext struct {
	recorder *session.Recorder
	audio    *recording.CaptureChannel
	sensor   *doa.Sensor
	astar    *board.AStar
	drive    *board.Drive
}

// openHardware probes every device once and assembles the session
// orchestrator. It never fails: missing hardware is logged and the
// corresponding capability flag stays false.
func openHardware(cfg *config.Config) *hardwareContext {
	ctx := &hardwareContext{}

	if cfg.Board.Enabled {
		bus, err := board.OpenI2C(cfg.Board.Bus, uint16(cfg.Board.Address))
		if err != nil {
			slog.Warn("motor controller unavailable", "bus", cfg.Board.Bus, "error", err)
		} else {
			ctx.astar = board.New(bus)
			ctx.drive = board.NewDrive(ctx.astar)
			slog.Info("motor controller connected", "bus", cfg.Board.Bus, "address", cfg.Board.Address)
		}
	}

	reader, err := doa.OpenReSpeaker()
	if err != nil {
		slog.Warn("doa sensor unavailable", "error", err)
	} else {
		ctx.sensor = doa.NewSensor(reader)
		ctx.sensor.Start()
	}

	audioMirror := mirror.NewAudioMirror()

	var bearing recording.BearingProvider
	if ctx.sensor != nil {
		bearing = ctx.sensor
	}
	ctx.audio = recording.NewCaptureChannel(cfg.Audio, recording.NewPortAudioSource(), bearing, audioMirror)
	audioOK := ctx.audio.Initialize()

	devices := camera.Discover(cfg.Camera.ModelMatch, cfg.Camera.ProbePaths, cfg.Camera.Targets)
	cameras := camera.NewChannel(cfg.Camera, devices)

	caps := session.Capabilities{
		AudioAvailable:  audioOK,
		CameraCount:     cameras.DeviceCount(),
		SensorAvailable: ctx.sensor != nil,
		BoardAvailable:  ctx.astar != nil,
	}
	slog.Info("hardware probe complete",
		"audio", caps.AudioAvailable, "cameras", caps.CameraCount,
		"doa_sensor", caps.SensorAvailable, "board", caps.BoardAvailable)

	var bearingStatus session.BearingStatus
	if ctx.sensor != nil {
		bearingStatus = ctx.sensor
	}

	ctx.recorder = session.NewRecorder(cfg, caps, ctx.audio, cameras,
		bearingStatus, audioMirror, mirror.NewVideoStreamer())
	return ctx
}

// shutdown stops any active session and releases all devices.
func (ctx *hardwareContext) shutdown() {
	ctx.recorder.Cleanup()
	if ctx.sensor != nil {
		ctx.sensor.Stop()
	}
	ctx.audio.Close()
	if ctx.astar != nil {
		ctx.astar.Close()
	}
}
