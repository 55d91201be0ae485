// Package session orchestrates one bounded recording activation across
// audio, bearing and camera capture.
package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/robff/rovercap/internal/config"
)

const timestampLayout = "20060102_150405"

// AudioChannel is the audio capture surface the orchestrator drives.
type AudioChannel interface {
	Initialized() bool
	SetSessionID(id string)
	StartCapture(outputDir, filenamePrefix string) bool
	StopCapture()
	FrameCount() int
	Duration() time.Duration
}

// CameraChannel is the camera capture surface.
type CameraChannel interface {
	DeviceCount() int
	DevicePaths() []string
	ActiveCount() int
	OutputFiles() []string
	StartRecording(outputDir, filenamePrefix string) bool
	StopRecording()
}

// BearingStatus is a non-blocking view of the latest DOA reading.
type BearingStatus interface {
	Current() (bearing int, ok bool)
}

// AudioLink is the audio/metadata mirror connection.
type AudioLink interface {
	Connect(host string, port int) bool
	Connected() bool
	Close()
}

// VideoLink is the live video mirror.
type VideoLink interface {
	StartStreaming(host string, basePort int, devices []string)
	StopStreaming()
}

// Capabilities records what hardware was present at startup. Computed
// once at construction and carried immutably thereafter.
type Capabilities struct {
	AudioAvailable  bool `json:"audio_available"`
	CameraCount     int  `json:"camera_count"`
	SensorAvailable bool `json:"sensor_available"`
	BoardAvailable  bool `json:"board_available"`
}

// Status is a point-in-time snapshot for the web layer.
type Status struct {
	Recording       bool         `json:"recording"`
	Capabilities    Capabilities `json:"capabilities"`
	MirrorConnected bool         `json:"mirror_connected"`
	ActiveCameras   int          `json:"active_cameras"`
	UserID          string       `json:"user_id"`
	SessionID       string       `json:"session_id,omitempty"`
	ElapsedSeconds  float64      `json:"elapsed_seconds,omitempty"`
	DOAAngle        *int         `json:"doa_angle,omitempty"`
}

// Manifest is the YAML session record written into the session
// directory on stop.
type Manifest struct {
	SessionID       string   `yaml:"session_id"`
	UserID          string   `yaml:"user_id"`
	StartedAt       string   `yaml:"started_at"`
	DurationSeconds float64  `yaml:"duration_seconds"`
	AudioFrames     int      `yaml:"audio_frames"`
	Files           []string `yaml:"files"`
}

// Recorder is the recording session orchestrator. At most one session
// is active at a time.
type Recorder struct {
	cfg     *config.Config
	caps    Capabilities
	audio   AudioChannel
	cameras CameraChannel
	bearing BearingStatus
	mirror  AudioLink
	video   VideoLink

	mu        sync.Mutex
	userID    string
	active    bool
	sessionID string
	startTime time.Time
	outputDir string
}

// NewRecorder assembles the orchestrator from the hardware context.
// bearing, mirror and video may be nil when the hardware or remote
// endpoint is absent.
func NewRecorder(cfg *config.Config, caps Capabilities, audio AudioChannel, cameras CameraChannel, bearing BearingStatus, mirrorLink AudioLink, video VideoLink) *Recorder {
	return &Recorder{
		cfg:     cfg,
		caps:    caps,
		audio:   audio,
		cameras: cameras,
		bearing: bearing,
		mirror:  mirrorLink,
		video:   video,
		userID:  "user",
	}
}

// Capabilities returns the immutable hardware flags.
func (r *Recorder) Capabilities() Capabilities {
	return r.caps
}

// SetUserID validates and stores the id used to name the next session's
// directory and files. It does not rename or affect an active session.
func (r *Recorder) SetUserID(id string) (string, error) {
	sanitized := config.SanitizeUserID(id)
	if sanitized == "" {
		return "", fmt.Errorf("user id %q is empty after sanitization", id)
	}

	r.mu.Lock()
	r.userID = sanitized
	r.mu.Unlock()

	slog.Info("user id updated", "user_id", sanitized)
	return sanitized, nil
}

// UserID returns the id the next session will use.
func (r *Recorder) UserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

// StartRecording transitions Idle -> Active. Returns false if a session
// is already active or no capture stream could be started.
func (r *Recorder) StartRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		slog.Warn("start recording ignored, session already active")
		return false
	}

	now := time.Now()
	sessionID := uuid.NewString()
	dirName := fmt.Sprintf("%s_%s", r.userID, now.Format(timestampLayout))
	outputDir := filepath.Join(r.cfg.Output.Directory, dirName)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		slog.Error("failed to create session directory", "dir", outputDir, "error", err)
		return false
	}

	audioStarted := false
	if r.caps.AudioAvailable {
		if r.mirror != nil && r.cfg.Mirror.Host != "" {
			r.mirror.Connect(r.cfg.Mirror.Host, r.cfg.Mirror.Port)
		}
		r.audio.SetSessionID(sessionID)
		audioStarted = r.audio.StartCapture(outputDir, r.userID)
	}

	camerasStarted := r.cameras.StartRecording(outputDir, r.userID)

	if !audioStarted && !camerasStarted {
		slog.Error("no capture stream could be started, session aborted")
		if r.mirror != nil {
			r.mirror.Close()
		}
		os.Remove(outputDir)
		return false
	}

	if r.video != nil && r.cfg.Mirror.Host != "" {
		r.video.StartStreaming(r.cfg.Mirror.Host, r.cfg.Mirror.VideoBasePort, r.cameras.DevicePaths())
	}

	r.active = true
	r.sessionID = sessionID
	r.startTime = now
	r.outputDir = outputDir

	slog.Info("recording session started",
		"session_id", sessionID, "user_id", r.userID, "dir", outputDir,
		"audio", audioStarted, "cameras", r.cameras.ActiveCount())
	return true
}

// StopRecording transitions Active -> Idle, finalizing all files.
// Returns false (and performs no file operations) when Idle.
func (r *Recorder) StopRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		slog.Warn("stop recording ignored, no active session")
		return false
	}

	if r.video != nil {
		r.video.StopStreaming()
	}
	r.cameras.StopRecording()

	if r.caps.AudioAvailable {
		r.audio.StopCapture()
	}
	if r.mirror != nil {
		r.mirror.Close()
	}

	elapsed := time.Since(r.startTime)
	files := r.listSessionFiles()

	r.writeManifest(elapsed, files)

	slog.Info("recording session stopped",
		"session_id", r.sessionID, "elapsed", elapsed.Round(time.Millisecond), "files", len(files))
	for _, f := range files {
		slog.Info("session file", "path", f)
	}

	r.active = false
	r.sessionID = ""
	r.outputDir = ""
	return true
}

// Active reports whether a session is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Status returns a snapshot of the recording state. Elapsed duration
// and bearing are only populated while a session is active.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		Recording:     r.active,
		Capabilities:  r.caps,
		ActiveCameras: r.cameras.ActiveCount(),
		UserID:        r.userID,
	}

	if r.mirror != nil {
		st.MirrorConnected = r.mirror.Connected()
	}

	if r.active {
		st.SessionID = r.sessionID
		st.ElapsedSeconds = time.Since(r.startTime).Seconds()
		if r.bearing != nil {
			if bearing, ok := r.bearing.Current(); ok {
				b := bearing
				st.DOAAngle = &b
			}
		}
	}

	return st
}

// Cleanup stops any active session; called on process shutdown.
func (r *Recorder) Cleanup() {
	if r.Active() {
		r.StopRecording()
	}
}

func (r *Recorder) listSessionFiles() []string {
	entries, err := os.ReadDir(r.outputDir)
	if err != nil {
		slog.Warn("failed to enumerate session directory", "dir", r.outputDir, "error", err)
		return nil
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(r.outputDir, e.Name()))
		}
	}
	return files
}

func (r *Recorder) writeManifest(elapsed time.Duration, files []string) {
	manifest := Manifest{
		SessionID:       r.sessionID,
		UserID:          r.userID,
		StartedAt:       r.startTime.Format(time.RFC3339),
		DurationSeconds: elapsed.Seconds(),
		AudioFrames:     r.audio.FrameCount(),
		Files:           files,
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		slog.Warn("failed to marshal session manifest", "error", err)
		return
	}

	path := filepath.Join(r.outputDir, "session.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Warn("failed to write session manifest", "path", path, "error", err)
	}
}
