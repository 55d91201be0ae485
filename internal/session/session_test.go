package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robff/rovercap/internal/config"
)

// fakeAudio simulates an initialized audio capture channel.
type fakeAudio struct {
	initialized bool
	startOK     bool
	capturing   bool
	sessionID   string
	startDir    string
	startPrefix string
	frames      int
	stops       int
}

func (a *fakeAudio) Initialized() bool      { return a.initialized }
func (a *fakeAudio) SetSessionID(id string) { a.sessionID = id }
func (a *fakeAudio) StartCapture(dir, prefix string) bool {
	a.startDir = dir
	a.startPrefix = prefix
	if a.startOK {
		a.capturing = true
	}
	return a.startOK
}
func (a *fakeAudio) StopCapture() {
	a.capturing = false
	a.stops++
}
func (a *fakeAudio) FrameCount() int        { return a.frames }
func (a *fakeAudio) Duration() time.Duration { return 0 }

// fakeCameras simulates the camera channel with canned devices.
type fakeCameras struct {
	devices []string
	startOK bool
	active  int
	stops   int
}

func (c *fakeCameras) DeviceCount() int      { return len(c.devices) }
func (c *fakeCameras) DevicePaths() []string { return c.devices }
func (c *fakeCameras) ActiveCount() int      { return c.active }
func (c *fakeCameras) OutputFiles() []string { return nil }
func (c *fakeCameras) StartRecording(dir, prefix string) bool {
	if c.startOK {
		c.active = len(c.devices)
	}
	return c.startOK
}
func (c *fakeCameras) StopRecording() {
	c.active = 0
	c.stops++
}

type fakeBearing struct {
	bearing int
	ok      bool
}

func (b *fakeBearing) Current() (int, bool) { return b.bearing, b.ok }

type fakeLink struct {
	connectOK bool
	connected bool
	connects  int
	closes    int
}

func (l *fakeLink) Connect(host string, port int) bool {
	l.connects++
	l.connected = l.connectOK
	return l.connectOK
}
func (l *fakeLink) Connected() bool { return l.connected }
func (l *fakeLink) Close() {
	l.connected = false
	l.closes++
}

type fakeVideo struct {
	starts int
	stops  int
	host   string
}

func (v *fakeVideo) StartStreaming(host string, basePort int, devices []string) {
	v.starts++
	v.host = host
}
func (v *fakeVideo) StopStreaming() { v.stops++ }

func testSetup(t *testing.T) (*config.Config, *fakeAudio, *fakeCameras, *fakeLink, *fakeVideo) {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()
	cfg.Mirror.Host = "192.168.1.50"

	audio := &fakeAudio{initialized: true, startOK: true, frames: 78}
	cameras := &fakeCameras{devices: []string{"/dev/video0", "/dev/video2"}, startOK: true}
	link := &fakeLink{connectOK: true}
	video := &fakeVideo{}
	return cfg, audio, cameras, link, video
}

func newTestRecorder(cfg *config.Config, audio *fakeAudio, cameras *fakeCameras, link *fakeLink, video *fakeVideo) *Recorder {
	caps := Capabilities{
		AudioAvailable:  audio.initialized,
		CameraCount:     cameras.DeviceCount(),
		SensorAvailable: true,
		BoardAvailable:  false,
	}
	return NewRecorder(cfg, caps, audio, cameras, &fakeBearing{bearing: 90, ok: true}, link, video)
}

func TestRecorder_FullSessionLifecycle(t *testing.T) {
	cfg, audio, cameras, link, video := testSetup(t)
	r := newTestRecorder(cfg, audio, cameras, link, video)

	if _, err := r.SetUserID("alice"); err != nil {
		t.Fatalf("SetUserID failed: %v", err)
	}

	if !r.StartRecording() {
		t.Fatal("StartRecording failed")
	}
	if !r.Active() {
		t.Error("Expected Active after start")
	}

	// Session directory is named {user}_{timestamp} under the output dir.
	if audio.startDir == "" {
		t.Fatal("Audio capture was not started")
	}
	base := filepath.Base(audio.startDir)
	if !strings.HasPrefix(base, "alice_") {
		t.Errorf("Expected directory prefix alice_, got %s", base)
	}
	if filepath.Dir(audio.startDir) != cfg.Output.Directory {
		t.Errorf("Session dir not under output dir: %s", audio.startDir)
	}
	if _, err := os.Stat(audio.startDir); err != nil {
		t.Errorf("Session directory missing: %v", err)
	}
	if audio.startPrefix != "alice" {
		t.Errorf("Expected file prefix alice, got %s", audio.startPrefix)
	}
	if audio.sessionID == "" {
		t.Error("Expected a session id to be assigned")
	}

	if link.connects != 1 {
		t.Errorf("Expected 1 mirror connect, got %d", link.connects)
	}
	if video.starts != 1 || video.host != "192.168.1.50" {
		t.Errorf("Expected video streaming to the mirror host, got %d starts to %q", video.starts, video.host)
	}

	st := r.Status()
	if !st.Recording || st.UserID != "alice" || st.SessionID == "" {
		t.Errorf("Unexpected active status: %+v", st)
	}
	if st.DOAAngle == nil || *st.DOAAngle != 90 {
		t.Errorf("Expected bearing 90 in status, got %v", st.DOAAngle)
	}
	if st.ActiveCameras != 2 {
		t.Errorf("Expected 2 active cameras, got %d", st.ActiveCameras)
	}

	if !r.StopRecording() {
		t.Fatal("StopRecording failed")
	}
	if r.Active() {
		t.Error("Expected idle after stop")
	}
	if audio.stops != 1 || cameras.stops != 1 || video.stops != 1 || link.closes != 1 {
		t.Errorf("Expected every channel stopped once: audio=%d cameras=%d video=%d mirror=%d",
			audio.stops, cameras.stops, video.stops, link.closes)
	}

	// Manifest is written into the session directory.
	data, err := os.ReadFile(filepath.Join(audio.startDir, "session.yaml"))
	if err != nil {
		t.Fatalf("Manifest missing: %v", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatalf("Invalid manifest YAML: %v", err)
	}
	if m.UserID != "alice" || m.AudioFrames != 78 || m.SessionID == "" {
		t.Errorf("Unexpected manifest: %+v", m)
	}

	st = r.Status()
	if st.Recording || st.SessionID != "" || st.DOAAngle != nil {
		t.Errorf("Expected inactive status fields cleared, got %+v", st)
	}
}

func TestRecorder_StartWhileActiveRejected(t *testing.T) {
	cfg, audio, cameras, link, video := testSetup(t)
	r := newTestRecorder(cfg, audio, cameras, link, video)

	if !r.StartRecording() {
		t.Fatal("First start failed")
	}
	if r.StartRecording() {
		t.Error("Expected second start to be rejected")
	}
	if link.connects != 1 {
		t.Errorf("Expected no second mirror connect, got %d", link.connects)
	}
	r.StopRecording()
}

func TestRecorder_StopWhenIdleNoFileOps(t *testing.T) {
	cfg, audio, cameras, link, video := testSetup(t)
	r := newTestRecorder(cfg, audio, cameras, link, video)

	if r.StopRecording() {
		t.Error("Expected stop to report false when idle")
	}
	if audio.stops != 0 || cameras.stops != 0 {
		t.Error("Expected no channel stops when idle")
	}

	entries, err := os.ReadDir(cfg.Output.Directory)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no files created, found %d entries", len(entries))
	}
}

func TestRecorder_AbortsWhenNothingStarts(t *testing.T) {
	cfg, audio, cameras, link, video := testSetup(t)
	audio.startOK = false
	cameras.startOK = false
	r := newTestRecorder(cfg, audio, cameras, link, video)

	if r.StartRecording() {
		t.Fatal("Expected start to fail when no stream starts")
	}
	if r.Active() {
		t.Error("Expected recorder to stay idle")
	}
	if video.starts != 0 {
		t.Error("Expected no video streaming for an aborted session")
	}

	// The empty session directory is removed on abort.
	entries, err := os.ReadDir(cfg.Output.Directory)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected aborted session dir removed, found %d entries", len(entries))
	}
}

func TestRecorder_CameraOnlySession(t *testing.T) {
	cfg, audio, cameras, link, video := testSetup(t)
	audio.initialized = false
	r := newTestRecorder(cfg, audio, cameras, link, video)

	if !r.StartRecording() {
		t.Fatal("Expected camera-only session to start")
	}
	if audio.startDir != "" {
		t.Error("Expected audio capture untouched when unavailable")
	}
	if link.connects != 0 {
		t.Error("Expected no mirror connect without audio")
	}
	r.StopRecording()
	if audio.stops != 0 {
		t.Error("Expected no audio stop when unavailable")
	}
}

func TestRecorder_NoMirrorHostStaysLocal(t *testing.T) {
	cfg, audio, cameras, link, video := testSetup(t)
	cfg.Mirror.Host = ""
	r := newTestRecorder(cfg, audio, cameras, link, video)

	if !r.StartRecording() {
		t.Fatal("StartRecording failed")
	}
	if link.connects != 0 {
		t.Errorf("Expected no mirror connect without a host, got %d", link.connects)
	}
	if video.starts != 0 {
		t.Errorf("Expected no video streaming without a host, got %d", video.starts)
	}
	r.StopRecording()
}

func TestRecorder_SetUserID(t *testing.T) {
	cfg, audio, cameras, link, video := testSetup(t)
	r := newTestRecorder(cfg, audio, cameras, link, video)

	got, err := r.SetUserID("bad id!!")
	if err != nil {
		t.Fatalf("SetUserID failed: %v", err)
	}
	if got != "badid" {
		t.Errorf("Expected sanitized badid, got %q", got)
	}

	if _, err := r.SetUserID("   "); err == nil {
		t.Error("Expected rejection of whitespace-only user id")
	}
	if r.UserID() != "badid" {
		t.Errorf("Expected user id unchanged after rejection, got %q", r.UserID())
	}
}

func TestRecorder_UserIDChangeAffectsNextSessionOnly(t *testing.T) {
	cfg, audio, cameras, link, video := testSetup(t)
	r := newTestRecorder(cfg, audio, cameras, link, video)

	if _, err := r.SetUserID("alice"); err != nil {
		t.Fatal(err)
	}
	if !r.StartRecording() {
		t.Fatal("StartRecording failed")
	}
	firstDir := audio.startDir

	if _, err := r.SetUserID("bob"); err != nil {
		t.Fatal(err)
	}
	// The active session keeps recording under the old identity.
	if !strings.HasPrefix(filepath.Base(firstDir), "alice_") {
		t.Errorf("Expected active session to keep alice prefix, got %s", firstDir)
	}
	r.StopRecording()

	if !r.StartRecording() {
		t.Fatal("Second StartRecording failed")
	}
	if !strings.HasPrefix(filepath.Base(audio.startDir), "bob_") {
		t.Errorf("Expected next session under bob_, got %s", audio.startDir)
	}
	r.StopRecording()
}

func TestRecorder_CleanupStopsActiveSession(t *testing.T) {
	cfg, audio, cameras, link, video := testSetup(t)
	r := newTestRecorder(cfg, audio, cameras, link, video)

	if !r.StartRecording() {
		t.Fatal("StartRecording failed")
	}
	r.Cleanup()
	if r.Active() {
		t.Error("Expected Cleanup to stop the session")
	}
	if audio.stops != 1 {
		t.Errorf("Expected audio stopped once, got %d", audio.stops)
	}

	// Cleanup when idle is a no-op.
	r.Cleanup()
	if audio.stops != 1 {
		t.Errorf("Expected no extra stop, got %d", audio.stops)
	}
}
