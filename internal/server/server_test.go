package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robff/rovercap/internal/config"
	"github.com/robff/rovercap/internal/session"
)

type fakeAudio struct{ started bool }

func (a *fakeAudio) Initialized() bool                        { return true }
func (a *fakeAudio) SetSessionID(id string)                   {}
func (a *fakeAudio) StartCapture(dir, prefix string) bool     { a.started = true; return true }
func (a *fakeAudio) StopCapture()                             { a.started = false }
func (a *fakeAudio) FrameCount() int                          { return 0 }
func (a *fakeAudio) Duration() time.Duration                  { return 0 }

type fakeCameras struct{}

func (c *fakeCameras) DeviceCount() int                          { return 0 }
func (c *fakeCameras) DevicePaths() []string                     { return nil }
func (c *fakeCameras) ActiveCount() int                          { return 0 }
func (c *fakeCameras) OutputFiles() []string                     { return nil }
func (c *fakeCameras) StartRecording(dir, prefix string) bool    { return false }
func (c *fakeCameras) StopRecording()                            {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()

	caps := session.Capabilities{AudioAvailable: true}
	recorder := session.NewRecorder(cfg, caps, &fakeAudio{}, &fakeCameras{}, nil, nil, nil)
	return New(cfg, recorder, nil, nil)
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	return resp
}

func TestStartStopRecordingEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.handleStartRecording(w, httptest.NewRequest("POST", "/start_recording", nil))
	if resp := decodeResponse(t, w); resp["success"] != true {
		t.Errorf("Expected start success, got %v", resp)
	}

	// Second start fails while active.
	w = httptest.NewRecorder()
	s.handleStartRecording(w, httptest.NewRequest("POST", "/start_recording", nil))
	if resp := decodeResponse(t, w); resp["success"] != false {
		t.Errorf("Expected second start to fail, got %v", resp)
	}

	w = httptest.NewRecorder()
	s.handleStopRecording(w, httptest.NewRequest("POST", "/stop_recording", nil))
	if resp := decodeResponse(t, w); resp["success"] != true {
		t.Errorf("Expected stop success, got %v", resp)
	}

	w = httptest.NewRecorder()
	s.handleStopRecording(w, httptest.NewRequest("POST", "/stop_recording", nil))
	if resp := decodeResponse(t, w); resp["success"] != false {
		t.Errorf("Expected stop-when-idle to fail, got %v", resp)
	}
}

func TestSetUserIDEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/set_user_id", strings.NewReader(`{"user_id": "bad id!!"}`))
	s.handleSetUserID(w, req)
	resp := decodeResponse(t, w)
	if resp["success"] != true {
		t.Fatalf("Expected success, got %v", resp)
	}
	if resp["user_id"] != "badid" {
		t.Errorf("Expected sanitized badid, got %v", resp["user_id"])
	}

	// Whitespace-only ids are rejected.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/set_user_id", strings.NewReader(`{"user_id": "   "}`))
	s.handleSetUserID(w, req)
	if resp := decodeResponse(t, w); resp["success"] != false {
		t.Errorf("Expected rejection, got %v", resp)
	}

	// GET is not allowed.
	w = httptest.NewRecorder()
	s.handleSetUserID(w, httptest.NewRequest("GET", "/set_user_id", nil))
	if w.Code != 405 {
		t.Errorf("Expected 405 for GET, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.handleStatus(w, httptest.NewRequest("GET", "/status.json", nil))

	resp := decodeResponse(t, w)
	rec, ok := resp["recording"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected recording object, got %v", resp["recording"])
	}
	if rec["recording"] != false {
		t.Errorf("Expected recording false, got %v", rec["recording"])
	}
	if rec["user_id"] != "user" {
		t.Errorf("Expected default user id, got %v", rec["user_id"])
	}

	// No board attached: no sensor fields.
	if _, present := resp["battery_millivolts"]; present {
		t.Error("Expected no battery field without a board")
	}
}

func TestMotionEndpointsWithoutBoard(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.handleMotors(w, httptest.NewRequest("GET", "/motors/100,100", nil))
	if resp := decodeResponse(t, w); resp["success"] != false {
		t.Errorf("Expected motors to fail without board, got %v", resp)
	}

	w = httptest.NewRecorder()
	s.driveHandler(nil)(w, httptest.NewRequest("GET", "/move_forward", nil))
	if resp := decodeResponse(t, w); resp["success"] != false {
		t.Errorf("Expected drive to fail without board, got %v", resp)
	}

	w = httptest.NewRecorder()
	s.handlePlayNotes(w, httptest.NewRequest("GET", "/play_notes/o4ceg", nil))
	if resp := decodeResponse(t, w); resp["success"] != false {
		t.Errorf("Expected buzzer to fail without board, got %v", resp)
	}
}
