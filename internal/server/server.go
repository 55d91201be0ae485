// Package server exposes the rover's HTTP control surface: driving,
// LEDs, buzzer, servo arm and the recording session lifecycle.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/robff/rovercap/internal/board"
	"github.com/robff/rovercap/internal/config"
	"github.com/robff/rovercap/internal/session"
)

// Server routes operator requests to the board and the recording
// orchestrator. Handlers only call synchronous methods; nothing here
// blocks longer than a subprocess spawn or a register transaction.
type Server struct {
	cfg      *config.Config
	recorder *session.Recorder
	astar    *board.AStar
	drive    *board.Drive
	port     string

	// LED state retained for the heartbeat blink.
	ledMu               sync.Mutex
	led0, led1, led2    bool
}

// New creates the web server. astar and drive are nil when the board
// is absent; motion routes then report failure instead of panicking.
func New(cfg *config.Config, recorder *session.Recorder, astar *board.AStar, drive *board.Drive) *Server {
	return &Server{
		cfg:      cfg,
		recorder: recorder,
		astar:    astar,
		drive:    drive,
		port:     cfg.Server.Port,
	}
}

// Start registers the routes and blocks serving HTTP.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Recording lifecycle
	mux.HandleFunc("/start_recording", s.handleStartRecording)
	mux.HandleFunc("/stop_recording", s.handleStopRecording)
	mux.HandleFunc("/set_user_id", s.handleSetUserID)
	mux.HandleFunc("/status.json", s.handleStatus)

	// Motion
	mux.HandleFunc("/motors/", s.handleMotors)
	mux.HandleFunc("/set_speed/", s.handleSetSpeed)
	mux.HandleFunc("/move_forward", s.driveHandler(func(d *board.Drive) error { return d.Forward() }))
	mux.HandleFunc("/move_backward", s.driveHandler(func(d *board.Drive) error { return d.Backward() }))
	mux.HandleFunc("/stop_movement", s.driveHandler(func(d *board.Drive) error { return d.Stop() }))
	mux.HandleFunc("/rotate_left", s.driveHandler(func(d *board.Drive) error { return d.RotateLeft() }))
	mux.HandleFunc("/rotate_right", s.driveHandler(func(d *board.Drive) error { return d.RotateRight() }))
	mux.HandleFunc("/rotate_left_45", s.driveHandler(func(d *board.Drive) error { return d.RotateBy(-45) }))
	mux.HandleFunc("/rotate_left_90", s.driveHandler(func(d *board.Drive) error { return d.RotateBy(-90) }))
	mux.HandleFunc("/rotate_right_45", s.driveHandler(func(d *board.Drive) error { return d.RotateBy(45) }))
	mux.HandleFunc("/rotate_right_90", s.driveHandler(func(d *board.Drive) error { return d.RotateBy(90) }))
	mux.HandleFunc("/rotate_180", s.driveHandler(func(d *board.Drive) error { return d.RotateBy(180) }))

	// Peripherals
	mux.HandleFunc("/leds/", s.handleLEDs)
	mux.HandleFunc("/heartbeat/", s.handleHeartbeat)
	mux.HandleFunc("/play_notes/", s.handlePlayNotes)

	// Servo arm
	mux.HandleFunc("/servo/enable", s.servoHandler(func(a *board.AStar) error { return a.ServoEnable(true) }))
	mux.HandleFunc("/servo/disable", s.servoHandler(func(a *board.AStar) error { return a.ServoEnable(false) }))
	mux.HandleFunc("/servo/home", s.servoHandler(func(a *board.AStar) error { return a.ServoSetPosition(board.ServoHome) }))
	mux.HandleFunc("/servo/hold", s.servoHandler(func(a *board.AStar) error { return a.ServoSetPosition(board.ServoHold) }))
	mux.HandleFunc("/servo/lift", s.servoHandler(func(a *board.AStar) error { return a.ServoSetPosition(board.ServoLift) }))
	mux.HandleFunc("/servo/grip", s.servoHandler(func(a *board.AStar) error { return a.ServoSetPosition(board.ServoGrip) }))
	mux.HandleFunc("/servo/capture", s.servoHandler(func(a *board.AStar) error { return a.ServoSetPosition(board.ServoCapture) }))
	mux.HandleFunc("/servo/park", s.servoHandler(func(a *board.AStar) error { return a.ServoPark() }))

	localIP := getLocalIP()
	slog.Info("rover web server starting",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port))

	return http.ListenAndServe(":"+s.port, mux)
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	ok := s.recorder.StartRecording()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": ok})
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	ok := s.recorder.StopRecording()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": ok})
}

func (s *Server) handleSetUserID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
			"success": false,
			"message": "method not allowed",
		})
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "invalid request body",
		})
		return
	}

	userID, err := s.recorder.SetUserID(req.UserID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "user id updated",
		"user_id": userID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"recording": s.recorder.Status(),
	}

	if s.drive != nil {
		status["speed_factor"] = s.drive.SpeedFactor()
	}

	if s.astar != nil {
		if a, b, c, err := s.astar.Buttons(); err == nil {
			status["buttons"] = []bool{a, b, c}
		}
		if mv, err := s.astar.BatteryMillivolts(); err == nil {
			status["battery_millivolts"] = mv
		}
		if analog, err := s.astar.Analog(); err == nil {
			status["analog"] = analog
		}
		if left, right, err := s.astar.Encoders(); err == nil {
			status["encoders"] = []int16{left, right}
		}
		status["servo_status"] = s.astar.ReadServoStatus()
	}

	writeJSON(w, http.StatusOK, status)
}

// handleMotors parses /motors/{left},{right} joystick values.
func (s *Server) handleMotors(w http.ResponseWriter, r *http.Request) {
	if s.drive == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "board unavailable"})
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/motors/")
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "expected /motors/left,right"})
		return
	}

	left, err1 := strconv.Atoi(parts[0])
	right, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "motor values must be integers"})
		return
	}

	if err := s.drive.JoystickMotors(left, right); err != nil {
		slog.Warn("motor command failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	if s.drive == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "board unavailable"})
		return
	}

	level := strings.TrimPrefix(r.URL.Path, "/set_speed/")
	switch level {
	case "slow", "moderate", "fast":
		factor := s.drive.SetSpeedLevel(level)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "speed_factor": factor})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": fmt.Sprintf("unknown speed level %q", level)})
	}
}

// handleLEDs parses /leds/{red},{yellow},{green}.
func (s *Server) handleLEDs(w http.ResponseWriter, r *http.Request) {
	if s.astar == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "board unavailable"})
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/leds/")
	parts := strings.SplitN(raw, ",", 3)
	if len(parts) != 3 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "expected /leds/r,y,g"})
		return
	}

	vals := make([]bool, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "led values must be 0 or 1"})
			return
		}
		vals[i] = n != 0
	}

	s.ledMu.Lock()
	s.led0, s.led1, s.led2 = vals[0], vals[1], vals[2]
	s.ledMu.Unlock()

	if err := s.astar.LEDs(vals[0], vals[1], vals[2]); err != nil {
		slog.Warn("led command failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleHeartbeat blinks the LEDs against their retained state.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.astar == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "board unavailable"})
		return
	}

	state := strings.TrimPrefix(r.URL.Path, "/heartbeat/")

	s.ledMu.Lock()
	led0, led1, led2 := s.led0, s.led1, s.led2
	s.ledMu.Unlock()

	var err error
	if state == "0" {
		err = s.astar.LEDs(led0, led1, led2)
	} else {
		err = s.astar.LEDs(!led0, !led1, !led2)
	}
	if err != nil {
		slog.Warn("heartbeat led command failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handlePlayNotes(w http.ResponseWriter, r *http.Request) {
	if s.astar == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "board unavailable"})
		return
	}

	notes := strings.TrimPrefix(r.URL.Path, "/play_notes/")
	if err := s.astar.PlayNotes(notes); err != nil {
		slog.Warn("play notes failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// driveHandler wraps a Drive call in the shared success envelope.
func (s *Server) driveHandler(fn func(*board.Drive) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.drive == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "board unavailable"})
			return
		}
		if err := fn(s.drive); err != nil {
			slog.Warn("drive command failed", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}

func (s *Server) servoHandler(fn func(*board.AStar) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.astar == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "board unavailable"})
			return
		}
		if err := fn(s.astar); err != nil {
			slog.Warn("servo command failed", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// getLocalIP finds a non-loopback IPv4 address for the startup banner.
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "localhost"
}
