// Package mirror duplicates captured streams to a remote laptop on a
// best-effort basis. Local recording never depends on a mirror
// succeeding.
package mirror

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const dialTimeout = 10 * time.Second

// State of the audio mirror connection. Failed is terminal for the
// session; there is no automatic reconnection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// Packet is one mirrored audio frame with its metadata, sent as a
// newline-delimited JSON record.
type Packet struct {
	Type       string  `json:"type"`
	Timestamp  float64 `json:"timestamp"`
	DOAAngle   *int    `json:"doa_angle"`
	AudioLevel float64 `json:"audio_level"`
	AudioShape [2]int  `json:"audio_shape"`
	AudioData  string  `json:"audio_data"`
}

// AudioMirror forwards audio frames and their metadata over one
// persistent TCP connection.
type AudioMirror struct {
	mu       sync.Mutex
	conn     net.Conn
	state    State
	sendErrs int
}

// NewAudioMirror returns a mirror in the Disconnected state.
func NewAudioMirror() *AudioMirror {
	return &AudioMirror{state: StateDisconnected}
}

// Connect opens the stream connection. Failure leaves the mirror
// Disconnected and reports false; capture proceeds local-only.
func (m *AudioMirror) Connect(host string, port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnected {
		return true
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		slog.Warn("audio mirror connect failed, recording local-only", "addr", addr, "error", err)
		return false
	}

	m.conn = conn
	m.state = StateConnected
	slog.Info("audio mirror connected", "addr", addr)
	return true
}

// Send forwards one frame. The first send failure marks the mirror
// Failed for the remainder of the session.
func (m *AudioMirror) Send(frame []byte, frameLength, channels int, bearing *int, level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected {
		return
	}

	pkt := Packet{
		Type:       "respeaker_data",
		Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
		DOAAngle:   bearing,
		AudioLevel: level,
		AudioShape: [2]int{frameLength, channels},
		AudioData:  hex.EncodeToString(frame),
	}

	data, err := json.Marshal(pkt)
	if err != nil {
		m.fail(err)
		return
	}

	if _, err := m.conn.Write(append(data, '\n')); err != nil {
		m.fail(err)
	}
}

func (m *AudioMirror) fail(err error) {
	m.sendErrs++
	m.state = StateFailed
	m.conn.Close()
	m.conn = nil
	slog.Warn("audio mirror send failed, disabling for this session", "error", err, "send_errors", m.sendErrs)
}

// State returns the current connection state.
func (m *AudioMirror) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether sends will be attempted.
func (m *AudioMirror) Connected() bool {
	return m.State() == StateConnected
}

// Close tears down the connection and resets to Disconnected so the
// next session can connect again.
func (m *AudioMirror) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
	m.sendErrs = 0
}
