// Package recording implements the synchronized audio capture channel:
// incremental WAV writing, DOA metadata logging, checkpoint snapshots
// and best-effort network mirroring.
package recording

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// LogEntry is one DOA metadata record, written as a JSON line at the
// configured cadence (not once per frame).
type LogEntry struct {
	Timestamp  float64 `json:"timestamp"`
	Frame      int     `json:"frame"`
	DOAAngle   *int    `json:"doa_angle"`
	AudioLevel float64 `json:"audio_level"`
}

// CheckpointRecord is a periodic progress snapshot. Write-only: nothing
// in the running system reads it back.
type CheckpointRecord struct {
	SessionID                string  `json:"session_id"`
	Timestamp                float64 `json:"timestamp"`
	FrameCount               int     `json:"frame_count"`
	FileSizeBytes            int64   `json:"file_size_bytes"`
	RecordingDurationSeconds float64 `json:"recording_duration_seconds"`
}

// SummaryRecord is the final capture summary written on a clean stop.
type SummaryRecord struct {
	SessionID                string  `json:"session_id"`
	AudioFile                string  `json:"audio_file"`
	FileSizeBytes            int64   `json:"file_size_bytes"`
	FrameCount               int     `json:"frame_count"`
	RecordingDurationSeconds float64 `json:"recording_duration_seconds"`
	DOALogFile               string  `json:"doa_log_file"`
	DOAEntryCount            int     `json:"doa_entry_count"`
}

// Writer owns the real-time file-writing discipline for one capture:
// the WAV file (header patched at close), the DOA jsonl log and the
// checkpoint/summary siblings. Each file handle has its own lock, held
// only for the duration of a single write.
type Writer struct {
	wavPath string
	logPath string

	sampleRate int
	channels   int

	wavMu   sync.Mutex
	wavFile *os.File
	enc     *wav.Encoder

	logMu      sync.Mutex
	logFile    *os.File
	entryCount int
}

// NewWriter opens the WAV file and the DOA log for incremental writing.
func NewWriter(outputDir, filenamePrefix string, sampleRate, channels int) (*Writer, error) {
	wavPath := filepath.Join(outputDir, filenamePrefix+"_respeaker_raw.wav")
	logPath := filepath.Join(outputDir, filenamePrefix+"_doa_log.jsonl")

	wavFile, err := os.Create(wavPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio file: %w", err)
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		wavFile.Close()
		return nil, fmt.Errorf("failed to create doa log: %w", err)
	}

	return &Writer{
		wavPath:    wavPath,
		logPath:    logPath,
		sampleRate: sampleRate,
		channels:   channels,
		wavFile:    wavFile,
		enc:        wav.NewEncoder(wavFile, sampleRate, wavBitDepth, channels, 1),
		logFile:    logFile,
	}, nil
}

// WavPath returns the audio file path.
func (w *Writer) WavPath() string { return w.wavPath }

// LogPath returns the DOA log path.
func (w *Writer) LogPath() string { return w.logPath }

// EntryCount returns the number of DOA log entries written so far.
func (w *Writer) EntryCount() int {
	w.logMu.Lock()
	defer w.logMu.Unlock()
	return w.entryCount
}

// AppendFrame appends one interleaved frame of samples to the WAV file.
func (w *Writer) AppendFrame(samples []int16) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: w.channels, SampleRate: w.sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}

	w.wavMu.Lock()
	defer w.wavMu.Unlock()

	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("failed to append audio frame: %w", err)
	}
	return nil
}

// Sync forces the appended audio to durable storage.
func (w *Writer) Sync() error {
	w.wavMu.Lock()
	defer w.wavMu.Unlock()

	if err := w.wavFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync audio file: %w", err)
	}
	return nil
}

// FileSize returns the current on-disk size of the audio file.
func (w *Writer) FileSize() int64 {
	info, err := os.Stat(w.wavPath)
	if err != nil {
		return 0
	}
	return info.Size()
}

// LogEntry appends one metadata record to the DOA log.
func (w *Writer) LogEntry(entry LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal doa entry: %w", err)
	}

	w.logMu.Lock()
	defer w.logMu.Unlock()

	if _, err := w.logFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write doa entry: %w", err)
	}
	w.entryCount++
	return nil
}

// Checkpoint writes a progress snapshot next to the audio file. Failure
// is logged, never fatal: checkpoints are an audit trail only.
func (w *Writer) Checkpoint(rec CheckpointRecord) {
	if err := writeJSON(suffixSwap(w.wavPath, ".checkpoint.json"), rec); err != nil {
		slog.Warn("checkpoint write failed", "error", err)
		return
	}
	slog.Debug("checkpoint written",
		"frames", rec.FrameCount, "duration_sec", rec.RecordingDurationSeconds, "size_bytes", rec.FileSizeBytes)
}

// Summary writes the final capture summary.
func (w *Writer) Summary(rec SummaryRecord) {
	if err := writeJSON(suffixSwap(w.wavPath, ".summary.json"), rec); err != nil {
		slog.Warn("summary write failed", "error", err)
	}
}

// Close finalizes the WAV header and closes both files. After Close the
// audio file is well-formed and fully flushed.
func (w *Writer) Close() error {
	w.wavMu.Lock()
	if err := w.enc.Close(); err != nil {
		w.wavFile.Close()
		w.wavMu.Unlock()
		return fmt.Errorf("failed to finalize audio file: %w", err)
	}
	if err := w.wavFile.Close(); err != nil {
		w.wavMu.Unlock()
		return fmt.Errorf("failed to close audio file: %w", err)
	}
	w.wavMu.Unlock()

	w.logMu.Lock()
	defer w.logMu.Unlock()
	if err := w.logFile.Close(); err != nil {
		return fmt.Errorf("failed to close doa log: %w", err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// suffixSwap replaces the file extension with suffix.
func suffixSwap(path, suffix string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + suffix
}
