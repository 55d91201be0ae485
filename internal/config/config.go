package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for the rover.
type Config struct {
	Audio  AudioConfig  `mapstructure:"audio" yaml:"audio"`
	Camera CameraConfig `mapstructure:"camera" yaml:"camera"`
	Mirror MirrorConfig `mapstructure:"mirror" yaml:"mirror"`
	Output OutputConfig `mapstructure:"output" yaml:"output"`
	Board  BoardConfig  `mapstructure:"board" yaml:"board"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// AudioConfig describes the microphone array capture settings.
type AudioConfig struct {
	SampleRate  int `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels    int `mapstructure:"channels" yaml:"channels"`
	FrameLength int `mapstructure:"frame_length" yaml:"frame_length"`

	// Substrings matched (case-insensitive) against input device names.
	DeviceKeywords []string `mapstructure:"device_keywords" yaml:"device_keywords"`

	FlushEveryFrames      int     `mapstructure:"flush_every_frames" yaml:"flush_every_frames"`
	CheckpointEveryFrames int     `mapstructure:"checkpoint_every_frames" yaml:"checkpoint_every_frames"`
	DOALogIntervalSec     float64 `mapstructure:"doa_log_interval_sec" yaml:"doa_log_interval_sec"`
}

// CaptureProfile is one ffmpeg capture configuration. Profiles are tried
// in order until one produces a live encoder process.
type CaptureProfile struct {
	Name        string `mapstructure:"name" yaml:"name"`
	InputFormat string `mapstructure:"input_format" yaml:"input_format"`
	VideoSize   string `mapstructure:"video_size" yaml:"video_size"`
	Framerate   int    `mapstructure:"framerate" yaml:"framerate"`
	Codec       string `mapstructure:"codec" yaml:"codec"`
}

// CameraConfig describes camera discovery and recording settings.
type CameraConfig struct {
	ModelMatch string           `mapstructure:"model_match" yaml:"model_match"`
	ProbePaths []string         `mapstructure:"probe_paths" yaml:"probe_paths"`
	Targets    int              `mapstructure:"targets" yaml:"targets"`
	Profiles   []CaptureProfile `mapstructure:"profiles" yaml:"profiles"`
}

// MirrorConfig describes the remote laptop endpoints. An empty Host
// disables mirroring entirely.
type MirrorConfig struct {
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	VideoBasePort int    `mapstructure:"video_base_port" yaml:"video_base_port"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// BoardConfig describes the A-Star controller link.
type BoardConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Bus     string `mapstructure:"bus" yaml:"bus"`
	Address int    `mapstructure:"address" yaml:"address"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

var defaultConfig = Config{
	Audio: AudioConfig{
		SampleRate:            16000,
		Channels:              6,
		FrameLength:           1024,
		DeviceKeywords:        []string{"respeaker", "arrayuac10", "2886:0018", "seeed", "mic array", "uac1.0"},
		FlushEveryFrames:      10,
		CheckpointEveryFrames: 1000,
		DOALogIntervalSec:     1.0,
	},
	Camera: CameraConfig{
		ModelMatch: "usb camera",
		ProbePaths: []string{"/dev/video0", "/dev/video1", "/dev/video2", "/dev/video3"},
		Targets:    2,
		Profiles: []CaptureProfile{
			{Name: "mjpeg-720p", InputFormat: "mjpeg", VideoSize: "1280x720", Framerate: 30, Codec: "copy"},
			{Name: "yuyv-480p", InputFormat: "yuyv422", VideoSize: "640x480", Framerate: 15, Codec: "mjpeg"},
			{Name: "x264-480p", InputFormat: "", VideoSize: "640x480", Framerate: 15, Codec: "libx264"},
		},
	},
	Mirror: MirrorConfig{
		Host:          "",
		Port:          9999,
		VideoBasePort: 10000,
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "rovercap", "recordings"),
	},
	Board: BoardConfig{
		Enabled: true,
		Bus:     "1",
		Address: 20,
	},
	Server: ServerConfig{
		Port: "5000",
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	cfg.Audio.DeviceKeywords = append([]string(nil), defaultConfig.Audio.DeviceKeywords...)
	cfg.Camera.ProbePaths = append([]string(nil), defaultConfig.Camera.ProbePaths...)
	cfg.Camera.Profiles = append([]CaptureProfile(nil), defaultConfig.Camera.Profiles...)
	return &cfg
}

// Load reads the YAML config file, applies defaults for unset fields and
// validates the result. A missing file yields the default configuration.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		v := viper.New()
		v.SetConfigFile(configFile)
		v.SetEnvPrefix("ROVERCAP")
		v.AutomaticEnv()

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		} else {
			if err := v.Unmarshal(cfg); err != nil {
				return nil, fmt.Errorf("error unmarshaling config: %w", err)
			}
		}
	}

	applyDefaults(cfg)
	cfg.Output.Directory = expandPath(cfg.Output.Directory)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes the default configuration as YAML to path.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

// applyDefaults fills zero-valued fields so a sparse YAML file still
// yields a usable configuration.
func applyDefaults(cfg *Config) {
	d := Default()

	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = d.Audio.SampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = d.Audio.Channels
	}
	if cfg.Audio.FrameLength == 0 {
		cfg.Audio.FrameLength = d.Audio.FrameLength
	}
	if len(cfg.Audio.DeviceKeywords) == 0 {
		cfg.Audio.DeviceKeywords = d.Audio.DeviceKeywords
	}
	if cfg.Audio.FlushEveryFrames == 0 {
		cfg.Audio.FlushEveryFrames = d.Audio.FlushEveryFrames
	}
	if cfg.Audio.CheckpointEveryFrames == 0 {
		cfg.Audio.CheckpointEveryFrames = d.Audio.CheckpointEveryFrames
	}
	if cfg.Audio.DOALogIntervalSec == 0 {
		cfg.Audio.DOALogIntervalSec = d.Audio.DOALogIntervalSec
	}

	if cfg.Camera.ModelMatch == "" {
		cfg.Camera.ModelMatch = d.Camera.ModelMatch
	}
	if len(cfg.Camera.ProbePaths) == 0 {
		cfg.Camera.ProbePaths = d.Camera.ProbePaths
	}
	if cfg.Camera.Targets == 0 {
		cfg.Camera.Targets = d.Camera.Targets
	}
	if len(cfg.Camera.Profiles) == 0 {
		cfg.Camera.Profiles = d.Camera.Profiles
	}

	if cfg.Mirror.Port == 0 {
		cfg.Mirror.Port = d.Mirror.Port
	}
	if cfg.Mirror.VideoBasePort == 0 {
		cfg.Mirror.VideoBasePort = d.Mirror.VideoBasePort
	}

	if cfg.Output.Directory == "" {
		cfg.Output.Directory = d.Output.Directory
	}

	if cfg.Board.Bus == "" {
		cfg.Board.Bus = d.Board.Bus
	}
	if cfg.Board.Address == 0 {
		cfg.Board.Address = d.Board.Address
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = d.Server.Port
	}
}

// Validate checks the configuration for values the capture pipeline
// cannot work with.
func Validate(cfg *Config) error {
	if cfg.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels <= 0 {
		return fmt.Errorf("audio.channels must be > 0, got %d", cfg.Audio.Channels)
	}
	if cfg.Audio.FrameLength <= 0 {
		return fmt.Errorf("audio.frame_length must be > 0, got %d", cfg.Audio.FrameLength)
	}
	if cfg.Audio.FlushEveryFrames <= 0 {
		return fmt.Errorf("audio.flush_every_frames must be > 0, got %d", cfg.Audio.FlushEveryFrames)
	}
	if cfg.Audio.CheckpointEveryFrames <= 0 {
		return fmt.Errorf("audio.checkpoint_every_frames must be > 0, got %d", cfg.Audio.CheckpointEveryFrames)
	}
	if cfg.Audio.DOALogIntervalSec <= 0 {
		return fmt.Errorf("audio.doa_log_interval_sec must be > 0, got %f", cfg.Audio.DOALogIntervalSec)
	}

	if cfg.Camera.Targets < 0 {
		return fmt.Errorf("camera.targets must be >= 0, got %d", cfg.Camera.Targets)
	}
	for i, p := range cfg.Camera.Profiles {
		if p.Name == "" {
			return fmt.Errorf("camera.profiles[%d]: 'name' is required", i)
		}
		if p.VideoSize == "" {
			return fmt.Errorf("camera.profiles[%d] '%s': 'video_size' is required", i, p.Name)
		}
		if p.Framerate <= 0 {
			return fmt.Errorf("camera.profiles[%d] '%s': 'framerate' must be > 0, got %d", i, p.Name, p.Framerate)
		}
		if p.Codec == "" {
			return fmt.Errorf("camera.profiles[%d] '%s': 'codec' is required", i, p.Name)
		}
	}

	if cfg.Mirror.Port <= 0 || cfg.Mirror.Port > 65535 {
		return fmt.Errorf("mirror.port must be in 1..65535, got %d", cfg.Mirror.Port)
	}
	if cfg.Mirror.VideoBasePort <= 0 || cfg.Mirror.VideoBasePort > 65535 {
		return fmt.Errorf("mirror.video_base_port must be in 1..65535, got %d", cfg.Mirror.VideoBasePort)
	}

	if cfg.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}

	if cfg.Board.Address <= 0 || cfg.Board.Address > 0x7f {
		return fmt.Errorf("board.address must be a 7-bit I2C address, got %d", cfg.Board.Address)
	}

	return nil
}

// SanitizeUserID strips characters outside [A-Za-z0-9_-] from id. The
// result may be empty; callers must reject that case.
func SanitizeUserID(id string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(id) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
