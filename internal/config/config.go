package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// FOCUSNOTE_TRANSCRIPTION_SERVER_URL.
const EnvPrefix = "FOCUSNOTE"

// Debounce policies for a missed tick while a call is being confirmed.
const (
	ResetOnMiss = "reset"
	DecayOnMiss = "decay"
)

type Config struct {
	LogLevel      string              `json:"log_level" mapstructure:"log_level"`
	OutputDir     string              `json:"output_dir" mapstructure:"output_dir"`
	NotesDir      string              `json:"notes_dir" mapstructure:"notes_dir"`
	Detection     DetectionConfig     `json:"detection" mapstructure:"detection"`
	Audio         AudioConfig         `json:"audio" mapstructure:"audio"`
	Transcription TranscriptionConfig `json:"transcription" mapstructure:"transcription"`
	Summary       SummaryConfig       `json:"summary" mapstructure:"summary"`
	DND           DNDConfig           `json:"dnd" mapstructure:"dnd"`
	Status        StatusConfig        `json:"status" mapstructure:"status"`
	Tray          bool                `json:"tray" mapstructure:"tray"`
}

type DetectionConfig struct {
	TickMS                 int     `json:"tick_ms" mapstructure:"tick_ms"`
	ConfirmTicks           int     `json:"confirm_ticks" mapstructure:"confirm_ticks"`
	InactiveTicks          int     `json:"inactive_ticks" mapstructure:"inactive_ticks"`
	ResetPolicy            string  `json:"reset_policy" mapstructure:"reset_policy"` // "reset" or "decay"
	CPUThreshold           float64 `json:"cpu_threshold" mapstructure:"cpu_threshold"`
	DiscordCPUThreshold    float64 `json:"discord_cpu_threshold" mapstructure:"discord_cpu_threshold"`
	DiscordUDPCPUThreshold float64 `json:"discord_udp_cpu_threshold" mapstructure:"discord_udp_cpu_threshold"`
	DiscordMinUDP          int     `json:"discord_min_udp" mapstructure:"discord_min_udp"`
	SampleIntervalMS       int     `json:"sample_interval_ms" mapstructure:"sample_interval_ms"`
	StatusEveryTicks       int     `json:"status_every_ticks" mapstructure:"status_every_ticks"`
}

type AudioConfig struct {
	FramesPerBuffer int    `json:"frames_per_buffer" mapstructure:"frames_per_buffer"`
	ReadTimeoutMS   int    `json:"read_timeout_ms" mapstructure:"read_timeout_ms"`
	StopTimeoutMS   int    `json:"stop_timeout_ms" mapstructure:"stop_timeout_ms"`
	QueueSize       int    `json:"queue_size" mapstructure:"queue_size"`
	StopOnSilence   bool   `json:"stop_on_silence" mapstructure:"stop_on_silence"`
	FFmpegPath      string `json:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	SpeakerDevice   string `json:"speaker_device" mapstructure:"speaker_device"`
	MicDevice       string `json:"mic_device" mapstructure:"mic_device"`
}

type TranscriptionConfig struct {
	Enabled           bool   `json:"enabled" mapstructure:"enabled"`
	ServerURL         string `json:"server_url" mapstructure:"server_url"`
	WindowMS          int    `json:"window_ms" mapstructure:"window_ms"`
	RetryMS           int    `json:"retry_ms" mapstructure:"retry_ms"`
	ResponseTimeoutMS int    `json:"response_timeout_ms" mapstructure:"response_timeout_ms"`
	PingIntervalMS    int    `json:"ping_interval_ms" mapstructure:"ping_interval_ms"`
}

type SummaryConfig struct {
	Enabled      bool     `json:"enabled" mapstructure:"enabled"`
	BaseURL      string   `json:"base_url" mapstructure:"base_url"`
	TimeoutMS    int      `json:"timeout_ms" mapstructure:"timeout_ms"`
	Artifacts    []string `json:"artifacts" mapstructure:"artifacts"`
	MeetingTitle string   `json:"meeting_title" mapstructure:"meeting_title"`
}

type DNDConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

type StatusConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		OutputDir: "meeting_recordings",
		NotesDir:  "meeting_notes",
		Detection: DetectionConfig{
			TickMS:                 1000,
			ConfirmTicks:           3,
			InactiveTicks:          3,
			ResetPolicy:            ResetOnMiss,
			CPUThreshold:           3.5,
			DiscordCPUThreshold:    5.0,
			DiscordUDPCPUThreshold: 3.0,
			DiscordMinUDP:          2,
			SampleIntervalMS:       100,
			StatusEveryTicks:       30,
		},
		Audio: AudioConfig{
			FramesPerBuffer: 1024,
			ReadTimeoutMS:   100,
			StopTimeoutMS:   3000,
			QueueSize:       100,
			StopOnSilence:   false,
			FFmpegPath:      "ffmpeg",
		},
		Transcription: TranscriptionConfig{
			Enabled:           true,
			ServerURL:         "ws://localhost:17483",
			WindowMS:          5000,
			RetryMS:           5000,
			ResponseTimeoutMS: 30000,
			PingIntervalMS:    20000,
		},
		Summary: SummaryConfig{
			Enabled:   true,
			BaseURL:   "http://127.0.0.1:8888",
			TimeoutMS: 120000,
			Artifacts: []string{"summary", "minutes", "action_items"},
		},
		DND: DNDConfig{
			Enabled: true,
		},
		Status: StatusConfig{
			Enabled: true,
			Addr:    "127.0.0.1:17484",
		},
	}
}

// Load layers defaults, the config file (if present) and FOCUSNOTE_*
// environment variables. An empty path means the platform default location.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	v := viper.New()
	v.SetConfigType("json")

	// Seed viper with every default key so env overrides resolve for
	// nested fields that are absent from the file.
	seed, err := json.Marshal(Default())
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(bytes.NewReader(seed)); err != nil {
		return nil, fmt.Errorf("failed to seed defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config to path (or the platform default) as indented JSON.
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate reports the first setting that would make the monitor misbehave.
func (c *Config) Validate() error {
	d := c.Detection
	switch {
	case d.TickMS <= 0:
		return fmt.Errorf("detection.tick_ms must be positive, got %d", d.TickMS)
	case d.ConfirmTicks < 1:
		return fmt.Errorf("detection.confirm_ticks must be at least 1, got %d", d.ConfirmTicks)
	case d.InactiveTicks < 1:
		return fmt.Errorf("detection.inactive_ticks must be at least 1, got %d", d.InactiveTicks)
	case d.ResetPolicy != ResetOnMiss && d.ResetPolicy != DecayOnMiss:
		return fmt.Errorf("detection.reset_policy must be %q or %q, got %q", ResetOnMiss, DecayOnMiss, d.ResetPolicy)
	case d.SampleIntervalMS < 0:
		return fmt.Errorf("detection.sample_interval_ms must not be negative")
	}

	a := c.Audio
	switch {
	case a.FramesPerBuffer <= 0:
		return fmt.Errorf("audio.frames_per_buffer must be positive, got %d", a.FramesPerBuffer)
	case a.QueueSize <= 0:
		return fmt.Errorf("audio.queue_size must be positive, got %d", a.QueueSize)
	case a.ReadTimeoutMS <= 0 || a.StopTimeoutMS <= 0:
		return fmt.Errorf("audio timeouts must be positive")
	}

	if c.Transcription.Enabled && c.Transcription.WindowMS <= 0 {
		return fmt.Errorf("transcription.window_ms must be positive, got %d", c.Transcription.WindowMS)
	}

	for _, kind := range c.Summary.Artifacts {
		switch kind {
		case "summary", "minutes", "action_items":
		default:
			return fmt.Errorf("unknown summary artifact %q", kind)
		}
	}

	return nil
}

func (d DetectionConfig) Tick() time.Duration { return ms(d.TickMS) }

func (d DetectionConfig) SampleInterval() time.Duration { return ms(d.SampleIntervalMS) }

func (a AudioConfig) ReadTimeout() time.Duration { return ms(a.ReadTimeoutMS) }

func (a AudioConfig) StopTimeout() time.Duration { return ms(a.StopTimeoutMS) }

func (t TranscriptionConfig) Window() time.Duration { return ms(t.WindowMS) }

func (t TranscriptionConfig) Retry() time.Duration { return ms(t.RetryMS) }

func (t TranscriptionConfig) ResponseTimeout() time.Duration { return ms(t.ResponseTimeoutMS) }

func (t TranscriptionConfig) PingInterval() time.Duration { return ms(t.PingIntervalMS) }

func (s SummaryConfig) Timeout() time.Duration { return ms(s.TimeoutMS) }

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Path returns the platform-specific config file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "focusnote", "config.json")
}
