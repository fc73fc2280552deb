package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Audio         AudioConfig         `yaml:"audio"`
	Source        SourceConfig        `yaml:"source"`
	Session       SessionConfig       `yaml:"session"`
	Trigger       TriggerConfig       `yaml:"trigger"`
	VAD           VADConfig           `yaml:"vad"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	HTTP          HTTPConfig          `yaml:"http"`
	Recording     RecordingConfig     `yaml:"recording"`
	Sentry        SentryConfig        `yaml:"sentry"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AudioConfig contains frame aggregation parameters
type AudioConfig struct {
	SampleRate    int     `yaml:"sample_rate"`
	FrameDuration float64 `yaml:"frame_duration"` // seconds
	QueueCapacity int     `yaml:"queue_capacity"` // frames
	Backpressure  string  `yaml:"backpressure"`   // "drop" or "pause"
	MinFrames     int     `yaml:"min_frames"`
	PollInterval  float64 `yaml:"poll_interval"` // seconds
}

// SourceConfig selects where frames come from
type SourceConfig struct {
	Type       string `yaml:"type"` // "mic", "file" or "udp"
	FilePath   string `yaml:"file_path"`
	Realtime   bool   `yaml:"realtime"` // pace file playback at capture speed
	UDPAddress string `yaml:"udp_address"`
	UDPPort    int    `yaml:"udp_port"`
}

// SessionConfig contains the initial state of the shared flags
type SessionConfig struct {
	StartListening bool `yaml:"start_listening"`
}

// TriggerConfig contains the wake and end phrases
type TriggerConfig struct {
	StartPhrases []string `yaml:"start_phrases"`
	EndPhrases   []string `yaml:"end_phrases"`
	MaxIdleChars int      `yaml:"max_idle_chars"`
}

// VADConfig controls the silence filter applied before transcription
type VADConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Threshold       float64 `yaml:"threshold"`       // RMS relative to full scale
	WindowDuration  float64 `yaml:"window_duration"` // seconds
	MinVoiceWindows int     `yaml:"min_voice_windows"`
	MinBandRatio    float64 `yaml:"min_band_ratio"` // share of power in 300-3400 Hz
}

// SchedulerConfig contains failover timeouts
type SchedulerConfig struct {
	PrimaryTimeout   float64 `yaml:"primary_timeout"`   // seconds
	SecondaryTimeout float64 `yaml:"secondary_timeout"` // seconds
}

// TranscriptionConfig contains the engine used inside worker processes
type TranscriptionConfig struct {
	Backend    string `yaml:"backend"` // "http" or "whisper"
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Language   string `yaml:"language"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
	ModelPath  string `yaml:"model_path"` // whisper.cpp model file
}

// DispatchConfig contains the conversation engine hand-off settings
type DispatchConfig struct {
	Endpoint       string   `yaml:"endpoint"`
	Timeout        int      `yaml:"timeout"` // seconds
	PicturePhrases []string `yaml:"picture_phrases"`
	SnapshotPath   string   `yaml:"snapshot_path"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// RecordingConfig controls raw capture recording
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// SentryConfig contains error reporting configuration
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills zero values that have a sensible default. Phrases and
// endpoints have none.
func (c *Config) applyDefaults() {
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.FrameDuration == 0 {
		c.Audio.FrameDuration = 0.5
	}
	if c.Audio.QueueCapacity == 0 {
		c.Audio.QueueCapacity = 60
	}
	if c.Audio.Backpressure == "" {
		c.Audio.Backpressure = "drop"
	}
	if c.Audio.MinFrames == 0 {
		c.Audio.MinFrames = 1
	}
	if c.Audio.PollInterval == 0 {
		c.Audio.PollInterval = 0.1
	}

	if c.Source.Type == "" {
		c.Source.Type = "mic"
	}

	if c.Trigger.MaxIdleChars == 0 {
		c.Trigger.MaxIdleChars = 2048
	}

	if c.VAD.Threshold == 0 {
		c.VAD.Threshold = 0.01
	}
	if c.VAD.WindowDuration == 0 {
		c.VAD.WindowDuration = 0.03
	}
	if c.VAD.MinVoiceWindows == 0 {
		c.VAD.MinVoiceWindows = 3
	}
	if c.VAD.MinBandRatio == 0 {
		c.VAD.MinBandRatio = 0.5
	}

	if c.Scheduler.PrimaryTimeout == 0 {
		c.Scheduler.PrimaryTimeout = 20
	}
	if c.Scheduler.SecondaryTimeout == 0 {
		c.Scheduler.SecondaryTimeout = 20
	}

	if c.Transcription.Backend == "" {
		c.Transcription.Backend = "http"
	}
	if c.Transcription.Timeout == 0 {
		c.Transcription.Timeout = 30
	}

	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = 60
	}
	if c.Dispatch.PicturePhrases == nil {
		c.Dispatch.PicturePhrases = []string{"take a picture"}
	}

	if c.HTTP.Address == "" {
		c.HTTP.Address = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.Trigger.Validate(); err != nil {
		return fmt.Errorf("trigger config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.FrameDuration <= 0 {
		return fmt.Errorf("frame_duration must be positive, got %f", a.FrameDuration)
	}

	if a.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", a.QueueCapacity)
	}

	if a.Backpressure != "drop" && a.Backpressure != "pause" {
		return fmt.Errorf("backpressure must be 'drop' or 'pause', got '%s'", a.Backpressure)
	}

	if a.MinFrames < 1 || a.MinFrames > a.QueueCapacity {
		return fmt.Errorf("min_frames must be between 1 and queue_capacity (%d), got %d", a.QueueCapacity, a.MinFrames)
	}

	if a.PollInterval <= 0 || a.PollInterval > 1 {
		return fmt.Errorf("poll_interval must be in (0, 1] seconds, got %f", a.PollInterval)
	}

	return nil
}

// Validate validates source configuration
func (s *SourceConfig) Validate() error {
	switch s.Type {
	case "mic":
	case "file":
		if s.FilePath == "" {
			return fmt.Errorf("file_path cannot be empty for file source")
		}
	case "udp":
		if s.UDPPort < 1 || s.UDPPort > 65535 {
			return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
		}
	default:
		return fmt.Errorf("type must be 'mic', 'file' or 'udp', got '%s'", s.Type)
	}

	return nil
}

// Validate validates trigger configuration
func (t *TriggerConfig) Validate() error {
	if len(t.StartPhrases) == 0 {
		return fmt.Errorf("start_phrases cannot be empty")
	}

	if len(t.EndPhrases) == 0 {
		return fmt.Errorf("end_phrases cannot be empty")
	}

	for _, p := range append(append([]string{}, t.StartPhrases...), t.EndPhrases...) {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("phrases cannot be blank")
		}
	}

	if t.MaxIdleChars < 0 {
		return fmt.Errorf("max_idle_chars cannot be negative, got %d", t.MaxIdleChars)
	}

	return nil
}

// Validate validates silence filter configuration
func (v *VADConfig) Validate() error {
	if !v.Enabled {
		return nil
	}

	if v.Threshold <= 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %f", v.Threshold)
	}

	if v.WindowDuration <= 0 || v.WindowDuration > 1 {
		return fmt.Errorf("window_duration must be in (0, 1] seconds, got %f", v.WindowDuration)
	}

	if v.MinVoiceWindows < 1 {
		return fmt.Errorf("min_voice_windows must be at least 1, got %d", v.MinVoiceWindows)
	}

	if v.MinBandRatio < 0 || v.MinBandRatio > 1 {
		return fmt.Errorf("min_band_ratio must be in [0, 1], got %f", v.MinBandRatio)
	}

	return nil
}

// Validate validates scheduler configuration
func (s *SchedulerConfig) Validate() error {
	if s.PrimaryTimeout <= 0 {
		return fmt.Errorf("primary_timeout must be positive, got %f", s.PrimaryTimeout)
	}

	if s.SecondaryTimeout <= 0 {
		return fmt.Errorf("secondary_timeout must be positive, got %f", s.SecondaryTimeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Backend {
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for http backend")
		}
		if t.Timeout < 1 {
			return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
		}
		if t.MaxRetries < 0 {
			return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
		}
	case "whisper":
		if t.ModelPath == "" {
			return fmt.Errorf("model_path cannot be empty for whisper backend")
		}
	default:
		return fmt.Errorf("backend must be 'http' or 'whisper', got '%s'", t.Backend)
	}

	return nil
}

// Validate validates dispatch configuration
func (d *DispatchConfig) Validate() error {
	if d.Endpoint != "" && d.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second when endpoint is set, got %d", d.Timeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if r.Enabled && r.Dir == "" {
		return fmt.Errorf("dir cannot be empty when recording is enabled")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output may be stdout, stderr, empty or a file path

	return nil
}

// GetFrameDuration returns the per-frame duration as a time.Duration
func (a *AudioConfig) GetFrameDuration() time.Duration {
	return seconds(a.FrameDuration)
}

// GetPollInterval returns the aggregator poll interval as a time.Duration
func (a *AudioConfig) GetPollInterval() time.Duration {
	return seconds(a.PollInterval)
}

// GetWindowDuration returns the silence filter window as a time.Duration
func (v *VADConfig) GetWindowDuration() time.Duration {
	return seconds(v.WindowDuration)
}

// GetPrimaryTimeout returns the active worker timeout as a time.Duration
func (s *SchedulerConfig) GetPrimaryTimeout() time.Duration {
	return seconds(s.PrimaryTimeout)
}

// GetSecondaryTimeout returns the backup worker timeout as a time.Duration
func (s *SchedulerConfig) GetSecondaryTimeout() time.Duration {
	return seconds(s.SecondaryTimeout)
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the dispatch timeout as a time.Duration
func (d *DispatchConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
