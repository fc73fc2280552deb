package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes validation
func validConfig() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate:    16000,
			FrameDuration: 0.5,
			QueueCapacity: 60,
			Backpressure:  "pause",
			MinFrames:     1,
			PollInterval:  0.1,
		},
		Source: SourceConfig{
			Type: "mic",
		},
		Trigger: TriggerConfig{
			StartPhrases: []string{"hello world"},
			EndPhrases:   []string{"goodbye world"},
			MaxIdleChars: 2048,
		},
		Scheduler: SchedulerConfig{
			PrimaryTimeout:   20,
			SecondaryTimeout: 20,
		},
		Transcription: TranscriptionConfig{
			Backend:    "http",
			Endpoint:   "http://127.0.0.1:8080/v1/audio/transcriptions",
			Timeout:    30,
			MaxRetries: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:     "sample rate too low",
			mutate:   func(c *Config) { c.Audio.SampleRate = 4000 },
			errorMsg: "sample_rate must be between",
		},
		{
			name:     "unknown backpressure policy",
			mutate:   func(c *Config) { c.Audio.Backpressure = "block" },
			errorMsg: "backpressure must be 'drop' or 'pause'",
		},
		{
			name:     "min frames above capacity",
			mutate:   func(c *Config) { c.Audio.MinFrames = 61 },
			errorMsg: "min_frames must be between",
		},
		{
			name:     "file source without path",
			mutate:   func(c *Config) { c.Source.Type = "file" },
			errorMsg: "file_path cannot be empty",
		},
		{
			name:     "udp source without port",
			mutate:   func(c *Config) { c.Source.Type = "udp" },
			errorMsg: "udp_port must be between",
		},
		{
			name: "udp source",
			mutate: func(c *Config) {
				c.Source.Type = "udp"
				c.Source.UDPPort = 5004
			},
		},
		{
			name: "vad threshold out of range",
			mutate: func(c *Config) {
				c.VAD = VADConfig{Enabled: true, Threshold: 2, WindowDuration: 0.03, MinVoiceWindows: 3}
			},
			errorMsg: "threshold must be in (0, 1]",
		},
		{
			name: "vad band ratio out of range",
			mutate: func(c *Config) {
				c.VAD = VADConfig{Enabled: true, Threshold: 0.01, WindowDuration: 0.03, MinVoiceWindows: 3, MinBandRatio: 1.5}
			},
			errorMsg: "min_band_ratio must be in [0, 1]",
		},
		{
			name:   "disabled vad is not validated",
			mutate: func(c *Config) { c.VAD = VADConfig{Threshold: 2} },
		},
		{
			name:     "no start phrases",
			mutate:   func(c *Config) { c.Trigger.StartPhrases = nil },
			errorMsg: "start_phrases cannot be empty",
		},
		{
			name:     "blank end phrase",
			mutate:   func(c *Config) { c.Trigger.EndPhrases = []string{"  "} },
			errorMsg: "phrases cannot be blank",
		},
		{
			name:     "zero primary timeout",
			mutate:   func(c *Config) { c.Scheduler.PrimaryTimeout = 0 },
			errorMsg: "primary_timeout must be positive",
		},
		{
			name:     "whisper backend without model",
			mutate:   func(c *Config) { c.Transcription.Backend = "whisper" },
			errorMsg: "model_path cannot be empty",
		},
		{
			name: "dispatch endpoint without timeout",
			mutate: func(c *Config) {
				c.Dispatch.Endpoint = "http://127.0.0.1:9000/chat"
			},
			errorMsg: "timeout must be at least 1 second",
		},
		{
			name: "http enabled with bad port",
			mutate: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Address = "0.0.0.0"
				c.HTTP.Port = 70000
			},
			errorMsg: "http port must be between 1 and 65535",
		},
		{
			name:     "recording without dir",
			mutate:   func(c *Config) { c.Recording.Enabled = true },
			errorMsg: "dir cannot be empty",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "trace" },
			errorMsg: "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
				return
			}

			if err == nil {
				t.Errorf("Expected error containing '%s' but got none", tt.errorMsg)
			} else if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
audio:
  sample_rate: 16000
  frame_duration: 0.5
  queue_capacity: 60
  backpressure: "drop"
  min_frames: 2
  poll_interval: 0.1
source:
  type: "file"
  file_path: "./testdata/input.wav"
session:
  start_listening: true
trigger:
  start_phrases: ["hey mirai", "hello world"]
  end_phrases: ["over", "goodbye world"]
  max_idle_chars: 1024
scheduler:
  primary_timeout: 20
  secondary_timeout: 20
transcription:
  backend: "http"
  endpoint: "http://127.0.0.1:8080/v1/audio/transcriptions"
  model: "base.en"
  language: "en"
  timeout: 30
  max_retries: 2
dispatch:
  endpoint: "http://127.0.0.1:9000/chat"
  timeout: 60
  picture_phrases: ["take a picture"]
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
audio:
  sample_rate: [16000
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
audio:
  sample_rate: 16000
`,
			expectError: true,
			errorMsg:    "start_phrases cannot be empty",
		},
		{
			name: "explicit invalid value",
			configYAML: `
audio:
  frame_duration: -1
trigger:
  start_phrases: ["hello world"]
  end_phrases: ["goodbye world"]
transcription:
  endpoint: "http://localhost:9000/transcribe"
`,
			expectError: true,
			errorMsg:    "frame_duration must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}

			if len(config.Trigger.StartPhrases) != 2 {
				t.Errorf("Expected 2 start phrases, got %d", len(config.Trigger.StartPhrases))
			}

			if !config.Session.StartListening {
				t.Errorf("Expected start_listening to be true")
			}

			if config.Audio.MinFrames != 2 {
				t.Errorf("Expected min_frames 2, got %d", config.Audio.MinFrames)
			}
		})
	}
}

func TestConfigLoadDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	minimal := `
trigger:
  start_phrases: ["hello world"]
  end_phrases: ["goodbye world"]
transcription:
  endpoint: "http://localhost:9000/transcribe"
`
	if err := os.WriteFile(configPath, []byte(minimal), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if config.Audio.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", config.Audio.SampleRate)
	}
	if config.Audio.QueueCapacity != 60 {
		t.Errorf("Expected queue capacity 60, got %d", config.Audio.QueueCapacity)
	}
	if config.Audio.Backpressure != "drop" {
		t.Errorf("Expected backpressure drop, got %s", config.Audio.Backpressure)
	}
	if config.Audio.GetPollInterval() != 100*time.Millisecond {
		t.Errorf("Expected poll interval 100ms, got %v", config.Audio.GetPollInterval())
	}
	if config.Scheduler.GetPrimaryTimeout() != 20*time.Second {
		t.Errorf("Expected primary timeout 20s, got %v", config.Scheduler.GetPrimaryTimeout())
	}
	if config.Trigger.MaxIdleChars != 2048 {
		t.Errorf("Expected max idle chars 2048, got %d", config.Trigger.MaxIdleChars)
	}
	if config.VAD.MinBandRatio != 0.5 || config.VAD.MinVoiceWindows != 3 {
		t.Errorf("Expected vad defaults 0.5/3, got %f/%d", config.VAD.MinBandRatio, config.VAD.MinVoiceWindows)
	}
	if config.Source.Type != "mic" {
		t.Errorf("Expected mic source, got %s", config.Source.Type)
	}
	if len(config.Dispatch.PicturePhrases) != 1 || config.Dispatch.PicturePhrases[0] != "take a picture" {
		t.Errorf("Expected default picture phrase, got %v", config.Dispatch.PicturePhrases)
	}
	if config.Logging.Level != "info" || config.Logging.Format != "text" {
		t.Errorf("Expected info/text logging, got %s/%s", config.Logging.Level, config.Logging.Format)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	audio := AudioConfig{
		FrameDuration: 0.5,
		PollInterval:  0.1,
	}

	if audio.GetFrameDuration() != 500*time.Millisecond {
		t.Errorf("Expected 0.5 seconds, got %v", audio.GetFrameDuration())
	}

	if audio.GetPollInterval() != 100*time.Millisecond {
		t.Errorf("Expected 0.1 seconds, got %v", audio.GetPollInterval())
	}

	scheduler := SchedulerConfig{
		PrimaryTimeout:   20,
		SecondaryTimeout: 2.5,
	}

	if scheduler.GetPrimaryTimeout() != 20*time.Second {
		t.Errorf("Expected 20 seconds, got %v", scheduler.GetPrimaryTimeout())
	}

	if scheduler.GetSecondaryTimeout() != 2500*time.Millisecond {
		t.Errorf("Expected 2.5 seconds, got %v", scheduler.GetSecondaryTimeout())
	}

	transcription := TranscriptionConfig{Timeout: 30}
	if transcription.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", transcription.GetTimeoutDuration())
	}

	dispatch := DispatchConfig{Timeout: 60}
	if dispatch.GetTimeoutDuration() != time.Minute {
		t.Errorf("Expected 60 seconds, got %v", dispatch.GetTimeoutDuration())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid text to file",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "voicegate.log"},
			valid:  true,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
