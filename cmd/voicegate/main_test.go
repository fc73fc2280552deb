package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skypro1111/voicegate/internal/config"
	"github.com/skypro1111/voicegate/internal/transcription"
)

func TestNewEngine(t *testing.T) {
	engine, err := newEngine(config.TranscriptionConfig{
		Backend:  "http",
		Endpoint: "http://127.0.0.1:9000/v1/audio/transcriptions",
		Timeout:  5,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer engine.Close()

	if _, ok := engine.(*transcription.Client); !ok {
		t.Errorf("Expected *transcription.Client, got %T", engine)
	}

	if _, err := newEngine(config.TranscriptionConfig{Backend: "carrier-pigeon"}); err == nil {
		t.Error("Expected error for unknown backend")
	}

	if _, err := newEngine(config.TranscriptionConfig{Backend: "http"}); err == nil {
		t.Error("Expected error for http backend without endpoint")
	}
}

func TestWorkerArgsCarryConfig(t *testing.T) {
	old := configPath
	configPath = "/etc/voicegate.yaml"
	defer func() { configPath = old }()

	args := workerArgs()
	if len(args) != 3 || args[0] != "worker" || args[1] != "--config" || args[2] != "/etc/voicegate.yaml" {
		t.Errorf("Unexpected worker args %v", args)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"run", "worker", "mock-stt"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %q, got %v (%v)", name, cmd, err)
		}
	}
}

func TestLogOutput(t *testing.T) {
	var stdout bytes.Buffer
	dir := t.TempDir()

	tests := []struct {
		name     string
		output   string
		expected func(w interface{}) bool
	}{
		{"default", "", func(w interface{}) bool { return w == &stdout }},
		{"stdout", "stdout", func(w interface{}) bool { return w == &stdout }},
		{"stderr", "stderr", func(w interface{}) bool { return w == os.Stderr }},
		{"unwritable file", filepath.Join(dir, "missing", "voicegate.log"), func(w interface{}) bool { return w == &stdout }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := logOutput(tt.output, &stdout); !tt.expected(got) {
				t.Errorf("Unexpected writer %T for output %q", got, tt.output)
			}
		})
	}

	path := filepath.Join(dir, "voicegate.log")
	w := logOutput(path, &stdout)
	f, ok := w.(*os.File)
	if !ok {
		t.Fatalf("Expected *os.File, got %T", w)
	}
	f.Close()
}

func TestLoggerFallsBackToGivenWriter(t *testing.T) {
	var fallback bytes.Buffer

	// workers pass stderr here so an unopenable file never reaches stdout
	logger := initLogger(config.LoggingConfig{
		Level:  "info",
		Output: filepath.Join(t.TempDir(), "missing", "worker.log"),
	}, &fallback)
	logger.Info("Worker ready")

	if !strings.Contains(fallback.String(), "Worker ready") {
		t.Errorf("Expected log line on fallback writer, got %q", fallback.String())
	}
}
