package main

import (
	"fmt"

	"github.com/skypro1111/voicegate/internal/config"
	"github.com/skypro1111/voicegate/internal/transcription"
	"github.com/skypro1111/voicegate/internal/transcription/whisper"
)

// newEngine builds the speech-to-text engine a worker process runs
func newEngine(cfg config.TranscriptionConfig) (transcription.Engine, error) {
	switch cfg.Backend {
	case "http":
		client, err := transcription.NewClient(transcription.Config{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Language:   cfg.Language,
			Timeout:    cfg.GetTimeoutDuration(),
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "whisper":
		engine, err := whisper.New(cfg.ModelPath, cfg.Language)
		if err != nil {
			return nil, err
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}
}
