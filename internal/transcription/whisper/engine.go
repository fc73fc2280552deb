// Package whisper runs whisper.cpp in process. It needs cgo and the
// whisper.cpp library, so it is kept apart from the HTTP engine.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	whispercpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/skypro1111/voicegate/internal/audio"
	"github.com/skypro1111/voicegate/internal/transcription"
)

const sampleRate = 16000

// Engine transcribes clips with a loaded whisper.cpp model
type Engine struct {
	model    whispercpp.Model
	language string

	mu sync.Mutex
}

var _ transcription.Engine = (*Engine)(nil)

// New loads the model at modelPath
func New(modelPath, language string) (*Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}

	model, err := whispercpp.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model %s: %w", modelPath, err)
	}

	return &Engine{
		model:    model,
		language: language,
	}, nil
}

// Transcribe runs the model over the clip. Whisper expects 16 kHz input.
func (e *Engine) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if clip.SampleRate != sampleRate {
		return "", fmt.Errorf("whisper needs %d Hz audio, got %d", sampleRate, clip.SampleRate)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("failed to create whisper context: %w", err)
	}

	if e.language != "" {
		if err := wctx.SetLanguage(e.language); err != nil {
			return "", fmt.Errorf("failed to set language %q: %w", e.language, err)
		}
	}

	if err := wctx.Process(audio.Float32Samples(clip.Samples), nil); err != nil {
		return "", fmt.Errorf("whisper processing failed: %w", err)
	}

	var segments []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read segment: %w", err)
		}
		segments = append(segments, segment.Text)
	}

	return transcription.JoinSegments(segments), nil
}

// Close releases the model
func (e *Engine) Close() error {
	return e.model.Close()
}
