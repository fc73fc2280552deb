package transcription

import (
	"context"

	"github.com/skypro1111/voicegate/internal/audio"
)

// Engine turns a clip into text. Implementations run inside worker processes
// and handle one clip at a time.
type Engine interface {
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
	Close() error
}

// EngineFunc adapts a function to the Engine interface
type EngineFunc func(ctx context.Context, clip audio.Clip) (string, error)

func (f EngineFunc) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	return f(ctx, clip)
}

func (f EngineFunc) Close() error { return nil }
