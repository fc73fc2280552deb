// Package mic captures microphone audio through PortAudio.
package mic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/voicegate/internal/audio"
	"github.com/skypro1111/voicegate/internal/source"
)

// Source reads the default input device in fixed-size frames
type Source struct {
	sampleRate    int
	frameDuration time.Duration
	logger        *slog.Logger
}

// New creates a microphone source
func New(sampleRate int, frameDuration time.Duration, logger *slog.Logger) (*Source, error) {
	if source.FrameSamples(sampleRate, frameDuration) <= 0 {
		return nil, fmt.Errorf("frame duration %v is too short for %d Hz", frameDuration, sampleRate)
	}

	return &Source{sampleRate: sampleRate, frameDuration: frameDuration, logger: logger}, nil
}

// Run captures frames until ctx is done
func (s *Source) Run(ctx context.Context, emit func(audio.Frame)) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer func() {
		if err := portaudio.Terminate(); err != nil {
			s.logger.Warn("Error while freeing audio", slog.String("error", err.Error()))
		}
	}()

	in := make([]int16, source.FrameSamples(s.sampleRate, s.frameDuration))
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.sampleRate), len(in), in)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	defer stream.Stop()

	s.logger.Info("Microphone capture started",
		slog.Int("sample_rate", s.sampleRate),
		slog.Int("frame_samples", len(in)))

	for ctx.Err() == nil {
		if err := stream.Read(); err != nil {
			// overflow only means we lost samples; keep capturing
			if err == portaudio.InputOverflowed {
				s.logger.Warn("Microphone input overflowed")
				continue
			}
			return fmt.Errorf("failed to read input stream: %w", err)
		}

		frame := make([]int16, len(in))
		copy(frame, in)
		emit(audio.Frame{Samples: frame, SampleRate: s.sampleRate, CapturedAt: time.Now()})
	}

	return nil
}
