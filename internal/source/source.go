package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/skypro1111/voicegate/internal/audio"
)

// Source produces fixed-duration audio frames until ctx is done or the input
// is exhausted
type Source interface {
	Run(ctx context.Context, emit func(audio.Frame)) error
}

// FileConfig describes a WAV replay source
type FileConfig struct {
	Path          string
	SampleRate    int
	FrameDuration time.Duration
	// Realtime paces frames at capture speed instead of emitting them at once
	Realtime bool
}

// FileSource replays a 16-bit mono WAV file as frames
type FileSource struct {
	fs     afero.Fs
	config FileConfig
	logger *slog.Logger
}

// NewFileSource creates a WAV replay source reading from fs
func NewFileSource(fs afero.Fs, cfg FileConfig, logger *slog.Logger) (*FileSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}

	if FrameSamples(cfg.SampleRate, cfg.FrameDuration) <= 0 {
		return nil, fmt.Errorf("frame duration %v is too short for %d Hz", cfg.FrameDuration, cfg.SampleRate)
	}

	return &FileSource{fs: fs, config: cfg, logger: logger}, nil
}

// Run emits every frame of the file. The final partial frame is zero padded
// so every frame has the same duration.
func (s *FileSource) Run(ctx context.Context, emit func(audio.Frame)) error {
	data, err := afero.ReadFile(s.fs, s.config.Path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.config.Path, err)
	}

	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.config.Path, err)
	}

	if rate != s.config.SampleRate {
		return fmt.Errorf("%s has sample rate %d, expected %d", s.config.Path, rate, s.config.SampleRate)
	}

	frames := Split(samples, FrameSamples(rate, s.config.FrameDuration))
	s.logger.Info("Replaying audio file",
		slog.String("path", s.config.Path),
		slog.Int("frames", len(frames)),
		slog.Bool("realtime", s.config.Realtime))

	var ticker *time.Ticker
	if s.config.Realtime {
		ticker = time.NewTicker(s.config.FrameDuration)
		defer ticker.Stop()
	}

	for _, frame := range frames {
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil
			}
		} else if ctx.Err() != nil {
			return nil
		}

		emit(audio.Frame{Samples: frame, SampleRate: rate, CapturedAt: time.Now()})
	}

	return nil
}

// FrameSamples returns the number of samples in one frame
func FrameSamples(sampleRate int, frameDuration time.Duration) int {
	return int(int64(sampleRate) * int64(frameDuration) / int64(time.Second))
}

// Split cuts samples into frames of size n, zero padding the last one
func Split(samples []int16, n int) [][]int16 {
	if n <= 0 || len(samples) == 0 {
		return nil
	}

	frames := make([][]int16, 0, (len(samples)+n-1)/n)
	for start := 0; start < len(samples); start += n {
		frame := make([]int16, n)
		copy(frame, samples[start:])
		frames = append(frames, frame)
	}
	return frames
}
