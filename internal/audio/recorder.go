package audio

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// Recorder appends every captured frame to a WAV file regardless of the
// listening gate
type Recorder struct {
	mu         sync.Mutex
	file       afero.File
	enc        *wav.Encoder
	path       string
	sampleRate int
	frames     int
	closed     bool
}

// NewRecorder creates dir if needed and opens a timestamped WAV file in it
func NewRecorder(fs afero.Fs, dir string, sampleRate int, now time.Time) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("recording_%s.wav", now.Format("20060102_150405")))
	file, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file %s: %w", path, err)
	}

	return &Recorder{
		file:       file,
		enc:        wav.NewEncoder(file, sampleRate, bitDepth, monoChannels, pcmFormat),
		path:       path,
		sampleRate: sampleRate,
	}, nil
}

// Write appends one frame
func (r *Recorder) Write(frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}

	if frame.SampleRate != r.sampleRate {
		return fmt.Errorf("frame sample rate %d does not match recording rate %d", frame.SampleRate, r.sampleRate)
	}

	if err := r.enc.Write(intBuffer(frame.Samples, r.sampleRate)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	r.frames++
	return nil
}

// Close finalizes the WAV header and closes the file
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.frames == 0 {
		// an empty buffer still forces the header out
		empty := &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: monoChannels, SampleRate: r.sampleRate},
			SourceBitDepth: bitDepth,
		}
		if err := r.enc.Write(empty); err != nil {
			r.file.Close()
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	if err := r.enc.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to finalize recording: %w", err)
	}

	return r.file.Close()
}

// Path returns the recording file path
func (r *Recorder) Path() string {
	return r.path
}

// Frames returns the number of frames written
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
