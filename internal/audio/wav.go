package audio

import (
	"bytes"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth      = 16
	pcmFormat     = 1
	monoChannels  = 1
	wavHeaderSize = 44
)

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	out := &writeSeeker{buf: make([]byte, 0, wavHeaderSize+len(samples)*2)}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, monoChannels, pcmFormat)

	if err := enc.Write(intBuffer(samples, sampleRate)); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV header: %w", err)
	}

	return out.buf, nil
}

// DecodeWAV decodes WAV data into mono PCM-16 samples. Multi-channel input
// keeps only the first channel.
func DecodeWAV(data []byte) ([]int16, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid WAV file")
	}

	if dec.BitDepth != bitDepth {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	samples := firstChannel(buf.Data, int(dec.NumChans))
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	return samples, int(dec.SampleRate), nil
}

// GetWAVDuration calculates the duration of WAV data from its sample count
func GetWAVDuration(data []byte) (time.Duration, error) {
	samples, sampleRate, err := DecodeWAV(data)
	if err != nil {
		return 0, err
	}

	return time.Duration(len(samples)) * time.Second / time.Duration(sampleRate), nil
}

func intBuffer(samples []int16, sampleRate int) *goaudio.IntBuffer {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	return &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: monoChannels,
			SampleRate:  sampleRate,
		},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
}

func firstChannel(data []int, channels int) []int16 {
	if channels < 1 {
		channels = 1
	}

	samples := make([]int16, 0, len(data)/channels)
	for i := 0; i < len(data); i += channels {
		samples = append(samples, int16(data[i]))
	}
	return samples
}

// Float32Samples converts PCM-16 samples to [-1, 1] floats
func Float32Samples(samples []int16) []float32 {
	return intBuffer(samples, 1).AsFloat32Buffer().Data
}

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes when it is closed.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, len(w.buf), end*2)
			copy(grown, w.buf)
			w.buf = grown
		}
		w.buf = w.buf[:end]
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}

	if abs < 0 {
		return 0, fmt.Errorf("negative position %d", abs)
	}

	w.pos = int(abs)
	return abs, nil
}
