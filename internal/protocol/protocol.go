package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voicegate/internal/audio"
)

// Protocol constants
const (
	// Frame types
	FrameTypeJob    = 0x01
	FrameTypeResult = 0x02

	// HeaderSize is 1 + 4 bytes
	HeaderSize = 5

	// MaxPayloadSize bounds a single frame; 64 MiB holds well over half an
	// hour of 16 kHz PCM-16
	MaxPayloadSize = 64 << 20
)

// Header represents the 5-byte frame header
// Layout: [FrameType:1][PayloadLen:4]
type Header struct {
	FrameType  uint8
	PayloadLen uint32
}

// Job is one transcription request sent from the supervisor to a worker
type Job struct {
	ID          string
	Samples     []int16
	SampleRate  int
	Duration    time.Duration
	SubmittedAt time.Time
}

// Result is the worker's answer to a Job. Err is set when the engine failed.
type Result struct {
	JobID          string
	Text           string
	Err            string
	ProcessingTime time.Duration
	WorkerPID      int
}

// NewJob wraps a clip in a job with a fresh ID
func NewJob(clip audio.Clip) Job {
	return Job{
		ID:         uuid.NewString(),
		Samples:    clip.Samples,
		SampleRate: clip.SampleRate,
		Duration:   clip.Duration,
	}
}

// Clip returns the audio carried by the job
func (j *Job) Clip() audio.Clip {
	return audio.Clip{
		Samples:    j.Samples,
		SampleRate: j.SampleRate,
		Duration:   j.Duration,
	}
}

// ParseHeader parses the 5-byte frame header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		FrameType:  data[0],
		PayloadLen: binary.BigEndian.Uint32(data[1:5]),
	}, nil
}

// ValidateHeader validates the frame header fields
func ValidateHeader(header *Header) error {
	if !IsValidFrameType(header.FrameType) {
		return fmt.Errorf("invalid frame type: 0x%02x", header.FrameType)
	}

	if header.PayloadLen == 0 {
		return fmt.Errorf("empty payload")
	}

	if header.PayloadLen > MaxPayloadSize {
		return fmt.Errorf("payload too large: %d bytes (maximum %d)", header.PayloadLen, MaxPayloadSize)
	}

	return nil
}

// IsValidFrameType checks if the frame type is valid
func IsValidFrameType(ftype uint8) bool {
	return ftype == FrameTypeJob || ftype == FrameTypeResult
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var frameType string

	switch h.FrameType {
	case FrameTypeJob:
		frameType = "Job"
	case FrameTypeResult:
		frameType = "Result"
	default:
		frameType = fmt.Sprintf("Unknown(0x%02x)", h.FrameType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d}", frameType, h.PayloadLen)
}

// Encode builds a complete frame (header + gob payload)
func Encode(frameType uint8, v any) ([]byte, error) {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	header := &Header{FrameType: frameType, PayloadLen: uint32(payload.Len())}
	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	frame := make([]byte, HeaderSize, HeaderSize+payload.Len())
	frame[0] = header.FrameType
	binary.BigEndian.PutUint32(frame[1:5], header.PayloadLen)

	return append(frame, payload.Bytes()...), nil
}

// ReadFrame reads one frame. It returns io.EOF only when the stream ends
// cleanly between frames.
func ReadFrame(r io.Reader) (*Header, []byte, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			return nil, nil, io.EOF
		}
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	header, err := ParseHeader(buf)
	if err != nil {
		return nil, nil, err
	}

	if err := ValidateHeader(header); err != nil {
		return nil, nil, fmt.Errorf("invalid header: %w", err)
	}

	payload := make([]byte, header.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, fmt.Errorf("failed to read %s payload: %w", header, err)
	}

	return header, payload, nil
}

// DecodeJob decodes a job payload
func DecodeJob(payload []byte) (*Job, error) {
	var job Job
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// DecodeResult decodes a result payload
func DecodeResult(payload []byte) (*Result, error) {
	var result Result
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &result, nil
}

// Writer writes whole frames; concurrent writers never interleave
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteJob writes a job frame
func (w *Writer) WriteJob(job *Job) error {
	return w.write(FrameTypeJob, job)
}

// WriteResult writes a result frame
func (w *Writer) WriteResult(result *Result) error {
	return w.write(FrameTypeResult, result)
}

func (w *Writer) write(frameType uint8, v any) error {
	frame, err := Encode(frameType, v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
