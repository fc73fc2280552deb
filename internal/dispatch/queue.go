package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by TryPut when the slot is occupied
var ErrQueueFull = errors.New("dispatch queue is full")

// Command is a voice command captured between a start and an end phrase
type Command struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Image      string    `json:"image,omitempty"` // base64 PNG
	CapturedAt time.Time `json:"captured_at"`
}

// NewCommand creates a command with a fresh ID
func NewCommand(text string, capturedAt time.Time) Command {
	return Command{
		ID:         uuid.NewString(),
		Text:       text,
		CapturedAt: capturedAt,
	}
}

// Queue is the single-slot handoff to the conversation engine. The engine is
// expected to drain it before it re-enables listening, so the slot is normally
// empty when a new command arrives.
type Queue struct {
	slot chan Command
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{slot: make(chan Command, 1)}
}

// TryPut stores cmd without blocking
func (q *Queue) TryPut(cmd Command) error {
	select {
	case q.slot <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Take blocks until a command is available or ctx is done
func (q *Queue) Take(ctx context.Context) (Command, error) {
	select {
	case cmd := <-q.slot:
		return cmd, nil
	case <-ctx.Done():
		return Command{}, ctx.Err()
	}
}

// Len returns 1 when a command is waiting
func (q *Queue) Len() int {
	return len(q.slot)
}

// WantsPicture reports whether text contains any picture phrase, ignoring case
func WantsPicture(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
