package worker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/skypro1111/voicegate/internal/protocol"
)

var (
	// ErrInboxFull is returned by Send when the worker already holds an unsent job
	ErrInboxFull = errors.New("worker inbox full")
	// ErrStopped is returned by Send after Kill
	ErrStopped = errors.New("worker stopped")
)

const resultBuffer = 4

// Handle is the supervisor-side view of one worker. Jobs go out through a
// single-slot inbox; results arrive on Results.
type Handle struct {
	id      string
	inbox   chan *protocol.Job
	results chan protocol.Result
	done    chan struct{}

	writer *protocol.Writer
	stdin  io.Closer
	stdout io.Reader

	// terminate forcibly stops the worker and waits for it to exit
	terminate func() error

	logger   *slog.Logger
	killOnce sync.Once
	killErr  error
	wg       sync.WaitGroup
}

func newHandle(id string, stdin io.WriteCloser, stdout io.Reader, terminate func() error, logger *slog.Logger) *Handle {
	h := &Handle{
		id:        id,
		inbox:     make(chan *protocol.Job, 1),
		results:   make(chan protocol.Result, resultBuffer),
		done:      make(chan struct{}),
		writer:    protocol.NewWriter(stdin),
		stdin:     stdin,
		stdout:    stdout,
		terminate: terminate,
		logger:    logger.With(slog.String("worker", id)),
	}

	h.wg.Add(2)
	go h.sendLoop()
	go h.receiveLoop()

	return h
}

// ID identifies the worker in logs
func (h *Handle) ID() string {
	return h.id
}

// Send enqueues a job without blocking
func (h *Handle) Send(job *protocol.Job) error {
	select {
	case <-h.done:
		return ErrStopped
	default:
	}

	select {
	case h.inbox <- job:
		return nil
	default:
		return ErrInboxFull
	}
}

// Results delivers every result the worker produces
func (h *Handle) Results() <-chan protocol.Result {
	return h.results
}

// Kill force-terminates the worker and joins its goroutines. It is safe to
// call more than once.
func (h *Handle) Kill() error {
	h.killOnce.Do(func() {
		close(h.done)
		h.stdin.Close()
		if err := h.terminate(); err != nil {
			h.killErr = fmt.Errorf("failed to terminate worker %s: %w", h.id, err)
		}
		h.wg.Wait()
	})
	return h.killErr
}

func (h *Handle) sendLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.done:
			return
		case job := <-h.inbox:
			if err := h.writer.WriteJob(job); err != nil {
				h.logger.Warn("Failed to send job", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			}
		}
	}
}

func (h *Handle) receiveLoop() {
	defer h.wg.Done()

	for {
		header, payload, err := protocol.ReadFrame(h.stdout)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-h.done:
				default:
					h.logger.Warn("Worker output ended", slog.String("error", err.Error()))
				}
			}
			return
		}

		if header.FrameType != protocol.FrameTypeResult {
			h.logger.Warn("Ignoring unexpected frame", slog.String("header", header.String()))
			continue
		}

		result, err := protocol.DecodeResult(payload)
		if err != nil {
			h.logger.Warn("Dropping undecodable result", slog.String("error", err.Error()))
			continue
		}

		select {
		case h.results <- *result:
		default:
			h.logger.Warn("Result buffer full, dropping result", slog.String("job_id", result.JobID))
		}
	}
}
