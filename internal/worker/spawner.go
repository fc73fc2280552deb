package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"

	"github.com/skypro1111/voicegate/internal/transcription"
)

// ProcessSpawner starts each worker as a child process. The child is expected
// to run Serve on its stdin and stdout.
type ProcessSpawner struct {
	Path   string
	Args   []string
	Env    []string
	Stderr io.Writer
	Logger *slog.Logger

	seq atomic.Uint64
}

// NewSelfSpawner re-executes the running binary with the given arguments
func NewSelfSpawner(args []string, logger *slog.Logger) (*ProcessSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}

	return &ProcessSpawner{
		Path:   path,
		Args:   args,
		Stderr: os.Stderr,
		Logger: logger,
	}, nil
}

// Spawn starts a new worker process
func (s *ProcessSpawner) Spawn(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stderr = s.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", s.Path, err)
	}

	id := fmt.Sprintf("proc-%d-pid%d", s.seq.Add(1), cmd.Process.Pid)
	s.Logger.Info("Worker process started", slog.String("worker", id), slog.Int("pid", cmd.Process.Pid))

	terminate := func() error {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		// a killed child exits with a signal status; only report wait failures
		// that are not exit errors
		var exitErr *exec.ExitError
		if err := cmd.Wait(); err != nil && !errors.As(err, &exitErr) {
			return err
		}
		return nil
	}

	return newHandle(id, stdin, stdout, terminate, s.Logger), nil
}

// LocalSpawner runs Serve in a goroutine over in-memory pipes. Kill closes the
// pipes and cancels the engine context but cannot preempt an engine that
// ignores its context, so it is meant for tests and single-process runs.
type LocalSpawner struct {
	NewEngine func() (transcription.Engine, error)
	Logger    *slog.Logger

	seq atomic.Uint64
}

// Spawn starts a new in-process worker
func (s *LocalSpawner) Spawn(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	engine, err := s.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	jobsR, jobsW := io.Pipe()
	resultsR, resultsW := io.Pipe()
	serveCtx, cancel := context.WithCancel(context.Background())

	id := fmt.Sprintf("local-%d", s.seq.Add(1))
	logger := s.Logger.With(slog.String("worker", id))

	go func() {
		err := Serve(serveCtx, jobsR, resultsW, engine, logger)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("Local worker stopped", slog.String("error", err.Error()))
		}
		engine.Close()
		resultsW.Close()
	}()

	terminate := func() error {
		cancel()
		jobsR.CloseWithError(ErrStopped)
		resultsR.CloseWithError(ErrStopped)
		return nil
	}

	return newHandle(id, jobsW, resultsR, terminate, s.Logger), nil
}
