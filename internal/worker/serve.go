package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/skypro1111/voicegate/internal/protocol"
	"github.com/skypro1111/voicegate/internal/transcription"
)

// Serve reads job frames from in, transcribes them one at a time and writes
// one result frame per job to out. It returns nil when in is closed.
func Serve(ctx context.Context, in io.Reader, out io.Writer, engine transcription.Engine, logger *slog.Logger) error {
	writer := protocol.NewWriter(out)
	pid := os.Getpid()

	logger.Info("Worker ready", slog.Int("pid", pid))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, payload, err := protocol.ReadFrame(in)
		if errors.Is(err, io.EOF) {
			logger.Info("Job stream closed, worker exiting", slog.Int("pid", pid))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read job: %w", err)
		}

		if header.FrameType != protocol.FrameTypeJob {
			logger.Warn("Ignoring unexpected frame", slog.String("header", header.String()))
			continue
		}

		job, err := protocol.DecodeJob(payload)
		if err != nil {
			return err
		}

		result := process(ctx, engine, job, logger)
		result.WorkerPID = pid

		if err := writer.WriteResult(result); err != nil {
			return fmt.Errorf("failed to write result for job %s: %w", job.ID, err)
		}
	}
}

func process(ctx context.Context, engine transcription.Engine, job *protocol.Job, logger *slog.Logger) *protocol.Result {
	start := time.Now()
	text, err := engine.Transcribe(ctx, job.Clip())
	elapsed := time.Since(start)

	result := &protocol.Result{
		JobID:          job.ID,
		Text:           text,
		ProcessingTime: elapsed,
	}

	if err != nil {
		result.Text = ""
		result.Err = err.Error()
		logger.Error("Transcription failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return result
	}

	// realtime factor above 1 means the worker keeps up with capture
	realtime := 0.0
	if elapsed > 0 {
		realtime = job.Duration.Seconds() / elapsed.Seconds()
	}

	logger.Info("Transcribed clip",
		slog.String("job_id", job.ID),
		slog.Duration("audio", job.Duration),
		slog.Duration("processing", elapsed),
		slog.String("realtime", fmt.Sprintf("%.2fx", realtime)),
		slog.Int("chars", len(text)))

	return result
}
