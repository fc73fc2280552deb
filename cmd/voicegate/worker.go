package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voicegate/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a transcription worker on stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

// workerArgs are the arguments the supervisor re-executes this binary with
func workerArgs() []string {
	return []string{"worker", "--config", configPath}
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stdout carries result frames, so nothing may log there
	logger := initLogger(cfg.Logging, os.Stderr).With(
		slog.String("component", "worker"),
		slog.Int("pid", os.Getpid()),
	)

	engine, err := newEngine(cfg.Transcription)
	if err != nil {
		logger.Error("Failed to create transcription engine", slog.String("error", err.Error()))
		return err
	}
	defer engine.Close()

	// the parent owns our lifetime; an interrupt aimed at the process group
	// only stops the read loop
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Transcription worker starting",
		slog.String("backend", cfg.Transcription.Backend))

	if err := worker.Serve(ctx, os.Stdin, os.Stdout, engine, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", slog.String("error", err.Error()))
		return err
	}

	return nil
}
