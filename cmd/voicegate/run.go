package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/skypro1111/voicegate/internal/audio"
	"github.com/skypro1111/voicegate/internal/config"
	"github.com/skypro1111/voicegate/internal/dispatch"
	"github.com/skypro1111/voicegate/internal/metrics"
	"github.com/skypro1111/voicegate/internal/pipeline"
	"github.com/skypro1111/voicegate/internal/scheduler"
	"github.com/skypro1111/voicegate/internal/server"
	"github.com/skypro1111/voicegate/internal/session"
	"github.com/skypro1111/voicegate/internal/source"
	"github.com/skypro1111/voicegate/internal/source/mic"
	"github.com/skypro1111/voicegate/internal/trigger"
	"github.com/skypro1111/voicegate/internal/vad"
	"github.com/skypro1111/voicegate/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the listening pipeline",
	Args:  cobra.NoArgs,
	RunE:  runService,
}

// service holds every long-lived component of a running pipeline
type service struct {
	cfg    *config.Config
	logger *slog.Logger

	flags      *session.Flags
	aggregator *audio.Aggregator
	machine    *trigger.Machine
	vad        *vad.Processor
	supervisor *scheduler.Supervisor
	forwarder  *dispatch.Forwarder
	pipeline   *pipeline.Pipeline
	source     source.Source
	network    *source.UDPSource
	recorder   *audio.Recorder
	hub        *server.Hub
	httpServer *server.HTTPServer
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging, os.Stdout)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("frame_duration", cfg.Audio.FrameDuration),
		slog.Int("queue_capacity", cfg.Audio.QueueCapacity),
		slog.String("backpressure", cfg.Audio.Backpressure),
		slog.String("source", cfg.Source.Type),
		slog.Any("start_phrases", cfg.Trigger.StartPhrases),
		slog.Any("end_phrases", cfg.Trigger.EndPhrases),
		slog.String("transcription_backend", cfg.Transcription.Backend),
		slog.Float64("primary_timeout", cfg.Scheduler.PrimaryTimeout),
		slog.Float64("secondary_timeout", cfg.Scheduler.SecondaryTimeout),
		slog.String("dispatch_endpoint", cfg.Dispatch.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	reportErrors := false
	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     serviceName + "@" + serviceVersion,
		})
		if err != nil {
			logger.Warn("Sentry init failed", slog.String("error", err.Error()))
		} else {
			reportErrors = true
			logger.Info("Sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize service", slog.String("error", err.Error()))
		if reportErrors {
			sentry.CaptureException(err)
		}
		return err
	}

	if err := svc.run(); err != nil {
		if reportErrors {
			sentry.CaptureException(err)
		}
		return err
	}

	return nil
}

// newService builds the component graph. Worker processes are not started yet.
func newService(cfg *config.Config, logger *slog.Logger) (*service, error) {
	svc := &service{cfg: cfg, logger: logger}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	svc.hub = server.NewHub(logger)

	svc.flags = session.NewFlags()
	svc.flags.OnListeningChange(func(listening bool) {
		appMetrics.SetListening(listening)
		svc.hub.Publish(pipeline.ListeningEvent(listening))
		logger.Info("Listening changed", slog.Bool("listening", listening))
	})

	policy, err := audio.ParseBackpressurePolicy(cfg.Audio.Backpressure)
	if err != nil {
		return nil, err
	}

	svc.aggregator, err = audio.NewAggregator(audio.AggregatorConfig{
		Capacity:      cfg.Audio.QueueCapacity,
		FrameDuration: cfg.Audio.GetFrameDuration(),
		Policy:        policy,
	}, svc.flags)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}

	svc.machine, err = trigger.New(trigger.Config{
		StartPhrases: cfg.Trigger.StartPhrases,
		EndPhrases:   cfg.Trigger.EndPhrases,
		MaxIdleChars: cfg.Trigger.MaxIdleChars,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	procs, err := worker.NewSelfSpawner(workerArgs(), logger)
	if err != nil {
		return nil, err
	}
	spawner := scheduler.SpawnerFunc(func(ctx context.Context) (scheduler.Worker, error) {
		h, err := procs.Spawn(ctx)
		if err != nil {
			return nil, err
		}
		return h, nil
	})

	svc.supervisor, err = scheduler.New(scheduler.Config{
		PrimaryTimeout:   cfg.Scheduler.GetPrimaryTimeout(),
		SecondaryTimeout: cfg.Scheduler.GetSecondaryTimeout(),
	}, spawner, logger, appMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	var filter pipeline.VoiceFilter
	if cfg.VAD.Enabled {
		svc.vad, err = vad.NewProcessor(vad.Config{
			Threshold:       float32(cfg.VAD.Threshold),
			Window:          cfg.VAD.GetWindowDuration(),
			SampleRate:      cfg.Audio.SampleRate,
			MinVoiceWindows: cfg.VAD.MinVoiceWindows,
			MinBandRatio:    cfg.VAD.MinBandRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create silence filter: %w", err)
		}
		filter = svc.vad
		logger.Info("Silence filter enabled",
			slog.Float64("threshold", cfg.VAD.Threshold),
			slog.Float64("min_band_ratio", cfg.VAD.MinBandRatio),
			slog.Int("window_samples", svc.vad.GetWindowSize()))
	}

	queue := dispatch.NewQueue()

	svc.forwarder, err = dispatch.NewForwarder(dispatch.ForwarderConfig{
		Endpoint: cfg.Dispatch.Endpoint,
		Timeout:  cfg.Dispatch.GetTimeoutDuration(),
	}, queue, svc.flags, logger, appMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create forwarder: %w", err)
	}
	svc.forwarder.OnReply(func(cmd dispatch.Command, reply string, err error) {
		svc.hub.Publish(pipeline.ResponseEvent(cmd.ID, reply, err))
	})

	osFs := afero.NewOsFs()

	var images dispatch.ImageProvider
	if cfg.Dispatch.SnapshotPath != "" {
		provider, err := dispatch.NewFileImageProvider(osFs, cfg.Dispatch.SnapshotPath)
		if err != nil {
			return nil, err
		}
		images = provider
	}

	if cfg.Recording.Enabled {
		svc.recorder, err = audio.NewRecorder(osFs, cfg.Recording.Dir, cfg.Audio.SampleRate, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to create recorder: %w", err)
		}
		logger.Info("Recording captured audio", slog.String("path", svc.recorder.Path()))
	}

	svc.pipeline, err = pipeline.New(pipeline.Config{
		PollInterval:   cfg.Audio.GetPollInterval(),
		MinFrames:      cfg.Audio.MinFrames,
		PicturePhrases: cfg.Dispatch.PicturePhrases,
	}, pipeline.Components{
		Flags:      svc.flags,
		Aggregator: svc.aggregator,
		Submitter:  svc.supervisor,
		Trigger:    svc.machine,
		Filter:     filter,
		Queue:      queue,
		Images:     images,
		Recorder:   svc.recorder,
		Events:     svc.hub,
	}, logger, appMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	switch cfg.Source.Type {
	case "file":
		svc.source, err = source.NewFileSource(osFs, source.FileConfig{
			Path:          cfg.Source.FilePath,
			SampleRate:    cfg.Audio.SampleRate,
			FrameDuration: cfg.Audio.GetFrameDuration(),
			Realtime:      cfg.Source.Realtime,
		}, logger)
	case "udp":
		svc.network, err = source.NewUDPSource(source.UDPConfig{
			Address:       cfg.Source.UDPAddress,
			Port:          cfg.Source.UDPPort,
			SampleRate:    cfg.Audio.SampleRate,
			FrameDuration: cfg.Audio.GetFrameDuration(),
		}, logger)
		svc.source = svc.network
	default:
		svc.source, err = mic.New(cfg.Audio.SampleRate, cfg.Audio.GetFrameDuration(), logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create audio source: %w", err)
	}

	if cfg.HTTP.Enabled {
		sources := server.Sources{
			Flags:      svc.flags,
			Aggregator: svc.aggregator,
			Scheduler:  svc.supervisor,
			Trigger:    svc.machine,
			Pipeline:   svc.pipeline,
			Forwarder:  svc.forwarder,
		}
		if svc.vad != nil {
			sources.VAD = svc.vad
		}
		if svc.network != nil {
			sources.Network = svc.network
		}

		svc.httpServer, err = server.NewHTTPServer(cfg.HTTP, logger, cfg, sources, svc.hub, registry, appMetrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP server: %w", err)
		}
	}

	return svc, nil
}

type exit struct {
	name string
	err  error
}

// run starts the workers and loops and blocks until a signal or a fatal error
func (s *service) run() error {
	logger := s.logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transcription workers: %w", err)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Start(); err != nil {
			s.supervisor.Close()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	s.flags.Start(s.cfg.Session.StartListening)

	exits := make(chan exit, 3)
	go func() { exits <- exit{"audio source", s.source.Run(ctx, s.pipeline.Capture)} }()
	go func() { exits <- exit{"forwarder", s.forwarder.Run(ctx)} }()
	go func() { exits <- exit{"pipeline", s.pipeline.Run(ctx)} }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Service started successfully, waiting for signals...",
		slog.Bool("listening", s.flags.Listening()))

	var runErr error
wait:
	for {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			break wait
		case e := <-exits:
			if e.err == nil {
				// a file source is exhausted; queued audio is still processed
				logger.Info("Component finished", slog.String("component", e.name))
				continue
			}

			var serviceErr *scheduler.ServiceError
			if errors.As(e.err, &serviceErr) {
				logger.Error("Transcription service unavailable, shutting down",
					slog.String("job_id", serviceErr.JobID),
					slog.Duration("elapsed", serviceErr.Elapsed))
			} else {
				logger.Error("Component failed, shutting down",
					slog.String("component", e.name),
					slog.String("error", e.err.Error()))
			}
			runErr = fmt.Errorf("%s: %w", e.name, e.err)
			break wait
		}
	}

	logger.Info("Starting graceful shutdown...")

	s.flags.Stop()
	cancel()

	// Stop HTTP server first (stop accepting new requests)
	if s.httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := s.httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.supervisor.Close(); err != nil {
		logger.Error("Error stopping transcription workers", slog.String("error", err.Error()))
	}

	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			logger.Error("Error closing recording", slog.String("error", err.Error()))
		} else {
			logger.Info("Recording saved",
				slog.String("path", s.recorder.Path()),
				slog.Int("frames", s.recorder.Frames()))
		}
	}

	s.logFinalStats()

	logger.Info("Service stopped")
	return runErr
}

func (s *service) logFinalStats() {
	agg := s.aggregator.GetStats()
	sched := s.supervisor.GetStats()
	pipe := s.pipeline.GetStats()
	fwd := s.forwarder.GetStats()

	s.logger.Info("Final service statistics",
		slog.Uint64("frames_accepted", agg.FramesAccepted),
		slog.Uint64("frames_dropped", agg.FramesDropped),
		slog.Uint64("clips", pipe.Clips),
		slog.Uint64("silent_clips", pipe.SilentClips),
		slog.Uint64("transcripts", pipe.Transcripts),
		slog.Uint64("commands", pipe.Commands),
		slog.Uint64("commands_dropped", pipe.CommandsDropped),
		slog.Uint64("jobs", sched.TotalJobs),
		slog.Uint64("failovers", sched.Failovers),
		slog.Uint64("timeouts", sched.Timeouts),
		slog.Uint64("delivered", fwd.Delivered),
		slog.Uint64("delivery_failures", fwd.Failed),
	)
}
