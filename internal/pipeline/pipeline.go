package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/voicegate/internal/audio"
	"github.com/skypro1111/voicegate/internal/dispatch"
	"github.com/skypro1111/voicegate/internal/metrics"
	"github.com/skypro1111/voicegate/internal/protocol"
	"github.com/skypro1111/voicegate/internal/scheduler"
	"github.com/skypro1111/voicegate/internal/session"
	"github.com/skypro1111/voicegate/internal/trigger"
)

// Submitter runs one transcription job to completion
type Submitter interface {
	Submit(ctx context.Context, job *protocol.Job) (protocol.Result, error)
}

// VoiceFilter decides whether a clip is worth transcribing
type VoiceFilter interface {
	HasVoice(samples []int16) bool
}

// Config contains coordination settings
type Config struct {
	PollInterval   time.Duration
	MinFrames      int
	PicturePhrases []string
}

// Components are the collaborators the pipeline coordinates. Filter, Images,
// Recorder and Events are optional.
type Components struct {
	Flags      *session.Flags
	Aggregator *audio.Aggregator
	Submitter  Submitter
	Trigger    *trigger.Machine
	Filter     VoiceFilter
	Queue      *dispatch.Queue
	Images     dispatch.ImageProvider
	Recorder   *audio.Recorder
	Events     EventSink
}

// Pipeline moves audio from the listening gate through transcription and the
// trigger machine into the dispatch queue. Capture is called from the audio
// source goroutine; Run is the single coordinating loop.
type Pipeline struct {
	config  Config
	c       Components
	logger  *slog.Logger
	metrics *metrics.Metrics

	recordFailed bool

	// Statistics
	clips           uint64
	silentClips     uint64
	transcripts     uint64
	commands        uint64
	commandsDropped uint64
	lastTranscript  string
	lastCommand     string
	mu              sync.RWMutex
}

// Stats represents pipeline statistics for monitoring
type Stats struct {
	Clips           uint64 `json:"clips"`
	SilentClips     uint64 `json:"silent_clips"`
	Transcripts     uint64 `json:"transcripts"`
	Commands        uint64 `json:"commands"`
	CommandsDropped uint64 `json:"commands_dropped"`
	LastTranscript  string `json:"last_transcript"`
	LastCommand     string `json:"last_command"`
}

// New creates a pipeline
func New(config Config, c Components, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", config.PollInterval)
	}

	if config.MinFrames < 1 {
		config.MinFrames = 1
	}

	if c.Flags == nil || c.Aggregator == nil || c.Submitter == nil || c.Trigger == nil || c.Queue == nil {
		return nil, fmt.Errorf("flags, aggregator, submitter, trigger and queue are required")
	}

	return &Pipeline{
		config:  config,
		c:       c,
		logger:  logger,
		metrics: m,
	}, nil
}

// Capture records a frame and offers it to the aggregator. It never blocks on
// transcription.
func (p *Pipeline) Capture(frame audio.Frame) {
	if p.c.Recorder != nil && !p.recordFailed {
		if err := p.c.Recorder.Write(frame); err != nil {
			// one failure disables recording for the session
			p.recordFailed = true
			p.logger.Error("Recording failed, disabling", slog.String("error", err.Error()))
		}
	}

	result := p.c.Aggregator.Offer(frame)
	p.metrics.RecordFrameOffered(result.String())
	p.metrics.SetQueueDepth(p.c.Aggregator.Len())

	switch result {
	case audio.Dropped:
		p.logger.Debug("Frame queue full, frame dropped")
	case audio.Paused:
		p.logger.Warn("Frame queue full, listening paused", slog.Int("queued", p.c.Aggregator.Len()))
	}
}

// Run polls the gate until ctx is done or the session stops. A
// *scheduler.ServiceError ends the loop and is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Pipeline started",
		slog.Duration("poll_interval", p.config.PollInterval),
		slog.Int("min_frames", p.config.MinFrames))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Pipeline stopping")
			return nil
		case <-ticker.C:
		}

		if !p.c.Flags.Running() {
			p.logger.Info("Session stopped, pipeline exiting")
			return nil
		}

		if err := p.step(ctx); err != nil {
			return err
		}
	}
}

// step drains the gate once, if it is ready
func (p *Pipeline) step(ctx context.Context) error {
	if !p.c.Aggregator.Ready(p.config.MinFrames) {
		return nil
	}

	clip, ok := p.c.Aggregator.DrainAndConcat()
	if !ok {
		return nil
	}

	p.mu.Lock()
	p.clips++
	p.mu.Unlock()
	p.metrics.RecordClipDrained(clip.Duration.Seconds())
	p.metrics.SetQueueDepth(p.c.Aggregator.Len())

	if p.c.Filter != nil && !p.c.Filter.HasVoice(clip.Samples) {
		p.mu.Lock()
		p.silentClips++
		p.mu.Unlock()
		p.metrics.RecordClipSilent()

		p.logger.Debug("Skipping silent clip",
			slog.Int("frames", clip.Frames),
			slog.Duration("duration", clip.Duration))
		return nil
	}

	job := protocol.NewJob(clip)
	logger := p.logger.With(slog.String("job_id", job.ID))
	logger.Debug("Submitting clip",
		slog.Int("frames", clip.Frames),
		slog.Duration("duration", clip.Duration))

	result, err := p.c.Submitter.Submit(ctx, &job)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}

		var serviceErr *scheduler.ServiceError
		if errors.As(err, &serviceErr) {
			p.publish(Event{Type: EventFatal, Error: err.Error()})
		}
		return fmt.Errorf("transcription failed: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text != "" {
		p.mu.Lock()
		p.transcripts++
		p.lastTranscript = text
		p.mu.Unlock()

		logger.Info("Transcript", slog.String("text", text))
		p.publish(Event{Type: EventTranscript, Text: text})
	}

	command, ok := p.c.Trigger.Feed(text)
	if !ok {
		return nil
	}

	p.handleCommand(ctx, command, logger)
	return nil
}

// handleCommand closes the gate and hands the command to the conversation engine
func (p *Pipeline) handleCommand(ctx context.Context, text string, logger *slog.Logger) {
	p.metrics.RecordCommandEmitted()

	if text == "" {
		logger.Info("Empty command between start and end phrase, ignoring")
		return
	}

	p.c.Flags.SetListening(false)

	cmd := dispatch.NewCommand(text, time.Now())
	if p.c.Images != nil && dispatch.WantsPicture(text, p.config.PicturePhrases) {
		image, err := p.c.Images.Capture(ctx)
		if err != nil {
			logger.Warn("Failed to capture picture", slog.String("error", err.Error()))
		} else {
			cmd.Image = image
		}
	}

	if err := p.c.Queue.TryPut(cmd); err != nil {
		p.mu.Lock()
		p.commandsDropped++
		p.mu.Unlock()
		p.metrics.RecordCommandDropped()

		logger.Warn("Conversation engine busy, dropping command",
			slog.String("text", text),
			slog.String("error", err.Error()))
		p.c.Flags.SetListening(true)
		return
	}

	p.mu.Lock()
	p.commands++
	p.lastCommand = text
	p.mu.Unlock()

	logger.Info("Command captured",
		slog.String("command_id", cmd.ID),
		slog.String("text", text),
		slog.Bool("has_image", cmd.Image != ""))
	p.publish(Event{Type: EventCommand, Text: text, CommandID: cmd.ID})
}

func (p *Pipeline) publish(e Event) {
	if p.c.Events == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	p.c.Events.Publish(e)
}

// GetStats returns current pipeline statistics
func (p *Pipeline) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Stats{
		Clips:           p.clips,
		SilentClips:     p.silentClips,
		Transcripts:     p.transcripts,
		Commands:        p.commands,
		CommandsDropped: p.commandsDropped,
		LastTranscript:  p.lastTranscript,
		LastCommand:     p.lastCommand,
	}
}
