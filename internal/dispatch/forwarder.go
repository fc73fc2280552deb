package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/voicegate/internal/metrics"
)

// Resumer re-opens the listening gate
type Resumer interface {
	SetListening(v bool) bool
}

// ReplyFunc is called after every delivery attempt
type ReplyFunc func(cmd Command, reply string, err error)

// ForwarderConfig contains conversation engine settings
type ForwarderConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// Forwarder takes commands from the queue, hands them to the conversation
// engine over HTTP and re-enables listening once the engine has answered.
// With no endpoint configured commands are only logged.
type Forwarder struct {
	config     ForwarderConfig
	queue      *Queue
	gate       Resumer
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	onReply    ReplyFunc

	// Statistics
	delivered uint64
	failed    uint64
	lastReply time.Time
	mu        sync.RWMutex
}

// ForwarderStats represents forwarder statistics for monitoring
type ForwarderStats struct {
	Endpoint  string    `json:"endpoint"`
	Delivered uint64    `json:"delivered"`
	Failed    uint64    `json:"failed"`
	Pending   int       `json:"pending"`
	LastReply time.Time `json:"last_reply"`
}

type engineRequest struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
}

type engineResponse struct {
	Text string `json:"text"`
}

// NewForwarder creates a forwarder draining queue
func NewForwarder(cfg ForwarderConfig, queue *Queue, gate Resumer, logger *slog.Logger, m *metrics.Metrics) (*Forwarder, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is nil")
	}

	if gate == nil {
		return nil, fmt.Errorf("gate is nil")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Forwarder{
		config:     cfg,
		queue:      queue,
		gate:       gate,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		metrics:    m,
	}, nil
}

// OnReply registers a callback for delivery results; call before Run
func (f *Forwarder) OnReply(fn ReplyFunc) {
	f.onReply = fn
}

// Run delivers commands until ctx is done
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		cmd, err := f.queue.Take(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		f.handle(ctx, cmd)
	}
}

func (f *Forwarder) handle(ctx context.Context, cmd Command) {
	logger := f.logger.With(slog.String("command_id", cmd.ID))

	start := time.Now()
	reply, err := f.deliver(ctx, cmd)
	elapsed := time.Since(start)

	f.mu.Lock()
	if err != nil {
		f.failed++
	} else {
		f.delivered++
		f.lastReply = time.Now()
	}
	f.mu.Unlock()

	f.metrics.RecordDispatch(elapsed.Seconds(), err != nil)

	if err != nil {
		logger.Error("Conversation engine failed", slog.String("error", err.Error()), slog.Duration("elapsed", elapsed))
	} else {
		logger.Info("Conversation engine replied", slog.Int("reply_len", len(reply)), slog.Duration("elapsed", elapsed))
	}

	if f.onReply != nil {
		f.onReply(cmd, reply, err)
	}

	// the engine is done with this command either way
	f.gate.SetListening(true)
}

func (f *Forwarder) deliver(ctx context.Context, cmd Command) (string, error) {
	if f.config.Endpoint == "" {
		f.logger.Info("Command captured", slog.String("text", cmd.Text), slog.Bool("has_image", cmd.Image != ""))
		return "", nil
	}

	body, err := json.Marshal(engineRequest{ID: cmd.ID, Text: cmd.Text, Image: cmd.Image})
	if err != nil {
		return "", fmt.Errorf("failed to encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("conversation engine returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return "", nil
	}

	var out engineResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	return out.Text, nil
}

// GetStats returns current forwarder statistics
func (f *Forwarder) GetStats() ForwarderStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return ForwarderStats{
		Endpoint:  f.config.Endpoint,
		Delivered: f.delivered,
		Failed:    f.failed,
		Pending:   f.queue.Len(),
		LastReply: f.lastReply,
	}
}
