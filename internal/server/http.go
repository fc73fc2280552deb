package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voicegate/internal/audio"
	"github.com/skypro1111/voicegate/internal/config"
	"github.com/skypro1111/voicegate/internal/dispatch"
	"github.com/skypro1111/voicegate/internal/metrics"
	"github.com/skypro1111/voicegate/internal/pipeline"
	"github.com/skypro1111/voicegate/internal/scheduler"
	"github.com/skypro1111/voicegate/internal/session"
	"github.com/skypro1111/voicegate/internal/source"
	"github.com/skypro1111/voicegate/internal/trigger"
	"github.com/skypro1111/voicegate/internal/vad"
)

// Sources are the components the API reports on. Only Flags is required.
type Sources struct {
	Flags      *session.Flags
	Aggregator interface{ GetStats() audio.AggregatorStats }
	Scheduler  interface{ GetStats() scheduler.Stats }
	Trigger    interface{ GetStats() trigger.Stats }
	Pipeline   interface{ GetStats() pipeline.Stats }
	Forwarder  interface{ GetStats() dispatch.ForwarderStats }
	VAD        interface{ GetStats() vad.ProcessorStats }
	Network    interface{ GetStats() source.UDPStats }
}

// HTTPServer provides HTTP API endpoints for monitoring and control
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	sources  Sources
	hub      *Hub
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	sources Sources, hub *Hub, gatherer prometheus.Gatherer, m *metrics.Metrics) (*HTTPServer, error) {

	if sources.Flags == nil {
		return nil, fmt.Errorf("session flags are required")
	}

	if hub == nil {
		hub = NewHub(logger)
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sources:   sources,
		hub:       hub,
		gatherer:  gatherer,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h, nil
}

// Handler returns the route multiplexer
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/listening", h.withMetrics("/listening", h.handleListening))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// event stream connections are long lived, so they are not timed
	mux.Handle("/events", h.hub)

	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.hub.Close()
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "healthy"
	code := http.StatusOK

	workers := map[string]interface{}{"status": "not configured"}
	if h.sources.Scheduler != nil {
		stats := h.sources.Scheduler.GetStats()
		alive := 0
		for _, sl := range stats.Slots {
			if sl.Health != scheduler.Dead.String() {
				alive++
			}
		}
		workers = map[string]interface{}{
			"alive":     alive,
			"failovers": stats.Failovers,
		}
		if alive < len(stats.Slots) {
			status = "degraded"
		}
	}

	if !h.sources.Flags.Running() {
		status = "stopped"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "voicegate",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session": map[string]interface{}{
				"running":   h.sources.Flags.Running(),
				"listening": h.sources.Flags.Listening(),
			},
			"workers": workers,
			"events":  h.hub.GetStats(),
		},
	})
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"running":   h.sources.Flags.Running(),
		"listening": h.sources.Flags.Listening(),
		"events":    h.hub.GetStats(),
	}

	if h.sources.Aggregator != nil {
		status["aggregator"] = h.sources.Aggregator.GetStats()
	}
	if h.sources.Scheduler != nil {
		status["scheduler"] = h.sources.Scheduler.GetStats()
	}
	if h.sources.Trigger != nil {
		status["trigger"] = h.sources.Trigger.GetStats()
	}
	if h.sources.Pipeline != nil {
		status["pipeline"] = h.sources.Pipeline.GetStats()
	}
	if h.sources.Forwarder != nil {
		status["dispatch"] = h.sources.Forwarder.GetStats()
	}
	if h.sources.VAD != nil {
		status["vad"] = h.sources.VAD.GetStats()
	}
	if h.sources.Network != nil {
		status["network"] = h.sources.Network.GetStats()
	}

	writeJSON(w, http.StatusOK, status)
}

type listeningRequest struct {
	Listening *bool `json:"listening"`
}

// handleListening implements the /listening endpoint. POST with
// {"listening": bool} sets the flag; an empty body toggles it.
func (h *HTTPServer) handleListening(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1024))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}

		if strings.TrimSpace(string(body)) == "" {
			v := h.sources.Flags.ToggleListening()
			h.logger.Info("Listening toggled via API", slog.Bool("listening", v))
			break
		}

		var req listeningRequest
		if err := json.Unmarshal(body, &req); err != nil || req.Listening == nil {
			http.Error(w, `Expected {"listening": true|false}`, http.StatusBadRequest)
			return
		}

		if h.sources.Flags.SetListening(*req.Listening) {
			h.logger.Info("Listening set via API", slog.Bool("listening", *req.Listening))
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listening": h.sources.Flags.Listening(),
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.config == nil {
		http.Error(w, "Configuration not available", http.StatusNotFound)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"audio": h.config.Audio,
		"source": map[string]interface{}{
			"type":        h.config.Source.Type,
			"realtime":    h.config.Source.Realtime,
			"udp_address": h.config.Source.UDPAddress,
			"udp_port":    h.config.Source.UDPPort,
		},
		"trigger":   h.config.Trigger,
		"vad":       h.config.VAD,
		"scheduler": h.config.Scheduler,
		"transcription": map[string]interface{}{
			"backend":     h.config.Transcription.Backend,
			"endpoint":    h.config.Transcription.Endpoint,
			"model":       h.config.Transcription.Model,
			"language":    h.config.Transcription.Language,
			"timeout":     h.config.Transcription.Timeout,
			"max_retries": h.config.Transcription.MaxRetries,
			// Note: API key is intentionally omitted for security
		},
		"dispatch": map[string]interface{}{
			"endpoint":        h.config.Dispatch.Endpoint,
			"timeout":         h.config.Dispatch.Timeout,
			"picture_phrases": h.config.Dispatch.PicturePhrases,
		},
		"recording": h.config.Recording,
		"logging":   h.config.Logging,
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "voicegate",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":           "API documentation",
			"GET /health":     "Service health check",
			"GET /status":     "Session, pipeline component and dispatch statistics",
			"GET /listening":  "Current listening state",
			"POST /listening": `Set listening with {"listening": bool}, or toggle with an empty body`,
			"GET /config":     "Sanitized configuration",
			"GET /events":     "Websocket stream of transcript, command, response, listening and fatal events",
			"GET /metrics":    "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
