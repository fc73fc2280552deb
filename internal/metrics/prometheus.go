package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for voicegate. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Aggregator metrics
	FramesOffered *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	ClipsDrained  prometheus.Counter
	ClipDuration  prometheus.Histogram
	ClipsSilent   prometheus.Counter
	Listening     prometheus.Gauge

	// Scheduler metrics
	TranscriptionJobs     *prometheus.CounterVec
	TranscriptionLatency  prometheus.Histogram
	WorkerTimeouts        *prometheus.CounterVec
	Failovers             prometheus.Counter
	WorkerRespawnFailures prometheus.Counter
	WorkersAlive          prometheus.Gauge

	// Trigger and dispatch metrics
	CommandsEmitted  prometheus.Counter
	CommandsDropped  prometheus.Counter
	DispatchDuration prometheus.Histogram
	DispatchFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Aggregator metrics
		FramesOffered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicegate_frames_offered_total",
			Help: "Total number of audio frames offered to the aggregator by outcome",
		}, []string{"result"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicegate_frame_queue_depth",
			Help: "Current number of frames waiting in the aggregator",
		}),
		ClipsDrained: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_clips_drained_total",
			Help: "Total number of clips drained from the aggregator",
		}),
		ClipDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicegate_clip_duration_seconds",
			Help:    "Duration of drained clips",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~1 minute
		}),
		ClipsSilent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_clips_silent_total",
			Help: "Total number of drained clips skipped by the silence filter",
		}),
		Listening: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicegate_listening",
			Help: "1 while the listening gate is open",
		}),

		// Scheduler metrics
		TranscriptionJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicegate_transcription_jobs_total",
			Help: "Total number of transcription jobs by outcome",
		}, []string{"outcome"}),
		TranscriptionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicegate_transcription_latency_seconds",
			Help:    "Time from submission to result, failover included",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		WorkerTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicegate_worker_timeouts_total",
			Help: "Total number of worker timeouts by role",
		}, []string{"role"}),
		Failovers: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_failovers_total",
			Help: "Total number of failovers from the active to the backup worker",
		}),
		WorkerRespawnFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_worker_respawn_failures_total",
			Help: "Total number of failed worker respawns",
		}),
		WorkersAlive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicegate_workers_alive",
			Help: "Current number of live worker processes",
		}),

		// Trigger and dispatch metrics
		CommandsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_commands_emitted_total",
			Help: "Total number of commands recognized between start and end phrases",
		}),
		CommandsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_commands_dropped_total",
			Help: "Total number of commands dropped because the dispatch slot was occupied",
		}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicegate_dispatch_duration_seconds",
			Help:    "Time the conversation engine took to answer a command",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		DispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_dispatch_failures_total",
			Help: "Total number of commands the conversation engine failed to answer",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicegate_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicegate_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicegate_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameOffered counts one offered frame by its outcome
func (m *Metrics) RecordFrameOffered(result string) {
	if m == nil {
		return
	}
	m.FramesOffered.WithLabelValues(result).Inc()
}

// SetQueueDepth sets the current aggregator depth
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordClipDrained records a drained clip
func (m *Metrics) RecordClipDrained(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ClipsDrained.Inc()
	m.ClipDuration.Observe(durationSeconds)
}

// RecordClipSilent counts a clip the silence filter kept from transcription
func (m *Metrics) RecordClipSilent() {
	if m == nil {
		return
	}
	m.ClipsSilent.Inc()
}

// SetListening mirrors the listening flag
func (m *Metrics) SetListening(listening bool) {
	if m == nil {
		return
	}
	if listening {
		m.Listening.Set(1)
	} else {
		m.Listening.Set(0)
	}
}

// RecordTranscriptionJob records a finished Submit call
func (m *Metrics) RecordTranscriptionJob(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionJobs.WithLabelValues(outcome).Inc()
	m.TranscriptionLatency.Observe(latencySeconds)
}

// RecordWorkerTimeout counts a timeout of the active or backup worker
func (m *Metrics) RecordWorkerTimeout(role string) {
	if m == nil {
		return
	}
	m.WorkerTimeouts.WithLabelValues(role).Inc()
}

// RecordFailover increments the failover counter
func (m *Metrics) RecordFailover() {
	if m == nil {
		return
	}
	m.Failovers.Inc()
}

// RecordRespawnFailure increments the respawn failure counter
func (m *Metrics) RecordRespawnFailure() {
	if m == nil {
		return
	}
	m.WorkerRespawnFailures.Inc()
}

// SetWorkersAlive sets the number of live workers
func (m *Metrics) SetWorkersAlive(count int) {
	if m == nil {
		return
	}
	m.WorkersAlive.Set(float64(count))
}

// RecordCommandEmitted increments the emitted commands counter
func (m *Metrics) RecordCommandEmitted() {
	if m == nil {
		return
	}
	m.CommandsEmitted.Inc()
}

// RecordCommandDropped increments the dropped commands counter
func (m *Metrics) RecordCommandDropped() {
	if m == nil {
		return
	}
	m.CommandsDropped.Inc()
}

// RecordDispatch records one conversation engine round trip
func (m *Metrics) RecordDispatch(durationSeconds float64, failed bool) {
	if m == nil {
		return
	}
	m.DispatchDuration.Observe(durationSeconds)
	if failed {
		m.DispatchFailures.Inc()
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
