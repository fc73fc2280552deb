package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// BackpressurePolicy decides what happens to a frame offered to a full queue
type BackpressurePolicy int

const (
	// DropIncoming discards the incoming frame
	DropIncoming BackpressurePolicy = iota
	// PauseListening closes the listening gate and discards the incoming frame
	PauseListening
)

// ParseBackpressurePolicy converts a configuration value into a policy
func ParseBackpressurePolicy(s string) (BackpressurePolicy, error) {
	switch s {
	case "drop":
		return DropIncoming, nil
	case "pause":
		return PauseListening, nil
	default:
		return 0, fmt.Errorf("unknown backpressure policy %q", s)
	}
}

func (p BackpressurePolicy) String() string {
	switch p {
	case DropIncoming:
		return "drop"
	case PauseListening:
		return "pause"
	default:
		return fmt.Sprintf("BackpressurePolicy(%d)", int(p))
	}
}

// OfferResult reports what the aggregator did with an offered frame
type OfferResult int

const (
	Accepted OfferResult = iota
	Gated                // listening is off, frame ignored
	Dropped              // queue full, frame discarded
	Paused               // queue full, frame discarded and listening turned off
)

func (r OfferResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Gated:
		return "gated"
	case Dropped:
		return "dropped"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("OfferResult(%d)", int(r))
	}
}

// Gate is the listening flag as seen by the aggregator
type Gate interface {
	Listening() bool
	SetListening(v bool) bool
}

// Frame is a fixed-duration block of mono PCM-16 samples. Frames are not
// modified after they are offered.
type Frame struct {
	Samples    []int16
	SampleRate int
	CapturedAt time.Time
}

// Clip is the concatenation of drained frames in arrival order
type Clip struct {
	Samples    []int16
	SampleRate int
	Frames     int
	Duration   time.Duration
}

// AggregatorConfig contains configuration for the frame aggregator
type AggregatorConfig struct {
	Capacity      int
	FrameDuration time.Duration
	Policy        BackpressurePolicy
}

// Aggregator buffers frames while listening is on and concatenates them on demand
type Aggregator struct {
	config AggregatorConfig
	gate   Gate
	frames chan Frame

	// drains are serialized; offers never take this lock
	drainMu sync.Mutex

	// paused is set when a full queue closed the gate. The backlog is then
	// drained regardless of the gate and the drain reopens it.
	pauseMu sync.Mutex
	paused  bool

	accepted atomic.Uint64
	dropped  atomic.Uint64
	drained  atomic.Uint64
}

// AggregatorStats represents aggregator statistics for monitoring
type AggregatorStats struct {
	Capacity       int    `json:"capacity"`
	Queued         int    `json:"queued"`
	FramesAccepted uint64 `json:"frames_accepted"`
	FramesDropped  uint64 `json:"frames_dropped"`
	FramesDrained  uint64 `json:"frames_drained"`
	Policy         string `json:"backpressure_policy"`
	Paused         bool   `json:"paused"`
}

// NewAggregator creates a new frame aggregator bound to a listening gate
func NewAggregator(config AggregatorConfig, gate Gate) (*Aggregator, error) {
	if config.Capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1, got %d", config.Capacity)
	}

	if config.FrameDuration <= 0 {
		return nil, fmt.Errorf("frame duration must be positive, got %v", config.FrameDuration)
	}

	if gate == nil {
		return nil, fmt.Errorf("gate is nil")
	}

	return &Aggregator{
		config: config,
		gate:   gate,
		frames: make(chan Frame, config.Capacity),
	}, nil
}

// Offer queues a frame while listening is on. It never blocks the producer.
func (a *Aggregator) Offer(frame Frame) OfferResult {
	if !a.gate.Listening() {
		return Gated
	}

	select {
	case a.frames <- frame:
		a.accepted.Add(1)
		return Accepted
	default:
	}

	a.dropped.Add(1)
	if a.config.Policy == PauseListening {
		a.pauseMu.Lock()
		a.paused = true
		a.gate.SetListening(false)
		a.pauseMu.Unlock()
		return Paused
	}
	return Dropped
}

// Ready reports whether listening is on and at least minFrames are queued, or
// whether a paused backlog is waiting to be drained
func (a *Aggregator) Ready(minFrames int) bool {
	if a.Paused() {
		return true
	}
	return a.gate.Listening() && len(a.frames) >= minFrames
}

// Paused reports whether backpressure closed the gate and the backlog has not
// been drained yet
func (a *Aggregator) Paused() bool {
	a.pauseMu.Lock()
	defer a.pauseMu.Unlock()
	return a.paused
}

func (a *Aggregator) resume() {
	a.pauseMu.Lock()
	defer a.pauseMu.Unlock()

	if a.paused {
		a.paused = false
		a.gate.SetListening(true)
	}
}

// DrainAndConcat removes every frame queued at the time of the call and
// concatenates them in arrival order. The clip duration is the frame count
// times the configured frame duration. It returns false when nothing is queued.
// Draining a paused backlog reopens the gate.
func (a *Aggregator) DrainAndConcat() (Clip, bool) {
	a.drainMu.Lock()
	defer a.drainMu.Unlock()
	defer a.resume()

	n := len(a.frames)
	if n == 0 {
		return Clip{}, false
	}

	batch := make([]Frame, 0, n)
	total := 0
	for i := 0; i < n; i++ {
		frame := <-a.frames
		batch = append(batch, frame)
		total += len(frame.Samples)
	}

	samples := make([]int16, 0, total)
	for _, frame := range batch {
		samples = append(samples, frame.Samples...)
	}

	a.drained.Add(uint64(n))

	return Clip{
		Samples:    samples,
		SampleRate: batch[0].SampleRate,
		Frames:     n,
		Duration:   time.Duration(n) * a.config.FrameDuration,
	}, true
}

// Len returns the number of queued frames
func (a *Aggregator) Len() int {
	return len(a.frames)
}

// GetStats returns current aggregator statistics
func (a *Aggregator) GetStats() AggregatorStats {
	return AggregatorStats{
		Capacity:       a.config.Capacity,
		Queued:         len(a.frames),
		FramesAccepted: a.accepted.Load(),
		FramesDropped:  a.dropped.Load(),
		FramesDrained:  a.drained.Load(),
		Paused:         a.Paused(),
		Policy:         a.config.Policy.String(),
	}
}
