package vad

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/fft"
)

const fullScale = 32768.0

// Speech band used by the spectral check, in Hz
const (
	speechBandLow  = 300.0
	speechBandHigh = 3400.0
)

// Config contains silence filter parameters
type Config struct {
	// Threshold is the RMS level relative to full scale a window must reach
	Threshold       float32
	Window          time.Duration
	SampleRate      int
	MinVoiceWindows int
	// MinBandRatio is the share of spectral power that must fall in the
	// speech band; zero disables the spectral check
	MinBandRatio float64
}

// Processor provides voice activity detection from window energy and the
// share of that energy inside the speech band
type Processor struct {
	threshold       float32
	windowSize      int // samples per window
	overlapSize     int // overlap samples (50%)
	sampleRate      int
	minVoiceWindows int
	minBandRatio    float64
	smoothing       float32 // weight of the newest window

	// Statistics
	totalClips    uint64
	voiceClips    uint64
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result describes one analysed clip
type Result struct {
	Windows        int           `json:"windows"`
	VoiceWindows   int           `json:"voice_windows"`
	PeakEnergy     float32       `json:"peak_energy"`
	HasVoice       bool          `json:"has_voice"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalClips      uint64    `json:"total_clips"`
	VoiceClips      uint64    `json:"voice_clips"`
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
	MinBandRatio    float64   `json:"min_band_ratio"`
}

// NewProcessor creates a processor
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %f", cfg.Threshold)
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}

	windowSize := int(int64(cfg.SampleRate) * int64(cfg.Window) / int64(time.Second))
	if windowSize < 2 {
		return nil, fmt.Errorf("window %v is too short for %d Hz", cfg.Window, cfg.SampleRate)
	}

	if cfg.MinVoiceWindows < 1 {
		return nil, fmt.Errorf("min voice windows must be at least 1, got %d", cfg.MinVoiceWindows)
	}

	if cfg.MinBandRatio < 0 || cfg.MinBandRatio > 1 {
		return nil, fmt.Errorf("min band ratio must be in [0, 1], got %f", cfg.MinBandRatio)
	}

	return &Processor{
		threshold:       cfg.Threshold,
		windowSize:      windowSize,
		overlapSize:     windowSize / 2,
		sampleRate:      cfg.SampleRate,
		minVoiceWindows: cfg.MinVoiceWindows,
		minBandRatio:    cfg.MinBandRatio,
		smoothing:       0.5,
	}, nil
}

// Analyze scores every window of the clip. A clip shorter than one window is
// scored as a single window.
func (p *Processor) Analyze(samples []int16) Result {
	startTime := time.Now()

	p.mu.RLock()
	threshold := p.threshold
	p.mu.RUnlock()

	var result Result
	if len(samples) == 0 {
		p.record(result)
		return result
	}

	hop := p.windowSize - p.overlapSize
	var smoothed float32
	for start := 0; ; start += hop {
		end := start + p.windowSize
		if end > len(samples) {
			end = len(samples)
		}

		window := samples[start:end]
		energy := rmsEnergy(window)
		if energy > result.PeakEnergy {
			result.PeakEnergy = energy
		}

		if result.Windows == 0 {
			smoothed = energy
		} else {
			smoothed = p.smoothing*energy + (1-p.smoothing)*smoothed
		}

		result.Windows++
		if smoothed >= threshold && p.inSpeechBand(window) {
			result.VoiceWindows++
		}

		if end == len(samples) {
			break
		}
	}

	need := p.minVoiceWindows
	if result.Windows < need {
		// short clips only need every window voiced
		need = result.Windows
	}
	result.HasVoice = result.VoiceWindows >= need
	result.ProcessingTime = time.Since(startTime)

	p.record(result)
	return result
}

// HasVoice reports whether the clip is worth transcribing
func (p *Processor) HasVoice(samples []int16) bool {
	return p.Analyze(samples).HasVoice
}

func (p *Processor) record(r Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalClips++
	if r.HasVoice {
		p.voiceClips++
	}
	p.totalWindows += uint64(r.Windows)
	p.voiceWindows += uint64(r.VoiceWindows)
	p.lastProcessed = time.Now()
}

// inSpeechBand reports whether enough of the window's power lies in the
// speech band. Silent windows have no power and are never in band.
func (p *Processor) inSpeechBand(window []int16) bool {
	if p.minBandRatio == 0 {
		return true
	}
	return bandRatio(window, p.sampleRate) >= p.minBandRatio
}

// bandRatio returns the share of spectral power between speechBandLow and
// speechBandHigh, ignoring DC
func bandRatio(window []int16, sampleRate int) float64 {
	x := make([]float64, len(window))
	for i, s := range window {
		x[i] = float64(s)
	}

	spectrum := fft.FFTReal(x)
	n := len(x)

	var total, band float64
	for k := 1; k <= n/2; k++ {
		power := cmplx.Abs(spectrum[k])
		power *= power

		total += power
		freq := float64(k) * float64(sampleRate) / float64(n)
		if freq >= speechBandLow && freq <= speechBandHigh {
			band += power
		}
	}

	if total == 0 {
		return 0
	}
	return band / total
}

// rmsEnergy returns the RMS level of samples relative to full scale
func rmsEnergy(samples []int16) float32 {
	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	energy = math.Sqrt(energy/float64(len(samples))) / fullScale

	if energy > 1.0 {
		energy = 1.0
	}
	return float32(energy)
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalClips:      p.totalClips,
		VoiceClips:      p.voiceClips,
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
		MinBandRatio:    p.minBandRatio,
	}
}

// UpdateThreshold updates the voice detection threshold
func (p *Processor) UpdateThreshold(threshold float32) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %f", threshold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.threshold = threshold
	return nil
}

// GetThreshold returns the current voice detection threshold
func (p *Processor) GetThreshold() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// GetWindowSize returns the window size in samples
func (p *Processor) GetWindowSize() int {
	return p.windowSize
}

// Reset clears the statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalClips = 0
	p.voiceClips = 0
	p.totalWindows = 0
	p.voiceWindows = 0
	p.lastProcessed = time.Time{}
}
