package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/skypro1111/voicegate/internal/audio"
)

// seqHeaderSize is the sequence number prefix of every datagram
const seqHeaderSize = 4

// defaultMaxGap is how many missing packets the sequencer waits for
const defaultMaxGap = 20

// defaultResyncGap is the sequence jump treated as a sender restart
const defaultResyncGap = 1000

// UDPConfig describes a network capture source. Each datagram carries a
// big-endian uint32 sequence number followed by little-endian PCM-16 samples.
type UDPConfig struct {
	Address       string
	Port          int
	SampleRate    int
	FrameDuration time.Duration
	BufferSize    int
	MaxGap        uint32
	ResyncGap     uint32
}

// UDPSource receives audio from a remote capture device
type UDPSource struct {
	config UDPConfig
	logger *slog.Logger
	seq    *sequencer

	// Statistics
	packetsReceived uint64
	parseErrors     uint64
	framesEmitted   uint64
	mu              sync.RWMutex
}

// UDPStats represents UDP source statistics for monitoring
type UDPStats struct {
	PacketsReceived uint64 `json:"packets_received"`
	ParseErrors     uint64 `json:"parse_errors"`
	LostPackets     uint64 `json:"lost_packets"`
	PendingPackets  int    `json:"pending_packets"`
	StreamRestarts  uint64 `json:"stream_restarts"`
	FramesEmitted   uint64 `json:"frames_emitted"`
}

// NewUDPSource creates a network capture source
func NewUDPSource(cfg UDPConfig, logger *slog.Logger) (*UDPSource, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port must be between 0 and 65535, got %d", cfg.Port)
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}

	if FrameSamples(cfg.SampleRate, cfg.FrameDuration) <= 0 {
		return nil, fmt.Errorf("frame duration %v is too short for %d Hz", cfg.FrameDuration, cfg.SampleRate)
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 65536
	}

	if cfg.MaxGap == 0 {
		cfg.MaxGap = defaultMaxGap
	}

	if cfg.ResyncGap == 0 {
		cfg.ResyncGap = defaultResyncGap
	}

	if cfg.ResyncGap <= cfg.MaxGap {
		return nil, fmt.Errorf("resync gap %d must exceed max gap %d", cfg.ResyncGap, cfg.MaxGap)
	}

	return &UDPSource{
		config: cfg,
		logger: logger,
		seq:    newSequencer(cfg.MaxGap, cfg.ResyncGap),
	}, nil
}

// Run listens on the configured address and emits frames until ctx is done
func (s *UDPSource) Run(ctx context.Context, emit func(audio.Frame)) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.Address, s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()))
	}

	return s.Serve(ctx, conn, emit)
}

// Serve reads datagrams from conn until ctx is done
func (s *UDPSource) Serve(ctx context.Context, conn net.PacketConn, emit func(audio.Frame)) error {
	s.logger.Info("UDP audio source started", slog.String("address", conn.LocalAddr().String()))

	frameBytes := FrameSamples(s.config.SampleRate, s.config.FrameDuration) * 2
	buffer := make([]byte, s.config.BufferSize)
	var pending []byte

	for {
		if ctx.Err() != nil {
			s.logStopped()
			return nil
		}

		// Set read deadline to check for context cancellation periodically
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, remote, err := conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				s.logStopped()
				return nil
			}
			return fmt.Errorf("failed to read UDP packet: %w", err)
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()

		seq, pcm, err := parseDatagram(buffer[:n])
		if err == nil {
			var ready []byte
			ready, err = s.seq.Add(seq, pcm)
			pending = append(pending, ready...)
		}
		if err != nil {
			s.mu.Lock()
			s.parseErrors++
			s.mu.Unlock()

			s.logger.Debug("Dropping UDP packet",
				slog.String("remote_addr", remote.String()),
				slog.Int("packet_size", n),
				slog.String("error", err.Error()))
			continue
		}

		for len(pending) >= frameBytes {
			emit(audio.Frame{
				Samples:    decodePCM(pending[:frameBytes]),
				SampleRate: s.config.SampleRate,
				CapturedAt: time.Now(),
			})
			pending = pending[frameBytes:]

			s.mu.Lock()
			s.framesEmitted++
			s.mu.Unlock()
		}
	}
}

func (s *UDPSource) logStopped() {
	stats := s.GetStats()
	s.logger.Info("UDP audio source stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("lost_packets", stats.LostPackets),
		slog.Uint64("stream_restarts", stats.StreamRestarts),
		slog.Uint64("frames_emitted", stats.FramesEmitted))
}

// GetStats returns current source statistics
func (s *UDPSource) GetStats() UDPStats {
	lost, pending, restarts := s.seq.Stats()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return UDPStats{
		PacketsReceived: s.packetsReceived,
		ParseErrors:     s.parseErrors,
		LostPackets:     lost,
		PendingPackets:  pending,
		StreamRestarts:  restarts,
		FramesEmitted:   s.framesEmitted,
	}
}

func parseDatagram(data []byte) (uint32, []byte, error) {
	if len(data) < seqHeaderSize {
		return 0, nil, fmt.Errorf("packet too short: %d bytes", len(data))
	}

	pcm := data[seqHeaderSize:]
	if len(pcm)%2 != 0 {
		return 0, nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(pcm))
	}

	return binary.BigEndian.Uint32(data[:seqHeaderSize]), pcm, nil
}

func decodePCM(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// sequencer restores packet order. Packets ahead of the expected sequence
// number are held until the gap fills or grows past maxGap, at which point the
// missing packets are counted as lost and skipped. A jump of more than resync
// packets in either direction is a sender restart: held packets are flushed
// and numbering starts over from the new packet.
type sequencer struct {
	mu       sync.Mutex
	started  bool
	expected uint32
	held     map[uint32][]byte
	maxGap   uint32
	resync   uint32
	lost     uint64
	restarts uint64
}

func newSequencer(maxGap, resync uint32) *sequencer {
	return &sequencer{
		held:   make(map[uint32][]byte),
		maxGap: maxGap,
		resync: resync,
	}
}

// Add accepts one packet and returns the bytes that are now in order
func (q *sequencer) Add(seq uint32, data []byte) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started {
		q.started = true
		q.expected = seq
	}

	switch {
	case seq == q.expected:
		out := append([]byte(nil), data...)
		q.expected++
		return append(out, q.flushLocked()...), nil

	case seq > q.expected && seq-q.expected <= q.resync:
		q.held[seq] = append([]byte(nil), data...)

		if gap := seq - q.expected; gap > q.maxGap {
			out, n := q.takeHeldLocked(seq)
			q.lost += uint64(gap - uint32(n))
			q.expected = seq
			return append(out, q.flushLocked()...), nil
		}
		return nil, nil

	case seq < q.expected && q.expected-seq <= q.resync:
		return nil, fmt.Errorf("ignoring old or duplicate packet: seq=%d, expected=%d", seq, q.expected)

	default:
		out, _ := q.takeHeldLocked(math.MaxUint32)
		q.restarts++
		q.expected = seq + 1
		return append(out, data...), nil
	}
}

// takeHeldLocked removes held packets numbered below limit and returns their
// bytes in sequence order along with how many there were
func (q *sequencer) takeHeldLocked(limit uint32) ([]byte, int) {
	keys := make([]uint32, 0, len(q.held))
	for k := range q.held {
		if k < limit {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var out []byte
	for _, k := range keys {
		out = append(out, q.held[k]...)
		delete(q.held, k)
	}
	return out, len(keys)
}

func (q *sequencer) flushLocked() []byte {
	var out []byte
	for {
		pkt, ok := q.held[q.expected]
		if !ok {
			return out
		}
		out = append(out, pkt...)
		delete(q.held, q.expected)
		q.expected++
	}
}

// Stats returns the lost packet count, the number of held packets and the
// number of detected sender restarts
func (q *sequencer) Stats() (uint64, int, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lost, len(q.held), q.restarts
}
