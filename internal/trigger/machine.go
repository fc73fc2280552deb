package trigger

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// State of the trigger machine
type State int

const (
	// Idle means no start phrase has been heard since the last reset
	Idle State = iota
	// Armed means a start phrase was heard and the machine waits for an end phrase
	Armed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultMaxIdleChars bounds the buffer while no start phrase was heard
const DefaultMaxIdleChars = 2048

// Config contains the phrase sets
type Config struct {
	StartPhrases []string
	EndPhrases   []string
	// MaxIdleChars bounds the Idle buffer; zero means DefaultMaxIdleChars
	MaxIdleChars int
}

// Machine accumulates transcript increments and extracts the command spoken
// between a start phrase and an end phrase. Matching is case-insensitive and
// substring based, so a phrase may match inside a larger word.
type Machine struct {
	startPhrases []string // lower case
	endPhrases   []string // lower case
	maxStartLen  int
	maxIdleChars int

	mu sync.Mutex

	// buffer and lower always have the same byte length
	buffer strings.Builder
	lower  strings.Builder

	// anchor is the byte offset just past the start phrase, -1 while Idle
	anchor int
	// scanned is how far the Idle scan has looked
	scanned int

	increments uint64
	emitted    uint64
	staleEnds  uint64
}

// Stats represents trigger statistics for monitoring
type Stats struct {
	State      string `json:"state"`
	BufferLen  int    `json:"buffer_len"`
	Increments uint64 `json:"increments"`
	Emitted    uint64 `json:"emitted"`
	StaleEnds  uint64 `json:"stale_ends"`
}

// New creates a trigger machine in the Idle state
func New(cfg Config) (*Machine, error) {
	start, err := normalizePhrases("start", cfg.StartPhrases)
	if err != nil {
		return nil, err
	}

	end, err := normalizePhrases("end", cfg.EndPhrases)
	if err != nil {
		return nil, err
	}

	maxStartLen := 0
	for _, p := range start {
		if len(p) > maxStartLen {
			maxStartLen = len(p)
		}
	}

	maxIdle := cfg.MaxIdleChars
	if maxIdle == 0 {
		maxIdle = DefaultMaxIdleChars
	}
	if maxIdle < maxStartLen {
		return nil, fmt.Errorf("max idle chars %d is shorter than the longest start phrase (%d)", maxIdle, maxStartLen)
	}

	return &Machine{
		startPhrases: start,
		endPhrases:   end,
		maxStartLen:  maxStartLen,
		maxIdleChars: maxIdle,
		anchor:       -1,
	}, nil
}

func normalizePhrases(kind string, phrases []string) ([]string, error) {
	if len(phrases) == 0 {
		return nil, fmt.Errorf("at least one %s phrase is required", kind)
	}

	out := make([]string, 0, len(phrases))
	for i, p := range phrases {
		p = strings.Map(unicode.ToLower, strings.TrimSpace(p))
		if p == "" {
			return nil, fmt.Errorf("%s phrase %d is empty", kind, i)
		}
		out = append(out, p)
	}
	return out, nil
}

// Feed appends one transcript increment and reports a command when the buffer
// holds a start phrase followed by an end phrase. Blank increments change
// nothing.
func (m *Machine) Feed(increment string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	text := strings.TrimSpace(increment)
	if text == "" {
		return "", false
	}

	m.increments++
	m.appendText(text)

	if m.anchor < 0 {
		m.scanStart()
	}

	// start and end may arrive in the same increment
	if m.anchor >= 0 {
		return m.scanEnd()
	}

	m.trimIdle()
	return "", false
}

// Reset clears the buffer and returns to Idle
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.anchor >= 0 {
		return Armed
	}
	return Idle
}

// Buffer returns the accumulated text
func (m *Machine) Buffer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffer.String()
}

// GetStats returns current trigger statistics
func (m *Machine) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := Idle
	if m.anchor >= 0 {
		state = Armed
	}

	return Stats{
		State:      state.String(),
		BufferLen:  m.buffer.Len(),
		Increments: m.increments,
		Emitted:    m.emitted,
		StaleEnds:  m.staleEnds,
	}
}

// appendText writes text to buffer and its lower case form to lower. A rune
// whose encoding changes width when lowered is stored lowered in both, so the
// two builders stay aligned byte for byte.
func (m *Machine) appendText(text string) {
	if m.buffer.Len() > 0 {
		m.buffer.WriteByte(' ')
		m.lower.WriteByte(' ')
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			m.buffer.WriteByte(text[i])
			m.lower.WriteByte(text[i])
			i += size
			continue
		}

		l := unicode.ToLower(r)
		if utf8.RuneLen(l) == size {
			m.buffer.WriteString(text[i : i+size])
		} else {
			m.buffer.WriteRune(l)
		}
		m.lower.WriteRune(l)
		i += size
	}
}

// scanStart looks for the lowest-index start phrase in the part of the buffer
// not covered by earlier scans. Ties at the same index go to the longest phrase.
func (m *Machine) scanStart() {
	lower := m.lower.String()

	from := m.scanned - (m.maxStartLen - 1)
	if from < 0 {
		from = 0
	}

	bestIdx, bestLen := -1, 0
	for _, p := range m.startPhrases {
		idx := strings.Index(lower[from:], p)
		if idx < 0 {
			continue
		}
		idx += from
		if bestIdx < 0 || idx < bestIdx || (idx == bestIdx && len(p) > bestLen) {
			bestIdx, bestLen = idx, len(p)
		}
	}

	m.scanned = len(lower)
	if bestIdx >= 0 {
		m.anchor = bestIdx + bestLen
	}
}

// scanEnd looks for the highest-index end phrase and emits when it lies at or
// after the anchor
func (m *Machine) scanEnd() (string, bool) {
	lower := m.lower.String()

	end := -1
	for _, p := range m.endPhrases {
		if idx := strings.LastIndex(lower, p); idx > end {
			end = idx
		}
	}

	if end < 0 {
		return "", false
	}

	if end < m.anchor {
		m.staleEnds++
		return "", false
	}

	command := cleanCommand(m.buffer.String()[m.anchor:end])
	m.emitted++
	m.reset()
	return command, true
}

// trimIdle drops the head of an Idle buffer that outgrew maxIdleChars. The
// kept tail can still complete a partially heard start phrase.
func (m *Machine) trimIdle() {
	if m.buffer.Len() <= m.maxIdleChars {
		return
	}

	buf := m.buffer.String()
	lower := m.lower.String()

	cut := len(buf) - (m.maxStartLen - 1)
	for cut > 0 && cut < len(buf) && !utf8.RuneStart(buf[cut]) {
		cut--
	}

	m.buffer.Reset()
	m.lower.Reset()
	m.buffer.WriteString(buf[cut:])
	m.lower.WriteString(lower[cut:])
	m.scanned = m.lower.Len()
}

func (m *Machine) reset() {
	m.buffer.Reset()
	m.lower.Reset()
	m.anchor = -1
	m.scanned = 0
}

// cleanCommand strips leading punctuation and whitespace, trailing whitespace
// and commas, and upper-cases the first letter
func cleanCommand(s string) string {
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})

	if s == "" {
		return s
	}

	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
