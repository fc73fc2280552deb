package trigger

import (
	"strings"
	"testing"
)

func newMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := New(Config{
		StartPhrases: []string{"hello world"},
		EndPhrases:   []string{"goodbye world"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func feedAll(m *Machine, increments []string) []string {
	var commands []string
	for _, inc := range increments {
		if cmd, ok := m.Feed(inc); ok {
			commands = append(commands, cmd)
		}
	}
	return commands
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"no start phrases", Config{EndPhrases: []string{"bye"}}},
		{"no end phrases", Config{StartPhrases: []string{"hi"}}},
		{"blank start phrase", Config{StartPhrases: []string{"  "}, EndPhrases: []string{"bye"}}},
		{"blank end phrase", Config{StartPhrases: []string{"hi"}, EndPhrases: []string{"bye", ""}}},
		{"idle limit too small", Config{StartPhrases: []string{"hello world"}, EndPhrases: []string{"bye"}, MaxIdleChars: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.config); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestFeedSingleIncrement(t *testing.T) {
	m := newMachine(t)

	cmd, ok := m.Feed("hello world nice to meet you goodbye world")
	if !ok {
		t.Fatal("Expected a command")
	}

	if cmd != "Nice to meet you" {
		t.Errorf("Expected 'Nice to meet you', got %q", cmd)
	}

	if m.State() != Idle {
		t.Errorf("Expected Idle after emission, got %s", m.State())
	}

	if m.Buffer() != "" {
		t.Errorf("Expected empty buffer after emission, got %q", m.Buffer())
	}
}

func TestFeedIncrementalEquivalence(t *testing.T) {
	incremental := newMachine(t)
	commands := feedAll(incremental, []string{"hello ", "world foo ", "bar goodbye world"})

	single := newMachine(t)
	want, ok := single.Feed("hello world foo bar goodbye world")
	if !ok {
		t.Fatal("Expected single-shot command")
	}

	if len(commands) != 1 {
		t.Fatalf("Expected 1 command, got %d: %v", len(commands), commands)
	}

	if commands[0] != want {
		t.Errorf("Expected %q, got %q", want, commands[0])
	}

	if want != "Foo bar" {
		t.Errorf("Expected 'Foo bar', got %q", want)
	}
}

func TestFeedStates(t *testing.T) {
	m := newMachine(t)

	if _, ok := m.Feed("well"); ok {
		t.Error("Expected no command")
	}
	if m.State() != Idle {
		t.Errorf("Expected Idle, got %s", m.State())
	}

	if _, ok := m.Feed("Hello World, turn on"); ok {
		t.Error("Expected no command")
	}
	if m.State() != Armed {
		t.Errorf("Expected Armed, got %s", m.State())
	}

	cmd, ok := m.Feed("the lights. Goodbye World")
	if !ok {
		t.Fatal("Expected a command")
	}
	if cmd != "Turn on the lights." {
		t.Errorf("Expected 'Turn on the lights.', got %q", cmd)
	}
}

func TestEndBeforeStartIsIgnored(t *testing.T) {
	m := newMachine(t)

	if _, ok := m.Feed("goodbye world hello world what time is it"); ok {
		t.Fatal("Expected no command for an end phrase before the start phrase")
	}

	if m.State() != Armed {
		t.Errorf("Expected Armed, got %s", m.State())
	}

	if !strings.HasPrefix(m.Buffer(), "goodbye world") {
		t.Errorf("Expected buffer to be kept, got %q", m.Buffer())
	}

	if m.GetStats().StaleEnds != 1 {
		t.Errorf("Expected 1 stale end, got %d", m.GetStats().StaleEnds)
	}

	cmd, ok := m.Feed("goodbye world")
	if !ok {
		t.Fatal("Expected a command once the end phrase follows the start phrase")
	}
	if cmd != "What time is it" {
		t.Errorf("Expected 'What time is it', got %q", cmd)
	}
}

func TestNoEmissionAfterReset(t *testing.T) {
	m := newMachine(t)

	if _, ok := m.Feed("hello world one goodbye world"); !ok {
		t.Fatal("Expected first command")
	}

	if _, ok := m.Feed("goodbye world"); ok {
		t.Error("Expected no command without a new start phrase")
	}

	if m.State() != Idle {
		t.Errorf("Expected Idle, got %s", m.State())
	}
}

func TestBlankIncrementsChangeNothing(t *testing.T) {
	m := newMachine(t)
	m.Feed("hello world stop")

	before := m.Buffer()
	for _, inc := range []string{"", "   ", "\n\t"} {
		if _, ok := m.Feed(inc); ok {
			t.Errorf("Expected no command for %q", inc)
		}
	}

	if m.Buffer() != before {
		t.Errorf("Expected buffer %q, got %q", before, m.Buffer())
	}

	cmd, ok := m.Feed("goodbye world")
	if !ok || cmd != "Stop" {
		t.Errorf("Expected 'Stop', got %q (ok=%v)", cmd, ok)
	}
}

func TestFirstStartAndLastEnd(t *testing.T) {
	m, err := New(Config{
		StartPhrases: []string{"computer", "hey computer"},
		EndPhrases:   []string{"over", "thanks"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	cmd, ok := m.Feed("hey computer play music over there thanks")
	if !ok {
		t.Fatal("Expected a command")
	}

	// the earliest start phrase wins and the last end phrase closes the command
	if cmd != "Play music over there" {
		t.Errorf("Expected 'Play music over there', got %q", cmd)
	}
}

func TestStartTieGoesToLongestPhrase(t *testing.T) {
	m, err := New(Config{
		StartPhrases: []string{"hey", "hey there"},
		EndPhrases:   []string{"done"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	cmd, ok := m.Feed("hey there open the door done")
	if !ok {
		t.Fatal("Expected a command")
	}
	if cmd != "Open the door" {
		t.Errorf("Expected 'Open the door', got %q", cmd)
	}
}

func TestWidthChangingRunesKeepOffsets(t *testing.T) {
	m, err := New(Config{
		StartPhrases: []string{"hello"},
		EndPhrases:   []string{"bye"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name      string
		increment string
		expected  string
	}{
		// Ⱥ grows and İ shrinks when lowered
		{"growing and shrinking runes cancel", "Ⱥ hello foo bye İ", "Foo"},
		{"growing rune before start", "ȺȺȺ hello Bar baz bye", "Bar baz"},
		{"shrinking rune inside command", "hello İstanbul bye", "Istanbul"},
		{"mixed case phrases", "HELLO Dinner BYE", "Dinner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := m.Feed(tt.increment)
			if !ok {
				t.Fatalf("Expected a command from %q", tt.increment)
			}
			if cmd != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, cmd)
			}
		})
	}
}

func TestCleanCommand(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{" nice to meet you ", "Nice to meet you"},
		{", ... what is this,, ", "What is this"},
		{"   ", ""},
		{"élan vital", "Élan vital"},
		{"done.", "Done."},
	}

	for _, tt := range tests {
		if got := cleanCommand(tt.input); got != tt.expected {
			t.Errorf("cleanCommand(%q): expected %q, got %q", tt.input, tt.expected, got)
		}
	}
}

func TestSubstringMatchInsideWord(t *testing.T) {
	m, err := New(Config{StartPhrases: []string{"go"}, EndPhrases: []string{"stop"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// "go" matches inside "good"
	cmd, ok := m.Feed("good morning stop")
	if !ok {
		t.Fatal("Expected a command")
	}
	if cmd != "Od morning" {
		t.Errorf("Expected 'Od morning', got %q", cmd)
	}
}

func TestIdleBufferIsBounded(t *testing.T) {
	m, err := New(Config{
		StartPhrases: []string{"hello world"},
		EndPhrases:   []string{"goodbye world"},
		MaxIdleChars: 64,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 100; i++ {
		m.Feed("some unrelated chatter")
		if m.GetStats().BufferLen > 64+len(" some unrelated chatter") {
			t.Fatalf("Expected bounded buffer, got %d bytes", m.GetStats().BufferLen)
		}
	}

	// a start phrase split across increments survives trimming
	m.Feed("and then hello")
	m.Feed("world lights off goodbye world")

	if got := m.GetStats().Emitted; got != 1 {
		t.Errorf("Expected 1 emitted command, got %d", got)
	}
}

func TestIncrementalScanFindsPhraseAcrossIncrements(t *testing.T) {
	m := newMachine(t)

	for _, inc := range []string{"he", "llo", "wor", "ld"} {
		m.Feed(inc)
	}

	// increments are joined with spaces, so the phrase is not present
	if m.State() != Idle {
		t.Errorf("Expected Idle, got %s", m.State())
	}

	m.Feed("hello")
	m.Feed("world, dim the lights goodbye world")
	if m.GetStats().Emitted != 1 {
		t.Errorf("Expected 1 emitted command, got %d", m.GetStats().Emitted)
	}
}

func TestReset(t *testing.T) {
	m := newMachine(t)
	m.Feed("hello world partial")

	m.Reset()

	if m.State() != Idle || m.Buffer() != "" {
		t.Errorf("Expected empty Idle machine, got %s %q", m.State(), m.Buffer())
	}

	if _, ok := m.Feed("goodbye world"); ok {
		t.Error("Expected no command after Reset")
	}
}
