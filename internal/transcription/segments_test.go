package transcription

import "testing"

func TestJoinSegments(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		expected string
	}{
		{"empty", nil, ""},
		{"single", []string{" hello world "}, "hello world"},
		{"joined", []string{"hello", "world"}, "hello world"},
		{"annotations skipped", []string{"[BLANK_AUDIO]", "hello", "(music)", "there"}, "hello there"},
		{"repeats skipped", []string{"okay", "okay", "go"}, "okay go"},
		{"blank skipped", []string{"  ", "hi"}, "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JoinSegments(tt.segments); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}
