package transcription

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skypro1111/voicegate/internal/audio"
)

func testClip() audio.Clip {
	return audio.Clip{
		Samples:    make([]int16, 1600),
		SampleRate: 16000,
		Frames:     1,
		Duration:   100 * time.Millisecond,
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	client, err := NewClient(Config{Endpoint: "http://localhost", MaxRetries: -1})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if client.config.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", client.config.Timeout)
	}

	if client.config.MaxRetries != 0 {
		t.Errorf("Expected negative retries clamped to 0, got %d", client.config.MaxRetries)
	}
}

func TestTranscribeSendsMultipartWAV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}

		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Expected bearer token, got %q", got)
		}

		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
			return
		}

		if r.FormValue("model") != "base.en" {
			t.Errorf("Expected model base.en, got %q", r.FormValue("model"))
		}

		if r.FormValue("language") != "en" {
			t.Errorf("Expected language en, got %q", r.FormValue("language"))
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Expected file part: %v", err)
			return
		}
		defer file.Close()

		data, _ := io.ReadAll(file)
		samples, rate, err := audio.DecodeWAV(data)
		if err != nil {
			t.Errorf("Uploaded file is not valid WAV: %v", err)
		} else if rate != 16000 || len(samples) != 1600 {
			t.Errorf("Expected 1600 samples at 16000 Hz, got %d at %d", len(samples), rate)
		}

		json.NewEncoder(w).Encode(Response{Text: " hello world "})
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint: server.URL,
		APIKey:   "secret",
		Model:    "base.en",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	text, err := client.Transcribe(context.Background(), testClip())
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if text != "hello world" {
		t.Errorf("Expected 'hello world', got %q", text)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Expected 1 successful request, got %+v", stats)
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Response{Text: "third time"})
	}))
	defer server.Close()

	client, _ := NewClient(Config{
		Endpoint:    server.URL,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
	})

	text, err := client.Transcribe(context.Background(), testClip())
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}

	if text != "third time" {
		t.Errorf("Expected 'third time', got %q", text)
	}

	if stats := client.GetStats(); stats.TotalRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", stats.TotalRetries)
	}
}

func TestTranscribeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client, _ := NewClient(Config{
		Endpoint:    server.URL,
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
	})

	if _, err := client.Transcribe(context.Background(), testClip()); err == nil {
		t.Fatal("Expected error for 400 response")
	}

	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}

	if stats := client.GetStats(); stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
}

func TestTranscribeRejectsEmptyClip(t *testing.T) {
	client, _ := NewClient(Config{Endpoint: "http://127.0.0.1:1"})

	if _, err := client.Transcribe(context.Background(), audio.Clip{SampleRate: 16000}); err == nil {
		t.Error("Expected error for empty clip")
	}
}

func TestResponseTranscriptFallsBackToSegments(t *testing.T) {
	tests := []struct {
		name     string
		response Response
		expected string
	}{
		{"text only", Response{Text: "  hi  "}, "hi"},
		{"segments only", Response{Segments: []Segment{{Text: " hello "}, {Text: ""}, {Text: "world"}}}, "hello world"},
		{"empty", Response{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.response.Transcript(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"server error", &httpError{StatusCode: 502}, true},
		{"rate limited", &httpError{StatusCode: 429}, true},
		{"not found", &httpError{StatusCode: 404}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}
