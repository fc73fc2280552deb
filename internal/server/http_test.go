package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/voicegate/internal/audio"
	"github.com/skypro1111/voicegate/internal/config"
	"github.com/skypro1111/voicegate/internal/metrics"
	"github.com/skypro1111/voicegate/internal/pipeline"
	"github.com/skypro1111/voicegate/internal/scheduler"
	"github.com/skypro1111/voicegate/internal/session"
)

type stubScheduler struct {
	stats scheduler.Stats
}

func (s stubScheduler) GetStats() scheduler.Stats { return s.stats }

type stubAggregator struct{}

func (stubAggregator) GetStats() audio.AggregatorStats {
	return audio.AggregatorStats{Capacity: 60, Queued: 3}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, sources Sources) (*HTTPServer, *httptest.Server) {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	cfg := &config.Config{}
	cfg.Transcription.APIKey = "secret-key"
	cfg.Transcription.Endpoint = "http://stt.local"

	h, err := NewHTTPServer(config.HTTPConfig{Port: 8080, Address: "127.0.0.1", Enabled: true},
		testLogger(), cfg, sources, NewHub(testLogger()), reg, m)
	if err != nil {
		t.Fatalf("NewHTTPServer failed: %v", err)
	}

	ts := httptest.NewServer(h.Handler())
	t.Cleanup(ts.Close)
	return h, ts
}

func runningFlags(listening bool) *session.Flags {
	flags := session.NewFlags()
	flags.Start(listening)
	return flags
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

func TestNewHTTPServerRequiresFlags(t *testing.T) {
	if _, err := NewHTTPServer(config.HTTPConfig{}, testLogger(), nil, Sources{}, nil, nil, nil); err == nil {
		t.Error("Expected error without flags")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name           string
		running        bool
		slots          []scheduler.SlotStats
		expectedCode   int
		expectedStatus string
	}{
		{
			name:           "healthy",
			running:        true,
			slots:          []scheduler.SlotStats{{Health: "idle"}, {Health: "busy"}},
			expectedCode:   http.StatusOK,
			expectedStatus: "healthy",
		},
		{
			name:           "dead worker",
			running:        true,
			slots:          []scheduler.SlotStats{{Health: "idle"}, {Health: "dead"}},
			expectedCode:   http.StatusOK,
			expectedStatus: "degraded",
		},
		{
			name:           "stopped",
			running:        false,
			slots:          []scheduler.SlotStats{{Health: "idle"}, {Health: "idle"}},
			expectedCode:   http.StatusServiceUnavailable,
			expectedStatus: "stopped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := session.NewFlags()
			if tt.running {
				flags.Start(true)
			}

			_, ts := newTestServer(t, Sources{
				Flags:     flags,
				Scheduler: stubScheduler{stats: scheduler.Stats{Slots: tt.slots}},
			})

			resp, err := http.Get(ts.URL + "/health")
			if err != nil {
				t.Fatalf("GET /health failed: %v", err)
			}

			if resp.StatusCode != tt.expectedCode {
				t.Errorf("Expected status %d, got %d", tt.expectedCode, resp.StatusCode)
			}

			body := decodeBody(t, resp)
			if body["status"] != tt.expectedStatus {
				t.Errorf("Expected %q, got %v", tt.expectedStatus, body["status"])
			}
		})
	}
}

func TestStatusIncludesSources(t *testing.T) {
	_, ts := newTestServer(t, Sources{
		Flags:      runningFlags(true),
		Aggregator: stubAggregator{},
	})

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}

	body := decodeBody(t, resp)
	if body["listening"] != true {
		t.Errorf("Expected listening true, got %v", body["listening"])
	}

	agg, ok := body["aggregator"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected aggregator stats, got %v", body["aggregator"])
	}
	if agg["queued"] != float64(3) {
		t.Errorf("Expected 3 queued frames, got %v", agg["queued"])
	}

	if _, ok := body["scheduler"]; ok {
		t.Error("Expected no scheduler stats when no scheduler is configured")
	}
}

func TestListening(t *testing.T) {
	flags := runningFlags(false)
	_, ts := newTestServer(t, Sources{Flags: flags})

	tests := []struct {
		name          string
		method        string
		body          string
		expectedCode  int
		expectedState bool
	}{
		{"get", http.MethodGet, "", http.StatusOK, false},
		{"toggle on", http.MethodPost, "", http.StatusOK, true},
		{"toggle off", http.MethodPost, "  ", http.StatusOK, false},
		{"set true", http.MethodPost, `{"listening": true}`, http.StatusOK, true},
		{"set true again", http.MethodPost, `{"listening": true}`, http.StatusOK, true},
		{"bad json", http.MethodPost, `{"listening":`, http.StatusBadRequest, true},
		{"missing field", http.MethodPost, `{}`, http.StatusBadRequest, true},
		{"set false", http.MethodPost, `{"listening": false}`, http.StatusOK, false},
		{"wrong method", http.MethodPut, "", http.StatusMethodNotAllowed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, ts.URL+"/listening", strings.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.expectedCode {
				t.Errorf("Expected status %d, got %d", tt.expectedCode, resp.StatusCode)
			}

			if flags.Listening() != tt.expectedState {
				t.Errorf("Expected listening %v, got %v", tt.expectedState, flags.Listening())
			}
		})
	}
}

func TestConfigOmitsAPIKey(t *testing.T) {
	_, ts := newTestServer(t, Sources{Flags: runningFlags(true)})

	resp, err := http.Get(ts.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(raw), "secret-key") {
		t.Error("Expected API key to be omitted from /config")
	}
	if !strings.Contains(string(raw), "http://stt.local") {
		t.Error("Expected transcription endpoint in /config")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, Sources{Flags: runningFlags(true)})

	// produce at least one HTTP metric sample
	if resp, err := http.Get(ts.URL + "/health"); err == nil {
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "voicegate_http_requests_total") {
		t.Errorf("Expected voicegate metrics, got:\n%s", raw)
	}
}

func TestRootAndNotFound(t *testing.T) {
	_, ts := newTestServer(t, Sources{Flags: runningFlags(true)})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	body := decodeBody(t, resp)
	if body["service"] != "voicegate" {
		t.Errorf("Expected service voicegate, got %v", body["service"])
	}

	resp, err = http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestEventsStream(t *testing.T) {
	h, ts := newTestServer(t, Sources{Flags: runningFlags(true)})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.hub.GetStats().Clients != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for client registration")
		}
		time.Sleep(time.Millisecond)
	}

	h.hub.Publish(pipeline.Event{Type: pipeline.EventTranscript, Text: "hello there"})
	h.hub.Publish(pipeline.ListeningEvent(false))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first pipeline.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if first.Type != pipeline.EventTranscript || first.Text != "hello there" {
		t.Errorf("Unexpected first event %+v", first)
	}

	var second pipeline.Event
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if second.Type != pipeline.EventListening || second.Listening == nil || *second.Listening {
		t.Errorf("Unexpected second event %+v", second)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for h.hub.GetStats().Clients != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for client removal")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewHub(testLogger())
	c := &client{send: make(chan pipeline.Event, 1), done: make(chan struct{})}
	hub.register(c)

	hub.Publish(pipeline.Event{Type: pipeline.EventTranscript})
	hub.Publish(pipeline.Event{Type: pipeline.EventTranscript})

	stats := hub.GetStats()
	if stats.Published != 2 || stats.Dropped != 1 {
		t.Errorf("Expected 2 published and 1 dropped, got %+v", stats)
	}
}
