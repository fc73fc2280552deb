package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voicegate/internal/audio"
)

var mockSTTCmd = &cobra.Command{
	Use:   "mock-stt",
	Short: "Serve scripted transcripts for local testing",
	Long: `Starts an HTTP transcription endpoint that answers each uploaded clip with
the next line of a script file, cycling when the script ends. Point
transcription.endpoint at it to exercise the pipeline without a real model.`,
	Args: cobra.NoArgs,
	RunE: runMockSTT,
}

func init() {
	mockSTTCmd.Flags().Int("port", 9000, "Port to listen on")
	mockSTTCmd.Flags().String("script", "", "File with one transcript per line (blank lines answer silence)")
	mockSTTCmd.Flags().Duration("delay", 200*time.Millisecond, "Simulated processing time per clip")
}

// transcriptScript hands out transcripts in order, cycling at the end
type transcriptScript struct {
	mu    sync.Mutex
	lines []string
	next  int
}

func readScript(r io.Reader) (*transcriptScript, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &transcriptScript{lines: lines}, nil
}

func (s *transcriptScript) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.lines) == 0 {
		return ""
	}
	line := s.lines[s.next]
	s.next = (s.next + 1) % len(s.lines)
	return line
}

type mockResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

// mockTranscribeHandler answers multipart uploads carrying a WAV "file" field
func mockTranscribeHandler(script *transcriptScript, delay time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		duration, err := audio.GetWAVDuration(data)
		if err != nil {
			http.Error(w, "Invalid WAV data", http.StatusBadRequest)
			return
		}

		time.Sleep(delay)

		resp := mockResponse{Text: script.Next(), Duration: duration.Seconds()}
		logger.Info("Transcription request served",
			slog.Int("bytes", len(data)),
			slog.Duration("audio", duration),
			slog.String("model", r.FormValue("model")),
			slog.String("text", resp.Text))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func runMockSTT(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")
	scriptPath, _ := cmd.Flags().GetString("script")
	delay, _ := cmd.Flags().GetDuration("delay")

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With(slog.String("component", "mock-stt"))

	script := &transcriptScript{}
	if scriptPath != "" {
		f, err := os.Open(scriptPath)
		if err != nil {
			return fmt.Errorf("failed to open script: %w", err)
		}
		script, err = readScript(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", mockTranscribeHandler(script, delay, logger))

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Mock transcription server starting",
		slog.String("endpoint", fmt.Sprintf("http://localhost%s/v1/audio/transcriptions", addr)),
		slog.Int("script_lines", len(script.lines)))

	return http.ListenAndServe(addr, mux)
}
