package pipeline

import "time"

// Event types published to the event feed
const (
	EventTranscript = "transcript"
	EventCommand    = "command"
	EventResponse   = "response"
	EventListening  = "listening"
	EventFatal      = "fatal"
)

// Event is one entry of the live event feed
type Event struct {
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	CommandID string    `json:"command_id,omitempty"`
	Listening *bool     `json:"listening,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// EventSink receives pipeline events. Publish must not block.
type EventSink interface {
	Publish(e Event)
}

// ListeningEvent reports a listening transition
func ListeningEvent(listening bool) Event {
	return Event{Type: EventListening, Listening: &listening, Time: time.Now()}
}

// ResponseEvent reports the conversation engine's answer to a command
func ResponseEvent(commandID, text string, err error) Event {
	e := Event{Type: EventResponse, CommandID: commandID, Text: text, Time: time.Now()}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
