package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StreamHeader marks a response as a UI message stream.
const StreamHeader = "x-vercel-ai-ui-message-stream"

// StreamWriter writes events as server-sent events.
type StreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStreamWriter sets the stream headers on w. Headers set on w before
// the first Write are sent with the response.
func NewStreamWriter(w http.ResponseWriter) *StreamWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set(StreamHeader, "v1")
	h.Set("X-Accel-Buffering", "no")

	sw := &StreamWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Write sends one event and flushes.
func (s *StreamWriter) Write(ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Done terminates the stream.
func (s *StreamWriter) Done() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

// WriteAll sends events followed by the terminator.
func (s *StreamWriter) WriteAll(events []Event) error {
	for _, ev := range events {
		if err := s.Write(ev); err != nil {
			return err
		}
	}
	return s.Done()
}

func (s *StreamWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
