package chat

import (
	"encoding/json"

	"github.com/fyrsmithlabs/ragcache/internal/semcache"
)

// EventType is a UI message stream part type.
type EventType string

const (
	EventStart     EventType = "start"
	EventCitations EventType = "data-citations"
	EventTextStart EventType = "text-start"
	EventTextDelta EventType = "text-delta"
	EventTextEnd   EventType = "text-end"
	EventError     EventType = "error"
	EventFinish    EventType = "finish"
)

// CitationsID is the id of the citations data part.
const CitationsID = "citations"

// Event is one part of an answer stream.
type Event struct {
	Type EventType
	// ID identifies the text part for text events.
	ID        string
	Delta     string
	Citations []semcache.Citation
	ErrorText string
}

type citationsData struct {
	Sources []semcache.Citation `json:"sources"`
}

// MarshalJSON renders the UI message stream wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventCitations:
		sources := e.Citations
		if sources == nil {
			sources = []semcache.Citation{}
		}
		return json.Marshal(struct {
			Type EventType     `json:"type"`
			ID   string        `json:"id"`
			Data citationsData `json:"data"`
		}{e.Type, CitationsID, citationsData{Sources: sources}})
	case EventTextStart, EventTextEnd:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			ID   string    `json:"id"`
		}{e.Type, e.ID})
	case EventTextDelta:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			ID    string    `json:"id"`
			Delta string    `json:"delta"`
		}{e.Type, e.ID, e.Delta})
	case EventError:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			ErrorText string    `json:"errorText"`
		}{e.Type, e.ErrorText})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}

// ReplayEvents is the full event sequence for a cached answer: citations,
// then the whole text as a single delta.
func ReplayEvents(text string, citations []semcache.Citation) []Event {
	const id = "cached-text"
	return []Event{
		{Type: EventStart},
		{Type: EventCitations, Citations: citations},
		{Type: EventTextStart, ID: id},
		{Type: EventTextDelta, ID: id, Delta: text},
		{Type: EventTextEnd, ID: id},
		{Type: EventFinish},
	}
}
