package chat

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/fyrsmithlabs/ragcache/internal/llm"
)

// ErrInvalidRequest indicates a chat body that is not valid JSON or has
// no messages.
var ErrInvalidRequest = errors.New("invalid chat request")

// Part is one UI message part. Only text parts carry a query.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is a chat message in any of the accepted shapes: parts[], a
// content string, or a content[] array.
type Message struct {
	Role    string          `json:"role"`
	Parts   []Part          `json:"parts,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Body is the chat request body.
type Body struct {
	Messages []Message `json:"messages"`
}

// ParseBody decodes a chat request body.
func ParseBody(raw []byte) (*Body, error) {
	var b Body
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, errors.Join(ErrInvalidRequest, err)
	}
	if len(b.Messages) == 0 {
		return nil, errors.Join(ErrInvalidRequest, errors.New("no messages"))
	}
	return &b, nil
}

// ExtractQuery returns the text of the latest user message, or "" when no
// message has the user role. Text parts win, then a content string, then
// the text of content[] items. Pieces are joined by a single space.
func ExtractQuery(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Text()
		}
	}
	return ""
}

// Text returns the message text using the ExtractQuery precedence.
func (m Message) Text() string {
	if m.Parts != nil {
		var texts []string
		for _, p := range m.Parts {
			if p.Type == "text" && p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, " ")
	}

	if len(m.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var items []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &items); err == nil {
		texts := make([]string, len(items))
		for i, it := range items {
			texts[i] = it.Text
		}
		return strings.Join(texts, " ")
	}
	return ""
}

// Conversation converts UI messages into generator turns. Messages other
// than user and assistant are skipped, as are empty ones.
func Conversation(messages []Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case llm.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Text: text})
		case llm.RoleUser, "":
			out = append(out, llm.Message{Role: llm.RoleUser, Text: text})
		}
	}
	return out
}
