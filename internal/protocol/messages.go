package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies stream and websocket payload variants.
type MessageType string

const (
	// Server to client.
	TypeDelta   MessageType = "delta"
	TypeReplace MessageType = "replace"
	TypeDone    MessageType = "done"
	TypeError   MessageType = "error"
	TypePong    MessageType = "pong"

	// Client to server (websocket only).
	TypeUserMessage MessageType = "user_message"
	TypePing        MessageType = "ping"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Event is one server-to-client stream frame. Text is set on delta and
// replace, Risk on done, Code and Detail on error.
type Event struct {
	Type           MessageType `json:"type"`
	Text           string      `json:"text,omitempty"`
	Risk           string      `json:"risk,omitempty"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Code           string      `json:"code,omitempty"`
	Detail         string      `json:"detail,omitempty"`
}

func Delta(text string) Event   { return Event{Type: TypeDelta, Text: text} }
func Replace(text string) Event { return Event{Type: TypeReplace, Text: text} }
func Done(risk string) Event    { return Event{Type: TypeDone, Risk: risk} }

func Pong() Event { return Event{Type: TypePong} }

func ErrorEvent(code, detail string) Event {
	return Event{Type: TypeError, Code: code, Detail: detail}
}

// Terminal reports whether no further frames follow this one.
func (e Event) Terminal() bool {
	return e.Type == TypeDone || e.Type == TypeError
}

type UserMessage struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Text           string      `json:"text"`
}

type Ping struct {
	Type MessageType `json:"type"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.ConversationID) == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid user_message")
		}
		return msg, nil
	case TypePing:
		return Ping{Type: TypePing}, nil
	default:
		return nil, ErrUnsupportedType
	}
}
