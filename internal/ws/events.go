package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nexthire/backend/pkg/ws"
)

var (
	ErrMalformedFrame = errors.New("malformed event frame")
	ErrUnknownEvent   = errors.New("unknown event")
)

// Event is a decoded and validated client to server event
type Event interface {
	Name() string
}

type JoinChat struct {
	RecipientID string `json:"recipientId"`
}

type SendMessage struct {
	RecipientID string  `json:"recipientId"`
	Content     string  `json:"content"`
	JobID       *string `json:"jobId,omitempty"`
}

// Typing covers both typing_start and typing_stop
type Typing struct {
	RecipientID string `json:"recipientId"`
	Stopped     bool   `json:"-"`
}

type MarkMessagesRead struct {
	SenderID string `json:"senderId"`
}

type Ping struct{}

func (JoinChat) Name() string         { return ws.EventJoinChat }
func (SendMessage) Name() string      { return ws.EventSendMessage }
func (MarkMessagesRead) Name() string { return ws.EventMarkMessagesRead }
func (Ping) Name() string             { return ws.EventPing }

func (t Typing) Name() string {
	if t.Stopped {
		return ws.EventTypingStop
	}
	return ws.EventTypingStart
}

// DecodeEvent parses a frame and checks the fields its event requires.
// Content limits are left to the message service.
func DecodeEvent(raw []byte) (Event, error) {
	var frame ws.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, ErrMalformedFrame
	}

	switch frame.Event {
	case ws.EventJoinChat:
		var e JoinChat
		if err := decodeData(frame.Data, &e); err != nil {
			return nil, err
		}
		e.RecipientID = strings.TrimSpace(e.RecipientID)
		if e.RecipientID == "" {
			return nil, missing(frame.Event, "recipientId")
		}
		return e, nil

	case ws.EventSendMessage:
		var e SendMessage
		if err := decodeData(frame.Data, &e); err != nil {
			return nil, err
		}
		e.RecipientID = strings.TrimSpace(e.RecipientID)
		if e.RecipientID == "" {
			return nil, missing(frame.Event, "recipientId")
		}
		return e, nil

	case ws.EventTypingStart, ws.EventTypingStop:
		var e Typing
		if err := decodeData(frame.Data, &e); err != nil {
			return nil, err
		}
		e.RecipientID = strings.TrimSpace(e.RecipientID)
		if e.RecipientID == "" {
			return nil, missing(frame.Event, "recipientId")
		}
		e.Stopped = frame.Event == ws.EventTypingStop
		return e, nil

	case ws.EventMarkMessagesRead:
		var e MarkMessagesRead
		if err := decodeData(frame.Data, &e); err != nil {
			return nil, err
		}
		e.SenderID = strings.TrimSpace(e.SenderID)
		if e.SenderID == "" {
			return nil, missing(frame.Event, "senderId")
		}
		return e, nil

	case ws.EventPing:
		return Ping{}, nil

	case "":
		return nil, ErrMalformedFrame

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, frame.Event)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrMalformedFrame
	}
	return nil
}

// ValidationError names the event field that failed validation
type ValidationError struct {
	Event string
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s requires %s", e.Event, e.Field)
}

func missing(event, field string) error {
	return &ValidationError{Event: event, Field: field}
}
