package ws

import (
	"encoding/json"
	"sort"
	"strings"
)

// Client to server events
const (
	EventJoinChat         = "join_chat"
	EventSendMessage      = "send_message"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
	EventMarkMessagesRead = "mark_messages_read"
	EventPing             = "ping"
)

// Server to client events
const (
	EventReceiveMessage         = "receive_message"
	EventNewMessageNotification = "new_message_notification"
	EventUserTyping             = "user_typing"
	EventUserStopTyping         = "user_stop_typing"
	EventMessagesRead           = "messages_read"
	EventMessageError           = "message_error"
	EventChatJoined             = "chat_joined"
	EventPong                   = "pong"
)

// roomSeparator joins the two sorted participant ids of a pairing room. Inside an
// id it is escaped with roomEscape, so a pairing room always holds exactly one bare
// separator and a personal room none.
const (
	roomSeparator = "_"
	roomEscape    = `\`
)

var roomEscaper = strings.NewReplacer(roomEscape, roomEscape+roomEscape, roomSeparator, roomEscape+roomSeparator)

// Frame is the envelope of every websocket message in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a frame
func NewFrame(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// MessagesRead is the read receipt pushed to the original sender
type MessagesRead struct {
	ReaderID string `json:"readerId"`
}

// TypingNotice is relayed to the other member of a pairing room
type TypingNotice struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

// MessageError is sent to the connection whose event failed
type MessageError struct {
	Error string `json:"error"`
}

// ChatJoined acknowledges a join_chat
type ChatJoined struct {
	RoomID string `json:"roomId"`
}

// PairRoomID returns the canonical room shared by two users,
// identical whichever order the ids are given in
func PairRoomID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return roomEscaper.Replace(ids[0]) + roomSeparator + roomEscaper.Replace(ids[1])
}

// PersonalRoomID returns the room every session of userID joins. For ids without
// separator or escape characters it is the id itself.
func PersonalRoomID(userID string) string {
	return roomEscaper.Replace(userID)
}
