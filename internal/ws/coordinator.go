package ws

import (
	"context"
	"errors"
	"time"

	"nexthire/backend/internal/metrics"
	"nexthire/backend/internal/models"
	"nexthire/backend/internal/service"
	apperrors "nexthire/backend/pkg/errors"
	"nexthire/backend/pkg/ws"
)

// eventTimeout bounds the work done for a single inbound event
const eventTimeout = 10 * time.Second

// ChatService is the part of the message service the socket path uses
type ChatService interface {
	SendMessage(ctx context.Context, senderID string, req service.SendMessageRequest) (*models.Message, error)
	MarkConversationRead(ctx context.Context, readerID, counterpartID string) (int64, error)
}

// Coordinator turns inbound socket events into chat actions and room emits
type Coordinator struct {
	hub  *Hub
	chat ChatService
}

func NewCoordinator(hub *Hub, chat ChatService) *Coordinator {
	return &Coordinator{hub: hub, chat: chat}
}

// HandleFrame decodes one raw frame from c and dispatches it. Failures are reported
// to c alone.
func (co *Coordinator) HandleFrame(c *Client, raw []byte) {
	event, err := DecodeEvent(raw)
	if err != nil {
		metrics.SocketEvents.WithLabelValues("invalid", "rejected").Inc()
		c.log.Debug("Rejected socket event", "error", err.Error())
		_ = c.Send(ws.EventMessageError, ws.MessageError{Error: decodeErrorMessage(err)})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	ctx = c.log.IntoContext(ctx)

	outcome := "ok"
	if err := co.Dispatch(ctx, c, event); err != nil {
		outcome = "error"
		c.log.Warn("Socket event failed", "event", event.Name(), "error", err.Error())
		_ = c.Send(ws.EventMessageError, ws.MessageError{Error: apperrors.PublicMessage(err)})
	}
	metrics.SocketEvents.WithLabelValues(event.Name(), outcome).Inc()
}

// Dispatch runs a decoded event on behalf of c
func (co *Coordinator) Dispatch(ctx context.Context, c *Client, event Event) error {
	switch e := event.(type) {
	case JoinChat:
		room := ws.PairRoomID(c.UserID, e.RecipientID)
		co.hub.Join(c, room)
		return c.Send(ws.EventChatJoined, ws.ChatJoined{RoomID: room})

	case SendMessage:
		// the sender's own connection follows the conversation it writes to
		co.hub.Join(c, ws.PairRoomID(c.UserID, e.RecipientID))
		_, err := co.chat.SendMessage(ctx, c.UserID, service.SendMessageRequest{
			RecipientID: e.RecipientID,
			Content:     e.Content,
			JobID:       e.JobID,
			Via:         service.ViaSocket,
		})
		return err

	case Typing:
		name := ws.EventUserTyping
		if e.Stopped {
			name = ws.EventUserStopTyping
		}
		return co.hub.EmitExcept(ctx, ws.PairRoomID(c.UserID, e.RecipientID), name,
			ws.TypingNotice{UserID: c.UserID, Name: c.Name}, c.ID)

	case MarkMessagesRead:
		_, err := co.chat.MarkConversationRead(ctx, c.UserID, e.SenderID)
		return err

	case Ping:
		return c.Send(ws.EventPong, nil)
	}
	return ErrUnknownEvent
}

func decodeErrorMessage(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, ErrUnknownEvent):
		return err.Error()
	default:
		return "Malformed event"
	}
}
