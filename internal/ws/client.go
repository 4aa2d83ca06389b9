package ws

import (
	"errors"
	"sync"
	"time"

	"nexthire/backend/internal/metrics"
	"nexthire/backend/internal/models"
	"nexthire/backend/pkg/logger"
	"nexthire/backend/pkg/ws"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 16 * 1024
)

var errSendBufferFull = errors.New("send buffer full")

// ClientOptions bounds the resources of one connection
type ClientOptions struct {
	SendBuffer int
	EventRate  float64
	EventBurst int
}

// Client is one authenticated websocket connection
type Client struct {
	ID     string
	UserID string
	Name   string
	Role   string

	hub     *Hub
	conn    *websocket.Conn
	limiter *rate.Limiter
	log     *logger.Logger

	// rooms is guarded by hub.mu
	rooms map[string]struct{}

	sendMu sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, user models.UserSummary, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	limit := rate.Inf
	if opts.EventRate > 0 {
		limit = rate.Limit(opts.EventRate)
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 1
	}

	id := uuid.New().String()
	return &Client{
		ID:      id,
		UserID:  user.ID,
		Name:    user.Name,
		Role:    user.Role,
		hub:     hub,
		conn:    conn,
		limiter: rate.NewLimiter(limit, opts.EventBurst),
		log:     hub.log.WithConnection(id).WithUserID(user.ID),
		rooms:   make(map[string]struct{}),
		send:    make(chan []byte, opts.SendBuffer),
	}
}

// Send queues an event for this connection only. A connection that cannot keep up
// is disconnected.
func (c *Client) Send(event string, payload any) error {
	frame, err := ws.NewFrame(event, payload)
	if err != nil {
		return err
	}
	if !c.enqueue(frame) {
		metrics.DroppedClients.Inc()
		c.log.Warn("Client removed due to blocked channel", "event", event)
		c.hub.Unregister(c)
		return errSendBufferFull
	}
	return nil
}

// enqueue reports false only when the buffer is full; frames for a closed
// connection are discarded
func (c *Client) enqueue(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump handles inbound frames one at a time, in arrival order
func (c *Client) readPump(handle func(*Client, []byte)) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.log.Debug("ReadPump ended")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("Unexpected websocket close", "error", err.Error())
			}
			return
		}

		if !c.limiter.Allow() {
			metrics.RateLimitHits.WithLabelValues("socket").Inc()
			_ = c.Send(ws.EventMessageError, ws.MessageError{Error: "Too many events, slow down"})
			continue
		}

		handle(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain whatever queued up meanwhile, one frame per event
			n := len(c.send)
			for i := 0; i < n; i++ {
				extra, ok := <-c.send
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, extra); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
