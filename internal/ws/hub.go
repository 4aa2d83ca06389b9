package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"nexthire/backend/internal/metrics"
	"nexthire/backend/pkg/logger"
	"nexthire/backend/pkg/ws"
)

// Envelope is one emit as it travels between instances
type Envelope struct {
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	Except string          `json:"except,omitempty"`
}

// Broker carries emits to every instance, including the one that published them
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context) (<-chan Envelope, error)
}

// Presence tracks which users have a live connection anywhere
type Presence interface {
	UserConnected(ctx context.Context, userID string) (int64, error)
	UserDisconnected(ctx context.Context, userID string) (int64, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineUsers(ctx context.Context) (int64, error)
}

// Stats describes the sessions held by this instance
type Stats struct {
	Connections int   `json:"connections"`
	OnlineUsers int64 `json:"onlineUsers"`
	Rooms       int   `json:"rooms"`
}

// Hub holds the live sessions of this instance and their room memberships
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[*Client]struct{}
	users   map[string]int

	broker   Broker
	presence Presence
	log      *logger.Logger

	// subscribed is true while Run holds a live broker subscription; until then
	// emits are delivered locally instead of published
	subscribed atomic.Bool
	retryMin   time.Duration
	retryMax   time.Duration
}

// HubOption customizes a Hub
type HubOption func(*Hub)

// WithBroker routes emits through a cross-instance broker
func WithBroker(b Broker) HubOption {
	return func(h *Hub) { h.broker = b }
}

// WithPresence records connections in a shared presence store
func WithPresence(p Presence) HubOption {
	return func(h *Hub) { h.presence = p }
}

func NewHub(log *logger.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = logger.GetGlobal()
	}
	h := &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[*Client]struct{}),
		users:    make(map[string]int),
		log:      log,
		retryMin: 500 * time.Millisecond,
		retryMax: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run delivers emits arriving from the broker until ctx is done, subscribing again
// with backoff whenever the subscription fails or ends. Without a broker it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}

	backoff := h.retryMin
	for {
		envelopes, err := h.broker.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.FanoutFailures.WithLabelValues("subscribe").Inc()
			h.log.LogError(err, "Broker subscribe failed, delivering locally", "retry_in", backoff.String())
		} else {
			h.subscribed.Store(true)
			backoff = h.retryMin
			h.consume(ctx, envelopes)
			h.subscribed.Store(false)
			if ctx.Err() != nil {
				return nil
			}
			h.log.Warn("Broker subscription ended, delivering locally until it is restored")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, h.retryMax)
	}
}

// consume delivers envelopes until the subscription closes or ctx is done
func (h *Hub) consume(ctx context.Context, envelopes <-chan Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			frame, err := json.Marshal(ws.Frame{Event: env.Event, Data: env.Data})
			if err != nil {
				continue
			}
			h.deliver(env.Room, frame, env.Except)
		}
	}
}

// Register adds an authenticated connection and joins it to its personal room
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.joinLocked(c, ws.PersonalRoomID(c.UserID))
	h.users[c.UserID]++
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()

	if h.presence != nil {
		if _, err := h.presence.UserConnected(context.Background(), c.UserID); err != nil {
			h.log.LogError(err, "Failed to record presence", "user_id", c.UserID)
		}
	}

	c.log.Info("Client registered", "connections", total)
}

// Unregister removes the connection from every room. Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.users[c.UserID]--
	if h.users[c.UserID] <= 0 {
		delete(h.users, c.UserID)
	}
	h.mu.Unlock()

	c.closeSend()
	metrics.ActiveConnections.Dec()

	if h.presence != nil {
		if _, err := h.presence.UserDisconnected(context.Background(), c.UserID); err != nil {
			h.log.LogError(err, "Failed to clear presence", "user_id", c.UserID)
		}
	}

	c.log.Info("Client unregistered")
}

// Join adds the connection to room and reports whether it was not a member yet
func (h *Hub) Join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	return h.joinLocked(c, room)
}

func (h *Hub) joinLocked(c *Client, room string) bool {
	if _, ok := c.rooms[room]; ok {
		return false
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	return true
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Emit sends an event to every session in room
func (h *Hub) Emit(ctx context.Context, room, event string, payload any) error {
	return h.EmitExcept(ctx, room, event, payload, "")
}

// EmitExcept sends an event to every session in room but the connection exceptID
func (h *Hub) EmitExcept(ctx context.Context, room, event string, payload any, exceptID string) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		data = b
	}

	if h.broker != nil && h.subscribed.Load() {
		env := Envelope{Room: room, Event: event, Data: data, Except: exceptID}
		err := h.broker.Publish(ctx, env)
		if err == nil {
			return nil
		}
		metrics.FanoutFailures.WithLabelValues("publish").Inc()
		logger.FromContext(ctx).Warn("Broker publish failed, delivering locally",
			"room", room, "event", event, "error", err.Error())
	}

	frame, err := json.Marshal(ws.Frame{Event: event, Data: data})
	if err != nil {
		return err
	}
	h.deliver(room, frame, exceptID)
	return nil
}

// deliver queues frame on every local member of room. Members whose buffer is full
// are disconnected.
func (h *Hub) deliver(room string, frame []byte, exceptID string) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.rooms[room] {
		if c.ID == exceptID {
			continue
		}
		if !c.enqueue(frame) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		metrics.DroppedClients.Inc()
		c.log.Warn("Client removed due to blocked channel", "room", room)
		h.Unregister(c)
	}
}

// IsOnline reports whether userID has a live session, asking the shared presence
// store first when there is one
func (h *Hub) IsOnline(ctx context.Context, userID string) bool {
	if h.presence != nil {
		online, err := h.presence.IsOnline(ctx, userID)
		if err == nil {
			return online
		}
		h.log.LogError(err, "Presence lookup failed, using local sessions", "user_id", userID)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID] > 0
}

// Stats returns connection and room counts for this instance
func (h *Hub) Stats(ctx context.Context) Stats {
	h.mu.RLock()
	stats := Stats{
		Connections: len(h.clients),
		OnlineUsers: int64(len(h.users)),
		Rooms:       len(h.rooms),
	}
	h.mu.RUnlock()

	if h.presence != nil {
		if n, err := h.presence.OnlineUsers(ctx); err == nil {
			stats.OnlineUsers = n
		}
	}
	return stats
}

// Rooms returns the rooms a connection belongs to
func (h *Hub) Rooms(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Shutdown closes every session
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}
