package ws

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"nexthire/backend/internal/service"
	apperrors "nexthire/backend/pkg/errors"
	"nexthire/backend/pkg/jwt"
	"nexthire/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler authenticates websocket handshakes and starts sessions
type Handler struct {
	hub         *Hub
	coordinator *Coordinator
	tokens      *jwt.Service
	users       service.UserDirectory
	clientOpts  ClientOptions
	upgrader    websocket.Upgrader
}

// NewHandler creates the /ws handler. allowedOrigins of "*" or empty accepts any origin.
func NewHandler(hub *Hub, coordinator *Coordinator, tokens *jwt.Service, users service.UserDirectory, opts ClientOptions, allowedOrigins []string) *Handler {
	return &Handler{
		hub:         hub,
		coordinator: coordinator,
		tokens:      tokens,
		users:       users,
		clientOpts:  opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(allowedOrigins),
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// ServeWs validates the credential before upgrading; a rejected handshake never
// becomes a session
func (h *Handler) ServeWs(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = jwt.BearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeAuthRequired, "Authentication token is required"))
		c.Abort()
		return
	}

	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		msg := "Invalid token"
		if errors.Is(err, jwt.ErrExpiredToken) {
			msg = "Token has expired"
		}
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeInvalidToken, msg))
		c.Abort()
		return
	}

	user, err := h.users.GetSummary(c.Request.Context(), claims.UserID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			err = apperrors.Unauthorized(apperrors.CodeInvalidToken, "Unknown user")
		}
		_ = c.Error(err)
		c.Abort()
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		logger.FromGin(c).Warn("Error upgrading connection", "error", err.Error())
		return
	}

	client := newClient(h.hub, conn, user, h.clientOpts)
	h.hub.Register(client)

	go client.writePump()
	go client.readPump(h.coordinator.HandleFrame)
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// non-browser clients
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
