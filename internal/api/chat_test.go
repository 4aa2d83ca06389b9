package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"nexthire/backend/internal/models"
	"nexthire/backend/internal/repository"
	"nexthire/backend/internal/service"
	"nexthire/backend/internal/testutil"
	"nexthire/backend/internal/ws"
	apperrors "nexthire/backend/pkg/errors"
	"nexthire/backend/pkg/jwt"
	"nexthire/backend/pkg/logger"
	"nexthire/backend/pkg/middleware"
	pkgws "nexthire/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	engine *gin.Engine
	tokens *jwt.Service
	hub    *ws.Hub
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "alice", "Alice", "jobseeker")
	testutil.CreateUser(t, db, "bob", "Bob", "employer")
	testutil.CreateUser(t, db, "carol", "Carol", "employer")

	tokens := jwt.NewService("api-test-secret", time.Hour)
	users := service.NewUserService(db, tokens, nil)
	hub := ws.NewHub(logger.Discard())
	messages := service.NewMessageService(repository.NewGormMessageRepository(db), users, hub, service.DefaultMessageConfig())
	t.Cleanup(hub.Shutdown)

	auth := middleware.JWTAuthMiddleware(tokens)
	r := gin.New()
	r.Use(apperrors.ErrorHandler())

	chat := NewChatHandler(messages, hub)
	chat.RegisterRoutes(r.Group("/api/chat", auth))
	chat.RegisterAdminRoutes(r.Group("/api/admin", auth, middleware.RequireRole(jwt.RoleAdmin)))
	NewAuthHandler(users).RegisterRoutes(r.Group("/api/auth"), auth)

	socket := ws.NewHandler(hub, ws.NewCoordinator(hub, messages), tokens, users, ws.ClientOptions{SendBuffer: 64}, []string{"*"})
	r.GET("/ws", socket.ServeWs)

	return &apiEnv{engine: r, tokens: tokens, hub: hub}
}

func (e *apiEnv) token(t *testing.T, userID string, role jwt.Role) string {
	t.Helper()
	token, err := e.tokens.GenerateToken(userID, userID+"@nexthire.test", role)
	require.NoError(t, err)
	return token
}

func (e *apiEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		role := jwt.RoleJobSeeker
		if userID == "admin" {
			role = jwt.RoleAdmin
		}
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID, role))
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *apiEnv) send(t *testing.T, from, to, content string) models.Message {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/chat/send", from, map[string]string{"recipientId": to, "content": content})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[struct {
		Message models.Message `json:"message"`
	}](t, w).Message
}

func TestChatRoutesRequireAuth(t *testing.T) {
	env := newAPIEnv(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/chat/conversations"},
		{http.MethodGet, "/api/chat/messages/bob"},
		{http.MethodPost, "/api/chat/send"},
		{http.MethodPut, "/api/chat/messages/1/read"},
		{http.MethodGet, "/api/chat/unread-count"},
		{http.MethodGet, "/api/chat/presence/bob"},
	} {
		w := env.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, route.path)
		assert.Equal(t, apperrors.CodeAuthRequired, decode[errorBody](t, w).Error.Code)
	}
}

func TestSendMessage(t *testing.T) {
	env := newAPIEnv(t)

	msg := env.send(t, "alice", "bob", "  Hello Bob  ")
	assert.Equal(t, "Hello Bob", msg.Content)
	assert.Equal(t, "alice", msg.SenderID)
	assert.False(t, msg.Read)
	require.NotNil(t, msg.Recipient)
	assert.Equal(t, "Bob", msg.Recipient.Name)

	// the older client field name is still accepted
	w := env.do(t, http.MethodPost, "/api/chat/send", "alice", map[string]any{"recipient": "bob", "content": "again", "jobId": "job-9"})
	require.Equal(t, http.StatusCreated, w.Code)
	got := decode[struct {
		Message models.Message `json:"message"`
	}](t, w).Message
	require.NotNil(t, got.JobID)
	assert.Equal(t, "job-9", *got.JobID)
}

func TestSendMessageRejections(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"empty content", map[string]string{"recipientId": "bob", "content": "  "}, http.StatusBadRequest, apperrors.CodeValidation},
		{"too long", map[string]string{"recipientId": "bob", "content": strings.Repeat("x", 1001)}, http.StatusBadRequest, apperrors.CodeValidation},
		{"no recipient", map[string]string{"content": "hi"}, http.StatusBadRequest, apperrors.CodeValidation},
		{"unknown recipient", map[string]string{"recipientId": "nobody", "content": "hi"}, http.StatusNotFound, apperrors.CodeNotFound},
		{"self", map[string]string{"recipientId": "alice", "content": "hi"}, http.StatusBadRequest, apperrors.CodeValidation},
		{"malformed", "not an object", http.StatusBadRequest, apperrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/chat/send", "alice", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode[errorBody](t, w).Error.Code)
		})
	}

	w := env.do(t, http.MethodGet, "/api/chat/unread-count", "bob", nil)
	assert.JSONEq(t, `{"unreadCount":0}`, w.Body.String(), "rejected sends store nothing")
}

func TestGetMessagesReturnsOldestFirstAndMarksRead(t *testing.T) {
	env := newAPIEnv(t)
	env.send(t, "alice", "bob", "one")
	env.send(t, "bob", "alice", "two")
	env.send(t, "alice", "bob", "three")

	w := env.do(t, http.MethodGet, "/api/chat/unread-count", "bob", nil)
	assert.JSONEq(t, `{"unreadCount":2}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/chat/messages/alice", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	messages := decode[[]models.Message](t, w)
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{messages[0].Content, messages[1].Content, messages[2].Content})
	assert.True(t, messages[0].Read, "the page reflects the read-on-view update")
	assert.False(t, messages[1].Read, "bob's own message stays unread until alice looks")

	w = env.do(t, http.MethodGet, "/api/chat/unread-count", "bob", nil)
	assert.JSONEq(t, `{"unreadCount":0}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/chat/messages/alice?page=1&limit=2", "bob", nil)
	page := decode[[]models.Message](t, w)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Content)
	assert.Equal(t, "three", page[1].Content)

	w = env.do(t, http.MethodGet, "/api/chat/messages/alice?page=184467440737095518&limit=50", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestMarkSingleMessageRead(t *testing.T) {
	env := newAPIEnv(t)
	msg := env.send(t, "alice", "bob", "read me")
	path := "/api/chat/messages/" + itoa(msg.ID) + "/read"

	w := env.do(t, http.MethodPut, path, "carol", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "only the recipient can mark it")

	w = env.do(t, http.MethodPut, path, "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = env.do(t, http.MethodPut, path, "bob", nil)
	assert.Equal(t, http.StatusOK, w.Code, "repeating is a no-op")

	w = env.do(t, http.MethodPut, "/api/chat/messages/999/read", "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPut, "/api/chat/messages/abc/read", "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConversations(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/chat/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	env.send(t, "bob", "alice", "from bob")
	env.send(t, "carol", "alice", "from carol 1")
	env.send(t, "carol", "alice", "from carol 2")

	w = env.do(t, http.MethodGet, "/api/chat/conversations", "alice", nil)
	conversations := decode[[]models.Conversation](t, w)
	require.Len(t, conversations, 2)
	assert.Equal(t, "carol", conversations[0].User.ID)
	assert.Equal(t, "from carol 2", conversations[0].LastMessage.Content)
	assert.EqualValues(t, 2, conversations[0].UnreadCount)
	assert.Equal(t, "bob", conversations[1].User.ID)
	assert.EqualValues(t, 1, conversations[1].UnreadCount)
}

func dialSocket(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) pkgws.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		var f pkgws.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Event == event {
			return f
		}
	}
}

func TestRESTSendReachesLiveSession(t *testing.T) {
	env := newAPIEnv(t)
	server := httptest.NewServer(env.engine)
	t.Cleanup(server.Close)

	bob := dialSocket(t, server, env.token(t, "bob", jwt.RoleEmployer))
	// a ping round trip guarantees the session is registered
	frame, err := pkgws.NewFrame(pkgws.EventPing, nil)
	require.NoError(t, err)
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, frame))
	readEvent(t, bob, pkgws.EventPong)

	w := env.do(t, http.MethodGet, "/api/chat/presence/bob", "alice", nil)
	assert.JSONEq(t, `{"userId":"bob","online":true}`, w.Body.String())
	w = env.do(t, http.MethodGet, "/api/chat/presence/carol", "alice", nil)
	assert.JSONEq(t, `{"userId":"carol","online":false}`, w.Body.String())

	sent := env.send(t, "alice", "bob", "Are you hiring?")

	f := readEvent(t, bob, pkgws.EventNewMessageNotification)
	var note models.NewMessageNotification
	require.NoError(t, json.Unmarshal(f.Data, &note))
	assert.Equal(t, sent.ID, note.Message.ID)
	assert.Equal(t, "Alice", note.Sender.Name)
}

func TestRESTFetchNotifiesSenderOfRead(t *testing.T) {
	env := newAPIEnv(t)
	server := httptest.NewServer(env.engine)
	t.Cleanup(server.Close)

	alice := dialSocket(t, server, env.token(t, "alice", jwt.RoleJobSeeker))
	frame, err := pkgws.NewFrame(pkgws.EventPing, nil)
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, frame))
	readEvent(t, alice, pkgws.EventPong)

	env.send(t, "alice", "bob", "ping me back")
	env.do(t, http.MethodGet, "/api/chat/messages/alice", "bob", nil)

	f := readEvent(t, alice, pkgws.EventMessagesRead)
	var receipt pkgws.MessagesRead
	require.NoError(t, json.Unmarshal(f.Data, &receipt))
	assert.Equal(t, "bob", receipt.ReaderID)
}

func TestAdminSessions(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/admin/chat/sessions", "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/chat/sessions", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[ws.Stats](t, w)
	assert.Equal(t, 0, stats.Connections)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
