package main

import (
	"testing"
	"time"

	"nexthire/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"http://localhost:8081", "ws://localhost:8081/ws?token=abc"},
		{"https://chat.nexthire.test/", "wss://chat.nexthire.test/ws?token=abc"},
		{"http://gateway/chat", "ws://gateway/chat/ws?token=abc"},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.server, "abc")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFormatMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)
	m := models.Message{SenderID: "u1", Content: "hello", CreatedAt: at}
	assert.Equal(t, "[09:30] u1: hello", formatMessage(m))

	m.Sender = &models.UserSummary{ID: "u1", Name: "Alice"}
	m.Read = true
	assert.Equal(t, "[09:30] Alice: hello (read)", formatMessage(m))
}
