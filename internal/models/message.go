package models

import (
	"time"
)

// Message represents a direct chat message between two users
type Message struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	SenderID    string     `json:"senderId" gorm:"size:64;not null;index:idx_messages_pair,priority:1"`
	RecipientID string     `json:"recipientId" gorm:"size:64;not null;index:idx_messages_pair,priority:2;index:idx_messages_unread,priority:1"`
	Content     string     `json:"content" gorm:"type:text;not null"`
	JobID       *string    `json:"jobId,omitempty" gorm:"size:64"`
	Read        bool       `json:"read" gorm:"column:is_read;not null;default:false;index:idx_messages_unread,priority:2"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" gorm:"index"`

	// Populated from the user directory, never stored
	Sender    *UserSummary `json:"sender,omitempty" gorm:"-"`
	Recipient *UserSummary `json:"recipient,omitempty" gorm:"-"`
}

// CounterpartOf returns the other participant of the message from userID's point of view
func (m *Message) CounterpartOf(userID string) string {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

// Conversation is the per-counterpart summary derived from the messages table
type Conversation struct {
	User        UserSummary `json:"user"`
	LastMessage Message     `json:"lastMessage"`
	UnreadCount int64       `json:"unreadCount"`
}

// NewMessageNotification is pushed to the recipient's personal room
type NewMessageNotification struct {
	Message *Message     `json:"message"`
	Sender  *UserSummary `json:"sender"`
}
