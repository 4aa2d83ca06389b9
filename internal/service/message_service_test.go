package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"nexthire/backend/internal/models"
	"nexthire/backend/internal/repository"
	"nexthire/backend/internal/testutil"
	apperrors "nexthire/backend/pkg/errors"
	"nexthire/backend/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type emitted struct {
	Room    string
	Event   string
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (n *recordingNotifier) Emit(_ context.Context, room, event string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, emitted{Room: room, Event: event, Payload: payload})
	return n.err
}

func (n *recordingNotifier) byEvent(event string) []emitted {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []emitted
	for _, e := range n.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

// stepClock advances one second per call so every message gets a distinct timestamp
func stepClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type fixture struct {
	db       *gorm.DB
	svc      *MessageService
	notifier *recordingNotifier
}

func newFixture(t *testing.T, cfg MessageConfig) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "alice", "Alice", "jobseeker")
	testutil.CreateUser(t, db, "bob", "Bob", "employer")
	testutil.CreateUser(t, db, "carol", "Carol", "employer")

	notifier := &recordingNotifier{}
	users := NewUserService(db, nil, nil)
	svc := NewMessageService(repository.NewGormMessageRepository(db), users, notifier, cfg, WithClock(stepClock()))
	return &fixture{db: db, svc: svc, notifier: notifier}
}

func (f *fixture) send(t *testing.T, from, to, content string) *models.Message {
	t.Helper()
	msg, err := f.svc.SendMessage(context.Background(), from, SendMessageRequest{RecipientID: to, Content: content})
	require.NoError(t, err)
	return msg
}

func TestSendMessagePersistsAndFansOut(t *testing.T) {
	f := newFixture(t, DefaultMessageConfig())
	job := " job-42 "

	msg, err := f.svc.SendMessage(context.Background(), "alice", SendMessageRequest{
		RecipientID: "bob",
		Content:     "  Hello  ",
		JobID:       &job,
		Via:         ViaSocket,
	})
	require.NoError(t, err)

	assert.NotZero(t, msg.ID)
	assert.Equal(t, "Hello", msg.Content)
	assert.False(t, msg.Read)
	assert.Nil(t, msg.ReadAt)
	require.NotNil(t, msg.JobID)
	assert.Equal(t, "job-42", *msg.JobID)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "Alice", msg.Sender.Name)
	require.NotNil(t, msg.Recipient)
	assert.Equal(t, "employer", msg.Recipient.Role)

	received := f.notifier.byEvent(ws.EventReceiveMessage)
	require.Len(t, received, 1)
	assert.Equal(t, "alice_bob", received[0].Room)
	assert.Same(t, msg, received[0].Payload)

	notes := f.notifier.byEvent(ws.EventNewMessageNotification)
	require.Len(t, notes, 1)
	assert.Equal(t, "bob", notes[0].Room)
	note := notes[0].Payload.(models.NewMessageNotification)
	assert.Equal(t, "Alice", note.Sender.Name)

	var stored models.Message
	require.NoError(t, f.db.First(&stored, msg.ID).Error)
	assert.Equal(t, "Hello", stored.Content)
}

func TestSendMessageContentLength(t *testing.T) {
	f := newFixture(t, DefaultMessageConfig())
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, "alice", SendMessageRequest{RecipientID: "bob", Content: strings.Repeat("a", 1000)})
	require.NoError(t, err)

	// length is counted in characters, not bytes
	_, err = f.svc.SendMessage(ctx, "alice", SendMessageRequest{RecipientID: "bob", Content: strings.Repeat("é", 1000)})
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, "alice", SendMessageRequest{RecipientID: "bob", Content: strings.Repeat("a", 1001)})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.svc.SendMessage(ctx, "alice", SendMessageRequest{RecipientID: "bob", Content: " \n\t "})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	var count int64
	f.db.Model(&models.Message{}).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestSendMessageRecipientChecks(t *testing.T) {
	f := newFixture(t, DefaultMessageConfig())
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, "alice", SendMessageRequest{Content: "hi"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.svc.SendMessage(ctx, "alice", SendMessageRequest{RecipientID: "nobody", Content: "hi"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.svc.SendMessage(ctx, "alice", SendMessageRequest{RecipientID: "alice", Content: "note to self"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	assert.Empty(t, f.notifier.events)
}

func TestSendMessageToSelfWhenAllowed(t *testing.T) {
	cfg := DefaultMessageConfig()
	cfg.AllowSelfMessages = true
	f := newFixture(t, cfg)

	msg := f.send(t, "alice", "alice", "note to self")
	assert.Equal(t, "alice", msg.RecipientID)
}

func TestSendMessageStorageFailure(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "alice", "Alice", "jobseeker")
	testutil.CreateUser(t, db, "bob", "Bob", "employer")
	notifier := &recordingNotifier{}

	repo := failingRepo{err: errors.New("connection reset by peer")}
	svc := NewMessageService(repo, NewUserService(db, nil, nil), notifier, DefaultMessageConfig())

	_, err := svc.SendMessage(context.Background(), "alice", SendMessageRequest{RecipientID: "bob", Content: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStorage))
	assert.NotContains(t, apperrors.PublicMessage(err), "connection reset")
	assert.Empty(t, notifier.events, "nothing is delivered when the write fails")
}

func TestEmitFailureDoesNotFailSend(t *testing.T) {
	f := newFixture(t, DefaultMessageConfig())
	f.notifier.err = errors.New("broker unavailable")

	msg, err := f.svc.SendMessage(context.Background(), "alice", SendMessageRequest{RecipientID: "bob", Content: "hi"})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
}

func TestCreateThenList(t *testing.T) {
	f := newFixture(t, DefaultMessageConfig())

	sent := f.send(t, "alice", "bob", "Hello")

	messages, err := f.svc.ListMessages(context.Background(), "alice", "bob", 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, sent.ID, messages[0].ID)
	assert.Equal(t, "Hello", messages[0].Content)
	assert.Equal(t, "Bob", messages[0].Recipient.Name)
}

func TestListMessagesPagesOldestToNewest(t *testing.T) {
	f := newFixture(t, DefaultMessageConfig())
	for _, content := range []string{"1", "2", "3", "4", "5"} {
		f.send(t, "alice", "bob", content)
	}
	f.send(t, "alice", "carol", "other conversation")

	ctx := context.Background()
	contents := func(messages []models.Message) []string {
		out := make([]string, len(messages))
		for i := range messages {
			out[i] = messages[i].Content
		}
		return out
	}

	page1, err := f.svc.ListMessages(ctx, "bob", "alice", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5"}, contents(page1))

	page2, err := f.svc.ListMessages(ctx, "bob", "alice", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, contents(page2))

	page3, err := f.svc.ListMessages(ctx, "bob", "alice", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, contents(page3))

	all, err := f.svc.ListMessages(ctx, "alice", "bob", 1, 1000)
	require.NoError(t, err)
	assert.Len(t, all, 5, "limit is capped, not rejected")
}

func TestListMessagesPageBeyondRangeIsEmpty(t *testing.T) {
	f := newFixture(t, DefaultMessageConfig())
	f.send(t, "alice", "bob", "one")
	f.send(t, "alice", "bob", "two")

	ctx := context.Background()
	for _, page := range []int{3, 184467440737095518, math.MaxInt} {
		messages, err := f.svc.ListMessages(ctx, "bob", "alice", page, 50)
		require.NoError(t, err)
		assert.Empty(t, messages, "page %d", page)
	}

	unread, err := f.svc.CountUnread(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, unread, "viewing any page still marks the conversation read")
}

func TestListMessagesMarksReadAndNotifiesSender(t *testing.T) {
	f := newFixture(t, DefaultMessageConfig())
	f.send(t, "alice", "bob", "one")
	f.send(t, "alice", "bob", "two")
	f.send(t, "bob", "alice", "reply")
	f.notifier.reset()

	ctx := context.Background()
	messages, err := f.svc.ListMessages(ctx, "bob", "alice", 1, 50)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	for _, m := range messages {
		if m.RecipientID == "bob" {
			assert.True(t, m.Read, "returned page reflects the read state")
			assert.NotNil(t, m.ReadAt)
		} else {
			assert.False(t, m.Read, "the viewer's own messages stay unread")
		}
	}

	receipts := f.notifier.byEvent(ws.EventMessagesRead)
	require.Len(t, receipts, 1)
	assert.Equal(t, "alice", receipts[0].Room)
	assert.Equal(t, ws.MessagesRead{ReaderID: "bob"}, receipts[0].Payload)

	// nothing left to mark, nothing to announce
	_, err = f.svc.ListMessages(ctx, "bob", "alice", 1, 50)
	require.NoError(t, err)
	assert.Len(t, f.notifier.byEvent(ws.EventMessagesRead), 1)
}

func TestMarkConversationReadIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultMessageConfig())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.send(t, "alice", "bob", "ping")
	}

	unread, err := f.svc.CountUnread(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 3, unread)

	n, err := f.svc.MarkConversationRead(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	first := readTimes(t, f.db, "bob")

	n, err = f.svc.MarkConversationRead(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	second := readTimes(t, f.db, "bob")
	require.Len(t, second, 3)
	for i := range first {
		assert.True(t, first[i].Equal(second[i]), "readAt is only set on the first transition")
	}

	unread, err = f.svc.CountUnread(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 0, unread)

	receipts := f.notifier.byEvent(ws.EventMessagesRead)
	require.Len(t, receipts, 2)
	assert.Equal(t, "alice", receipts[0].Room)

	_, err = f.svc.MarkConversationRead(ctx, "bob", " ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestMarkSingleRead(t *testing.T) {
	f := newFixture(t, DefaultMessageConfig())
	ctx := context.Background()
	msg := f.send(t, "alice", "bob", "read me")

	err := f.svc.MarkSingleRead(ctx, "alice", msg.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "only the recipient may mark a message")

	err = f.svc.MarkSingleRead(ctx, "bob", msg.ID+100)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	require.NoError(t, f.svc.MarkSingleRead(ctx, "bob", msg.ID))

	var stored models.Message
	require.NoError(t, f.db.First(&stored, msg.ID).Error)
	assert.True(t, stored.Read)
	require.NotNil(t, stored.ReadAt)
	readAt := *stored.ReadAt

	require.NoError(t, f.svc.MarkSingleRead(ctx, "bob", msg.ID))
	require.NoError(t, f.db.First(&stored, msg.ID).Error)
	assert.True(t, readAt.Equal(*stored.ReadAt))

	assert.Len(t, f.notifier.byEvent(ws.EventMessagesRead), 1)
}

func TestGetConversations(t *testing.T) {
	f := newFixture(t, DefaultMessageConfig())
	ctx := context.Background()

	f.send(t, "bob", "alice", "from bob 1")
	f.send(t, "bob", "alice", "from bob 2")
	f.send(t, "carol", "alice", "from carol")
	f.send(t, "alice", "bob", "alice replies")

	conversations, err := f.svc.GetConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, conversations, 2)

	assert.Equal(t, "bob", conversations[0].User.ID)
	assert.Equal(t, "Bob", conversations[0].User.Name)
	assert.Equal(t, "alice replies", conversations[0].LastMessage.Content)
	assert.EqualValues(t, 2, conversations[0].UnreadCount)

	assert.Equal(t, "carol", conversations[1].User.ID)
	assert.Equal(t, "from carol", conversations[1].LastMessage.Content)
	assert.EqualValues(t, 1, conversations[1].UnreadCount)
	assert.Equal(t, "Carol", conversations[1].LastMessage.Sender.Name)

	empty, err := f.svc.GetConversations(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func readTimes(t *testing.T, db *gorm.DB, recipientID string) []time.Time {
	t.Helper()
	var messages []models.Message
	require.NoError(t, db.Where("recipient_id = ?", recipientID).Order("id").Find(&messages).Error)
	out := make([]time.Time, 0, len(messages))
	for _, m := range messages {
		require.NotNil(t, m.ReadAt)
		out = append(out, *m.ReadAt)
	}
	return out
}

type failingRepo struct {
	repository.MessageRepository
	err error
}

func (r failingRepo) Create(context.Context, *models.Message) error {
	return r.err
}
