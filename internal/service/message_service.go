package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"nexthire/backend/internal/metrics"
	"nexthire/backend/internal/models"
	"nexthire/backend/internal/repository"
	apperrors "nexthire/backend/pkg/errors"
	"nexthire/backend/pkg/logger"
	"nexthire/backend/pkg/ws"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Transports a message can arrive through, used as a metrics label
const (
	ViaREST   = "rest"
	ViaSocket = "socket"
)

// Notifier pushes an event to every live session joined to a room.
// Implementations must not block on slow receivers.
type Notifier interface {
	Emit(ctx context.Context, room, event string, payload any) error
}

// MessageConfig holds the limits applied by MessageService
type MessageConfig struct {
	MaxContentLength  int
	DefaultPageSize   int
	MaxPageSize       int
	AllowSelfMessages bool
}

// DefaultMessageConfig returns the production limits
func DefaultMessageConfig() MessageConfig {
	return MessageConfig{
		MaxContentLength: 1000,
		DefaultPageSize:  50,
		MaxPageSize:      100,
	}
}

// SendMessageRequest is the input of SendMessage, whichever transport it came from
type SendMessageRequest struct {
	RecipientID string
	Content     string
	JobID       *string
	Via         string
}

// MessageService owns chat persistence and the fan-out that follows each write
type MessageService struct {
	repo     repository.MessageRepository
	users    UserDirectory
	notifier Notifier
	cfg      MessageConfig
	now      func() time.Time
	tracer   trace.Tracer
	sendTime metric.Float64Histogram
}

// MessageOption customizes a MessageService
type MessageOption func(*MessageService)

// WithClock replaces the time source
func WithClock(now func() time.Time) MessageOption {
	return func(s *MessageService) { s.now = now }
}

// NewMessageService creates a new message service
func NewMessageService(repo repository.MessageRepository, users UserDirectory, notifier Notifier, cfg MessageConfig, opts ...MessageOption) *MessageService {
	def := DefaultMessageConfig()
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = def.MaxContentLength
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}

	s := &MessageService{
		repo:     repo,
		users:    users,
		notifier: notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   otel.Tracer("nexthire/backend/internal/service"),
	}
	// only an invalid instrument name makes this fail
	s.sendTime, _ = otel.Meter("nexthire/backend/internal/service").Float64Histogram(
		"chat.message.send.duration",
		metric.WithDescription("Time to validate, persist and fan out one message"),
		metric.WithUnit("s"),
	)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessage validates, persists and delivers one message. It is the only write path
// for messages; REST and socket handlers both call it.
func (s *MessageService) SendMessage(ctx context.Context, senderID string, req SendMessageRequest) (*models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.SendMessage",
		trace.WithAttributes(attribute.String("chat.via", req.Via)))
	defer span.End()

	start := time.Now()
	defer func() {
		if s.sendTime != nil {
			s.sendTime.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("chat.via", req.Via)))
		}
	}()

	recipientID := strings.TrimSpace(req.RecipientID)
	content := strings.TrimSpace(req.Content)

	if recipientID == "" {
		return nil, fail(span, apperrors.Validation("Recipient is required"))
	}
	if content == "" {
		return nil, fail(span, apperrors.Validation("Message content is required"))
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxContentLength {
		return nil, fail(span, apperrors.BadRequestWithDetails(apperrors.CodeValidation,
			"Message content is too long", map[string]int{"maxLength": s.cfg.MaxContentLength}))
	}
	if recipientID == senderID && !s.cfg.AllowSelfMessages {
		return nil, fail(span, apperrors.Validation("You cannot send a message to yourself"))
	}

	summaries, err := s.users.GetSummaries(ctx, []string{senderID, recipientID})
	if err != nil {
		return nil, fail(span, err)
	}
	recipient, ok := summaries[recipientID]
	if !ok {
		return nil, fail(span, apperrors.NotFound("Recipient not found"))
	}

	message := &models.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		JobID:       normalizeJobID(req.JobID),
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, message); err != nil {
		return nil, fail(span, apperrors.Storage(err))
	}

	sender := summaryOrStub(summaries, senderID)
	message.Sender = &sender
	message.Recipient = &recipient

	via := req.Via
	if via == "" {
		via = ViaREST
	}
	metrics.MessagesSent.WithLabelValues(via).Inc()
	span.SetAttributes(attribute.Int64("chat.message_id", int64(message.ID)))

	s.emit(ctx, ws.PairRoomID(senderID, recipientID), ws.EventReceiveMessage, message)
	s.emit(ctx, ws.PersonalRoomID(recipientID), ws.EventNewMessageNotification, models.NewMessageNotification{
		Message: message,
		Sender:  message.Sender,
	})

	return message, nil
}

// ListMessages returns one page of the conversation between userID and counterpartID,
// oldest to newest. Messages the counterpart sent to userID are marked read first,
// and the counterpart is told when any changed.
func (s *MessageService) ListMessages(ctx context.Context, userID, counterpartID string, page, limit int) ([]models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.ListMessages")
	defer span.End()

	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == "" {
		return nil, fail(span, apperrors.Validation("Recipient is required"))
	}

	page, limit = s.normalizePage(page, limit)
	span.SetAttributes(attribute.Int("chat.page", page), attribute.Int("chat.limit", limit))

	if _, err := s.markRead(ctx, userID, counterpartID, false); err != nil {
		return nil, fail(span, err)
	}

	// pages whose offset does not fit an int lie past any stored conversation
	if page-1 > math.MaxInt/limit {
		return []models.Message{}, nil
	}

	messages, err := s.repo.ListBetween(ctx, userID, counterpartID, limit, (page-1)*limit)
	if err != nil {
		return nil, fail(span, apperrors.Storage(err))
	}

	// the store pages newest first; clients render oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	summaries, err := s.users.GetSummaries(ctx, []string{userID, counterpartID})
	if err != nil {
		return nil, fail(span, err)
	}
	for i := range messages {
		populate(&messages[i], summaries)
	}
	return messages, nil
}

// MarkConversationRead marks everything counterpartID sent to readerID as read and
// sends the read receipt once the write has returned
func (s *MessageService) MarkConversationRead(ctx context.Context, readerID, counterpartID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.MarkConversationRead")
	defer span.End()

	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == "" {
		return 0, fail(span, apperrors.Validation("Sender is required"))
	}

	n, err := s.markRead(ctx, readerID, counterpartID, true)
	if err != nil {
		return 0, fail(span, err)
	}
	return n, nil
}

// MarkSingleRead marks one message read on behalf of its recipient. Messages addressed
// to someone else are reported as not found. Repeating the call changes nothing.
func (s *MessageService) MarkSingleRead(ctx context.Context, userID string, messageID uint) error {
	ctx, span := s.tracer.Start(ctx, "MessageService.MarkSingleRead",
		trace.WithAttributes(attribute.Int64("chat.message_id", int64(messageID))))
	defer span.End()

	message, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return fail(span, apperrors.NotFound("Message not found"))
		}
		return fail(span, apperrors.Storage(err))
	}
	if message.RecipientID != userID {
		return fail(span, apperrors.NotFound("Message not found"))
	}
	if message.Read {
		return nil
	}

	changed, err := s.repo.MarkOneRead(ctx, messageID, s.now())
	if err != nil {
		return fail(span, apperrors.Storage(err))
	}
	if changed {
		metrics.MessagesMarkedRead.Inc()
		s.emit(ctx, ws.PersonalRoomID(message.SenderID), ws.EventMessagesRead, ws.MessagesRead{ReaderID: userID})
	}
	return nil
}

// GetConversations lists one entry per counterpart, most recent first
func (s *MessageService) GetConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.GetConversations")
	defer span.End()

	latest, err := s.repo.LatestPerCounterpart(ctx, userID)
	if err != nil {
		return nil, fail(span, apperrors.Storage(err))
	}
	if len(latest) == 0 {
		return []models.Conversation{}, nil
	}

	unread, err := s.repo.UnreadBySender(ctx, userID)
	if err != nil {
		return nil, fail(span, apperrors.Storage(err))
	}

	ids := make([]string, 0, len(latest)+1)
	ids = append(ids, userID)
	for i := range latest {
		ids = append(ids, latest[i].CounterpartOf(userID))
	}
	summaries, err := s.users.GetSummaries(ctx, ids)
	if err != nil {
		return nil, fail(span, err)
	}

	conversations := make([]models.Conversation, 0, len(latest))
	for i := range latest {
		message := latest[i]
		populate(&message, summaries)

		counterpart := message.CounterpartOf(userID)
		conversations = append(conversations, models.Conversation{
			User:        summaryOrStub(summaries, counterpart),
			LastMessage: message,
			UnreadCount: unread[counterpart],
		})
	}
	span.SetAttributes(attribute.Int("chat.conversations", len(conversations)))
	return conversations, nil
}

// CountUnread returns how many messages addressed to userID are unread
func (s *MessageService) CountUnread(ctx context.Context, userID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.CountUnread")
	defer span.End()

	n, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, fail(span, apperrors.Storage(err))
	}
	return n, nil
}

// markRead runs the bulk update and sends the receipt to the counterpart's personal
// room. With always unset the receipt is only sent when something changed.
func (s *MessageService) markRead(ctx context.Context, readerID, counterpartID string, always bool) (int64, error) {
	n, err := s.repo.MarkRead(ctx, readerID, counterpartID, s.now())
	if err != nil {
		return 0, apperrors.Storage(err)
	}
	if n > 0 {
		metrics.MessagesMarkedRead.Add(float64(n))
	}
	if n > 0 || always {
		s.emit(ctx, ws.PersonalRoomID(counterpartID), ws.EventMessagesRead, ws.MessagesRead{ReaderID: readerID})
	}
	return n, nil
}

func (s *MessageService) normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	return page, limit
}

// emit never fails the caller; the write it follows is already committed
func (s *MessageService) emit(ctx context.Context, room, event string, payload any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Emit(ctx, room, event, payload); err != nil {
		metrics.FanoutFailures.WithLabelValues("emit").Inc()
		logger.FromContext(ctx).LogError(err, "Failed to emit chat event", "room", room, "event", event)
	}
}

func populate(message *models.Message, summaries map[string]models.UserSummary) {
	sender := summaryOrStub(summaries, message.SenderID)
	recipient := summaryOrStub(summaries, message.RecipientID)
	message.Sender = &sender
	message.Recipient = &recipient
}

// summaryOrStub keeps messages renderable when a participant has since been removed
func summaryOrStub(summaries map[string]models.UserSummary, id string) models.UserSummary {
	if summary, ok := summaries[id]; ok {
		return summary
	}
	return models.UserSummary{ID: id}
}

func normalizeJobID(jobID *string) *string {
	if jobID == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*jobID)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperrors.GetErrorCode(err))
	return err
}
