package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"nexthire/backend/internal/models"

	"gorm.io/gorm"
)

// ErrMessageNotFound is returned when a message id does not exist
var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the persistence surface of the chat. Every mutation is a single
// INSERT or UPDATE statement; concurrent callers rely on the database for atomicity.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	// ListBetween returns one page of the conversation, newest first
	ListBetween(ctx context.Context, userA, userB string, limit, offset int) ([]models.Message, error)
	MarkRead(ctx context.Context, readerID, counterpartID string, at time.Time) (int64, error)
	MarkOneRead(ctx context.Context, id uint, at time.Time) (bool, error)
	LatestPerCounterpart(ctx context.Context, userID string) ([]models.Message, error)
	UnreadBySender(ctx context.Context, userID string) (map[string]int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).First(&message, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

func (r *GormMessageRepository) ListBetween(ctx context.Context, userA, userB string, limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)", userA, userB, userB, userA).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	return messages, err
}

func (r *GormMessageRepository) MarkRead(ctx context.Context, readerID, counterpartID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("sender_id = ? AND recipient_id = ? AND is_read = ?", counterpartID, readerID, false).
		Updates(map[string]any{"is_read": true, "read_at": at})
	return result.RowsAffected, result.Error
}

func (r *GormMessageRepository) MarkOneRead(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]any{"is_read": true, "read_at": at})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// latestPerCounterpartSQL picks the newest message of every conversation the user takes part in
const latestPerCounterpartSQL = `
SELECT id FROM (
	SELECT id,
		ROW_NUMBER() OVER (
			PARTITION BY CASE WHEN sender_id = ? THEN recipient_id ELSE sender_id END
			ORDER BY created_at DESC, id DESC
		) AS rn
	FROM messages
	WHERE sender_id = ? OR recipient_id = ?
) ranked
WHERE rn = 1`

func (r *GormMessageRepository) LatestPerCounterpart(ctx context.Context, userID string) ([]models.Message, error) {
	db := r.db.WithContext(ctx)

	var ids []uint
	if err := db.Raw(latestPerCounterpartSQL, userID, userID, userID).Scan(&ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Message{}, nil
	}

	var messages []models.Message
	if err := db.Where("id IN ?", ids).Find(&messages).Error; err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID > messages[j].ID
		}
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})
	return messages, nil
}

func (r *GormMessageRepository) UnreadBySender(ctx context.Context, userID string) (map[string]int64, error) {
	var rows []struct {
		SenderID string
		Count    int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("sender_id, COUNT(*) AS count").
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.SenderID] = row.Count
	}
	return counts, nil
}

func (r *GormMessageRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}
