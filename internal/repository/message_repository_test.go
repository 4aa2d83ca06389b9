package repository

import (
	"context"
	"testing"
	"time"

	"nexthire/backend/internal/models"
	"nexthire/backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *GormMessageRepository, from, to, content string, at time.Time) *models.Message {
	t.Helper()
	msg := &models.Message{SenderID: from, RecipientID: to, Content: content, CreatedAt: at}
	require.NoError(t, repo.Create(context.Background(), msg))
	return msg
}

func TestListBetweenNewestFirst(t *testing.T) {
	repo := NewGormMessageRepository(testutil.NewDB(t))
	ctx := context.Background()

	seed(t, repo, "a", "b", "one", base)
	seed(t, repo, "b", "a", "two", base.Add(time.Minute))
	seed(t, repo, "a", "c", "elsewhere", base.Add(2*time.Minute))
	seed(t, repo, "a", "b", "three", base.Add(3*time.Minute))

	page, err := repo.ListBetween(ctx, "b", "a", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "three", page[0].Content)
	assert.Equal(t, "two", page[1].Content)

	page, err = repo.ListBetween(ctx, "a", "b", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "one", page[0].Content)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	repo := NewGormMessageRepository(testutil.NewDB(t))
	ctx := context.Background()

	seed(t, repo, "b", "a", "1", base)
	seed(t, repo, "b", "a", "2", base.Add(time.Second))
	seed(t, repo, "a", "b", "mine", base.Add(2*time.Second))

	n, err := repo.MarkRead(ctx, "a", "b", base.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.MarkRead(ctx, "a", "b", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	page, err := repo.ListBetween(ctx, "a", "b", 10, 0)
	require.NoError(t, err)
	for _, m := range page {
		if m.SenderID == "b" {
			assert.True(t, m.Read)
			require.NotNil(t, m.ReadAt)
			assert.True(t, m.ReadAt.Equal(base.Add(time.Hour)), "readAt must keep the first transition time")
		} else {
			assert.False(t, m.Read, "own messages are not marked")
		}
	}
}

func TestMarkOneRead(t *testing.T) {
	repo := NewGormMessageRepository(testutil.NewDB(t))
	ctx := context.Background()

	msg := seed(t, repo, "b", "a", "hi", base)

	changed, err := repo.MarkOneRead(ctx, msg.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkOneRead(ctx, msg.ID, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = repo.GetByID(ctx, msg.ID+100)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestLatestPerCounterpart(t *testing.T) {
	repo := NewGormMessageRepository(testutil.NewDB(t))
	ctx := context.Background()

	seed(t, repo, "a", "b", "t1", base)
	seed(t, repo, "c", "a", "t2", base.Add(time.Minute))
	seed(t, repo, "b", "a", "t3", base.Add(2*time.Minute))
	seed(t, repo, "b", "c", "not mine", base.Add(3*time.Minute))

	latest, err := repo.LatestPerCounterpart(ctx, "a")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "t3", latest[0].Content)
	assert.Equal(t, "b", latest[0].CounterpartOf("a"))
	assert.Equal(t, "t2", latest[1].Content)
	assert.Equal(t, "c", latest[1].CounterpartOf("a"))

	none, err := repo.LatestPerCounterpart(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUnreadCounts(t *testing.T) {
	repo := NewGormMessageRepository(testutil.NewDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seed(t, repo, "b", "a", "from b", base.Add(time.Duration(i)*time.Second))
	}
	seed(t, repo, "c", "a", "from c", base.Add(time.Minute))
	seed(t, repo, "a", "b", "to b", base.Add(2*time.Minute))

	bySender, err := repo.UnreadBySender(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"b": 3, "c": 1}, bySender)

	total, err := repo.CountUnread(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
}
