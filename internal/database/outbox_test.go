package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 300 * time.Second},
		{40, 300 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, retryBackoff(tt.retryCount), "retry %d", tt.retryCount)
	}
}

func TestNextOutboxStatus(t *testing.T) {
	assert.Equal(t, OutboxStatusFailed, nextOutboxStatus(1))
	assert.Equal(t, OutboxStatusFailed, nextOutboxStatus(MaxRetryCount-1))
	assert.Equal(t, OutboxStatusDeadLetter, nextOutboxStatus(MaxRetryCount))
}

func priceEvent(aggregateID string) *OutboxEvent {
	return &OutboxEvent{
		AggregateType: "product",
		AggregateID:   aggregateID,
		EventType:     EventPriceChanged,
		Payload:       json.RawMessage(`{"site":"kabum","product_id":"` + aggregateID + `"}`),
	}
}

func insertEvent(t *testing.T, db *DB, repo *OutboxRepository, event *OutboxEvent) {
	t.Helper()
	err := db.WithTx(context.Background(), func(tx pgx.Tx) error {
		return repo.InsertWithTx(context.Background(), tx, event)
	})
	require.NoError(t, err)
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	t.Run("defaults are filled in", func(t *testing.T) {
		event := priceEvent("kabum:100")
		insertEvent(t, db, repo, event)

		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, PriceUpdatesStream, event.TargetStream)
		assert.False(t, event.CreatedAt.IsZero())
	})

	t.Run("rolled back with the transaction", func(t *testing.T) {
		event := priceEvent("kabum:200")
		err := db.WithTx(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		events, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		for _, e := range events {
			assert.NotEqual(t, "kabum:200", e.AggregateID)
		}
	})
}

func TestOutboxRepository_GetPending(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	processed := priceEvent("kabum:2")
	processed.Status = OutboxStatusProcessed
	retrying := priceEvent("kabum:4")
	retrying.Status = OutboxStatusFailed
	retrying.RetryCount = 2

	for _, event := range []*OutboxEvent{priceEvent("kabum:1"), processed, priceEvent("kabum:3"), retrying} {
		insertEvent(t, db, repo, event)
	}

	t.Run("pending and failed only", func(t *testing.T) {
		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		for i, e := range pending {
			assert.Contains(t, []string{OutboxStatusPending, OutboxStatusFailed}, e.Status)
			if i > 0 {
				assert.False(t, e.CreatedAt.Before(pending[i-1].CreatedAt))
			}
		}
	})

	t.Run("limit", func(t *testing.T) {
		pending, err := repo.GetPending(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, pending, 2)
	})

	t.Run("respects next_retry_at", func(t *testing.T) {
		_, err := db.Exec(ctx,
			"UPDATE outbox_event SET next_retry_at = $1 WHERE aggregate_id = $2",
			time.Now().Add(time.Hour), "kabum:4")
		require.NoError(t, err)

		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		for _, e := range pending {
			assert.NotEqual(t, "kabum:4", e.AggregateID)
		}

		count, err := repo.PendingCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})
}

func TestOutboxRepository_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	event := priceEvent("amazon:B0TESTTEST")
	insertEvent(t, db, repo, event)

	require.NoError(t, repo.MarkProcessed(ctx, event.ID))

	var status string
	var processedAt *time.Time
	err := db.QueryRow(ctx,
		"SELECT status, processed_at FROM outbox_event WHERE id = $1",
		event.ID).Scan(&status, &processedAt)
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusProcessed, status)
	require.NotNil(t, processedAt)

	assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))
}

func TestOutboxRepository_MarkFailed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	t.Run("increments retry count and schedules retry", func(t *testing.T) {
		event := priceEvent("kabum:10")
		insertEvent(t, db, repo, event)

		require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

		var status string
		var retryCount int
		var errorMsg *string
		var nextRetry *time.Time
		err := db.QueryRow(ctx,
			"SELECT status, retry_count, error_message, next_retry_at FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &retryCount, &errorMsg, &nextRetry)
		require.NoError(t, err)

		assert.Equal(t, OutboxStatusFailed, status)
		assert.Equal(t, 1, retryCount)
		require.NotNil(t, errorMsg)
		assert.Contains(t, *errorMsg, "assert.AnError")
		require.NotNil(t, nextRetry)
		assert.True(t, nextRetry.After(time.Now()))
	})

	t.Run("dead letter after max retries", func(t *testing.T) {
		event := priceEvent("kabum:11")
		event.RetryCount = MaxRetryCount - 1
		insertEvent(t, db, repo, event)

		require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

		dead, err := repo.DeadLetterCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), dead)
	})
}
