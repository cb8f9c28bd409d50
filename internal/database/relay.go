package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	relaySource = "br-price-tracker"

	// DefaultStreamMaxLen is the approximate number of entries kept per stream.
	DefaultStreamMaxLen int64 = 100_000
)

// RedisClient is the part of the Redis client the relay needs.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxRepo is implemented by OutboxRepository.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

// StreamMessage is the JSON document stored in the "data" field of a
// price stream entry.
type StreamMessage struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Product    string          `json:"product"`
	Source     string          `json:"source"`
	Attempt    int             `json:"attempt"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Relay moves committed outbox rows onto their Redis streams.
type Relay struct {
	redis  RedisClient
	outbox OutboxRepo
	logger *slog.Logger
	cfg    RelayConfig
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen trims streams approximately on every XADD. Zero means
	// DefaultStreamMaxLen and a negative value disables trimming.
	StreamMaxLen int64
}

// RelayStats summarizes the outbox backlog.
type RelayStats struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.StreamMaxLen == 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		redis:  redisClient,
		outbox: outbox,
		logger: logger.With("component", "relay"),
		cfg:    cfg,
	}
}

// Start flushes the outbox once immediately and then on every tick until
// ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("relay running", "interval", r.cfg.PollInterval, "batch_size", r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("outbox flush failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch of pending price events and returns how many
// reached Redis. An event that cannot be published is scheduled for retry
// and the rest of the batch still goes out.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.outbox.GetPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending price events: %w", err)
	}

	published, failed := 0, 0
	for _, ev := range pending {
		if err := r.publish(ctx, ev); err != nil {
			failed++
			r.logger.Warn("price event not published",
				"outbox_id", ev.ID,
				"product", ev.AggregateID,
				"attempt", ev.RetryCount+1,
				"error", err)
			if markErr := r.outbox.MarkFailed(ctx, ev.ID, err); markErr != nil {
				r.logger.Error("failed to schedule retry", "outbox_id", ev.ID, "error", markErr)
			}
			continue
		}

		// The entry is on the stream already; if this fails it goes out
		// again next pass and consumers see a duplicate id.
		if err := r.outbox.MarkProcessed(ctx, ev.ID); err != nil {
			r.logger.Error("failed to mark price event processed", "outbox_id", ev.ID, "error", err)
			continue
		}
		published++
	}

	if len(pending) > 0 {
		r.logger.Info("outbox flushed", "published", published, "failed", failed)
	}
	return published, nil
}

func (r *Relay) Stats(ctx context.Context) (RelayStats, error) {
	pending, err := r.outbox.PendingCount(ctx)
	if err != nil {
		return RelayStats{}, err
	}
	dead, err := r.outbox.DeadLetterCount(ctx)
	if err != nil {
		return RelayStats{}, err
	}
	return RelayStats{Pending: pending, DeadLetter: dead}, nil
}

func (r *Relay) publish(ctx context.Context, ev *OutboxEvent) error {
	msg, err := newStreamMessage(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode stream message: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: ev.TargetStream,
		Values: map[string]any{
			"data":       string(data),
			"event_type": ev.EventType,
			"product":    ev.AggregateID,
			"outbox_id":  msg.ID,
		},
	}
	if r.cfg.StreamMaxLen > 0 {
		args.MaxLen = r.cfg.StreamMaxLen
		args.Approx = true
	}

	if err := r.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", ev.TargetStream, err)
	}
	return nil
}

func newStreamMessage(ev *OutboxEvent) (StreamMessage, error) {
	if !json.Valid(ev.Payload) {
		return StreamMessage{}, fmt.Errorf("outbox event %s carries invalid JSON", ev.ID)
	}
	recordedAt := ev.CreatedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	return StreamMessage{
		ID:         ev.ID.String(),
		Type:       ev.EventType,
		Product:    ev.AggregateID,
		Source:     relaySource,
		Attempt:    ev.RetryCount + 1,
		RecordedAt: recordedAt.UTC(),
		Payload:    ev.Payload,
	}, nil
}
