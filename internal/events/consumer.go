// Package events consumes the price event stream written by the outbox relay.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/br-price-tracker/internal/database"
	"github.com/redis/go-redis/v9"
)

var ErrMalformedMessage = errors.New("malformed stream message")

type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Event is one decoded message of the price stream.
type Event struct {
	StreamID string
	ID       string
	Type     string
	Payload  database.PriceEventPayload
}

type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

type ConsumerConfig struct {
	Stream   string
	Group    string
	Name     string
	Count    int64
	Block    time.Duration
	ErrDelay time.Duration
}

// Consumer reads the stream as part of a consumer group and acknowledges each
// message once the handler accepted it. Messages that cannot be decoded are
// acknowledged and dropped.
type Consumer struct {
	client  StreamClient
	handler Handler
	cfg     ConsumerConfig
	logger  *slog.Logger
}

func NewConsumer(client StreamClient, handler Handler, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = database.PriceUpdatesStream
	}
	if cfg.Group == "" {
		cfg.Group = "price-alerts"
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ErrDelay <= 0 {
		cfg.ErrDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:  client,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With("component", "event_consumer"),
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", c.cfg.Group, err)
	}

	c.logger.Info("starting consumer", "stream", c.cfg.Stream, "group", c.cfg.Group, "name", c.cfg.Name)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ErrDelay):
			}
			continue
		}

		for _, stream := range streams {
			c.processMessages(ctx, stream.Messages)
		}
	}
}

func (c *Consumer) processMessages(ctx context.Context, msgs []redis.XMessage) {
	for _, msg := range msgs {
		ev, err := DecodeMessage(msg)
		if err != nil {
			c.logger.Error("dropping message", "id", msg.ID, "error", err)
			c.ack(ctx, msg.ID)
			continue
		}

		if err := c.handler.HandleEvent(ctx, ev); err != nil {
			// Left pending so it is redelivered to the group.
			c.logger.Error("failed to handle event", "id", msg.ID, "type", ev.Type, "error", err)
			continue
		}
		c.ack(ctx, msg.ID)
	}
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", id, "error", err)
	}
}

// DecodeMessage parses a message written by the outbox relay.
func DecodeMessage(msg redis.XMessage) (Event, error) {
	eventType, _ := msg.Values["event_type"].(string)
	data, ok := msg.Values["data"].(string)
	if eventType == "" || !ok {
		return Event{}, fmt.Errorf("%w: missing event_type or data", ErrMalformedMessage)
	}

	var envelope struct {
		ID      string                     `json:"id"`
		Payload database.PriceEventPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if envelope.Payload.Site == "" || envelope.Payload.ProductID == "" {
		return Event{}, fmt.Errorf("%w: payload without product", ErrMalformedMessage)
	}

	return Event{
		StreamID: msg.ID,
		ID:       envelope.ID,
		Type:     eventType,
		Payload:  envelope.Payload,
	}, nil
}
