package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/maltedev/br-price-tracker/internal/database"
	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *MockStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	return args.Get(0).(*redis.XStreamSliceCmd)
}

func (m *MockStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	return args.Get(0).(*redis.IntCmd)
}

type recordingHandler struct {
	events []Event
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, ev Event) error {
	h.events = append(h.events, ev)
	return h.err
}

type recordingNotifier struct {
	drops []Drop
}

func (n *recordingNotifier) Notify(_ context.Context, d Drop) error {
	n.drops = append(n.drops, d)
	return nil
}

func priceMessage(t *testing.T, id, eventType string, payload database.PriceEventPayload) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"id":      "evt-" + id,
		"type":    eventType,
		"payload": payload,
	})
	require.NoError(t, err)
	return redis.XMessage{
		ID: id,
		Values: map[string]any{
			"event_type": eventType,
			"data":       string(data),
		},
	}
}

func changedPayload(oldCash, newCash *float64) database.PriceEventPayload {
	return database.PriceEventPayload{
		Site:      models.SiteKabum,
		ProductID: "123",
		URL:       "https://www.kabum.com.br/produto/123",
		Name:      models.String("SSD NVMe 1TB"),
		Previous:  &models.PriceRecord{Name: models.String("SSD NVMe 1TB"), CashPrice: oldCash, InstallmentTotal: models.Float(500)},
		Current:   models.PriceRecord{Name: models.String("SSD NVMe 1TB"), CashPrice: newCash, InstallmentTotal: models.Float(450)},
		ScrapedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDecodeMessage(t *testing.T) {
	msg := priceMessage(t, "1-0", database.EventPriceChanged, changedPayload(models.Float(400), models.Float(350)))

	ev, err := DecodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "1-0", ev.StreamID)
	assert.Equal(t, "evt-1-0", ev.ID)
	assert.Equal(t, database.EventPriceChanged, ev.Type)
	assert.Equal(t, "123", ev.Payload.ProductID)
	assert.Equal(t, 400.0, *ev.Payload.Previous.CashPrice)

	tests := []struct {
		name   string
		values map[string]any
	}{
		{"missing data", map[string]any{"event_type": database.EventPriceChanged}},
		{"missing type", map[string]any{"data": "{}"}},
		{"invalid json", map[string]any{"event_type": database.EventPriceChanged, "data": "{"}},
		{"no product", map[string]any{"event_type": database.EventPriceChanged, "data": `{"payload":{}}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(redis.XMessage{ID: "2-0", Values: tt.values})
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestFindDrop(t *testing.T) {
	tests := []struct {
		name       string
		payload    database.PriceEventPayload
		minPercent float64
		wantOK     bool
		wantField  string
		wantPct    float64
	}{
		{"cash drop", changedPayload(models.Float(400), models.Float(360)), 5, true, "cash_price", 10},
		{"below threshold", changedPayload(models.Float(400), models.Float(396)), 5, false, "", 0},
		{"price increase", changedPayload(models.Float(400), models.Float(420)), 0, false, "", 0},
		{"installment fallback", changedPayload(nil, models.Float(360)), 5, true, "installment_total", 10},
		{"first snapshot", database.PriceEventPayload{Site: models.SiteKabum, ProductID: "123"}, 0, false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drop, ok := FindDrop(tt.payload, tt.minPercent)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantField, drop.Field)
				assert.InDelta(t, tt.wantPct, drop.Percent, 0.001)
				assert.Equal(t, "SSD NVMe 1TB", drop.Name)
			}
		})
	}
}

func TestDropDetectorIgnoresTrackedEvents(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDropDetector(1, notifier)

	payload := changedPayload(models.Float(400), models.Float(300))
	require.NoError(t, d.HandleEvent(context.Background(), Event{Type: database.EventProductTracked, Payload: payload}))
	assert.Empty(t, notifier.drops)

	require.NoError(t, d.HandleEvent(context.Background(), Event{Type: database.EventPriceChanged, Payload: payload}))
	require.Len(t, notifier.drops, 1)
	assert.Equal(t, 300.0, notifier.drops[0].New)
}

func TestConsumerProcessMessages(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	handler := &recordingHandler{}
	c := NewConsumer(client, handler, ConsumerConfig{}, nil)

	ackCmd := redis.NewIntCmd(ctx)
	ackCmd.SetVal(1)
	client.On("XAck", ctx, database.PriceUpdatesStream, "price-alerts", []string{"1-0"}).Return(ackCmd)
	client.On("XAck", ctx, database.PriceUpdatesStream, "price-alerts", []string{"2-0"}).Return(ackCmd)

	c.processMessages(ctx, []redis.XMessage{
		priceMessage(t, "1-0", database.EventPriceChanged, changedPayload(models.Float(400), models.Float(350))),
		{ID: "2-0", Values: map[string]any{"event_type": "garbage"}},
	})

	assert.Len(t, handler.events, 1)
	client.AssertExpectations(t)
}

func TestConsumerLeavesFailedEventsPending(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	handler := &recordingHandler{err: errors.New("notifier down")}
	c := NewConsumer(client, handler, ConsumerConfig{}, nil)

	c.processMessages(ctx, []redis.XMessage{
		priceMessage(t, "1-0", database.EventPriceChanged, changedPayload(models.Float(400), models.Float(350))),
	})

	assert.Len(t, handler.events, 1)
	client.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := new(MockStreamClient)
	handler := &recordingHandler{}
	c := NewConsumer(client, handler, ConsumerConfig{Group: "alerts", Name: "test"}, nil)

	groupCmd := redis.NewStatusCmd(ctx)
	groupCmd.SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))
	client.On("XGroupCreateMkStream", ctx, database.PriceUpdatesStream, "alerts", "0").Return(groupCmd)

	batch := redis.NewXStreamSliceCmd(ctx)
	batch.SetVal([]redis.XStream{{
		Stream: database.PriceUpdatesStream,
		Messages: []redis.XMessage{
			priceMessage(t, "1-0", database.EventPriceChanged, changedPayload(models.Float(400), models.Float(350))),
		},
	}})
	empty := redis.NewXStreamSliceCmd(ctx)
	empty.SetErr(redis.Nil)

	client.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
		return a.Group == "alerts" && a.Consumer == "test" && a.Streams[1] == ">"
	})).Return(batch).Once()
	client.On("XReadGroup", ctx, mock.Anything).Return(empty).Run(func(mock.Arguments) { cancel() })

	ackCmd := redis.NewIntCmd(ctx)
	ackCmd.SetVal(1)
	client.On("XAck", ctx, database.PriceUpdatesStream, "alerts", []string{"1-0"}).Return(ackCmd)

	err := c.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, handler.events, 1)
	client.AssertExpectations(t)
}
