package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradedesk/internal/config"
	"tradedesk/internal/ledger"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func TestKafkaPublish(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaWithWriter(w, "orders.lifecycle")
	at := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)
	err := p.Publish(context.Background(), ledger.LifecycleEvent{
		Type:             ledger.EventOrderFilled,
		OrderID:          "o-1",
		BrokerOrderID:    "b-1",
		AccountID:        "acct-1",
		Symbol:           "AAPL",
		Side:             "BUY",
		Status:           "FILLED",
		ApproximateTotal: decimal.RequireFromString("1525.10"),
		OccurredAt:       at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "o-1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, ledger.EventOrderFilled, string(msg.Headers[0].Value))
	assert.Equal(t, "1525.1", gjson.GetBytes(msg.Value, "approximate_total").String())
	assert.Equal(t, "b-1", gjson.GetBytes(msg.Value, "broker_order_id").String())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublishError(t *testing.T) {
	boom := errors.New("leader not available")
	p := NewKafkaWithWriter(&captureWriter{err: boom}, "t")
	err := p.Publish(context.Background(), ledger.LifecycleEvent{Type: ledger.EventOrderAccepted, OrderID: "o-1"})
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaRequiresBrokers(t *testing.T) {
	_, err := NewKafka(config.PublisherConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafka(config.PublisherConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
	p, err := NewKafka(config.PublisherConfig{Brokers: []string{"localhost:9092"}, Topic: "t"})
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
