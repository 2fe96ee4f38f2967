package kafka

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_Fields(t *testing.T) {
	ev, err := NewEvent("cart.rollback", "user-1", "cart", "storefront-sync", map[string]string{"op": "add_item"})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "cart.rollback", ev.EventType)
	assert.Equal(t, "user-1", ev.AggregateID)
	assert.Equal(t, "cart", ev.AggregateType)
	assert.Equal(t, EnvelopeVersion, ev.Version)
	assert.Equal(t, "storefront-sync", ev.Source)
	assert.WithinDuration(t, time.Now(), ev.Timestamp, 5*time.Second)
	assert.JSONEq(t, `{"op":"add_item"}`, string(ev.Data))
}

func TestNewEvent_InvalidData(t *testing.T) {
	_, err := NewEvent("x", "id", "t", "s", make(chan int))
	assert.Error(t, err)
}

func TestEvent_AnnotateRoundTrip(t *testing.T) {
	ev, err := NewEvent("checkout.completed", "sess-1", "checkout", "storefront-sync", map[string]string{"order_id": "o1"})
	require.NoError(t, err)
	ev.Annotate("corr-1", "user_id", "u1", "session_id", "", "dangling")

	data, err := ev.Marshal()
	require.NoError(t, err)
	var got Event
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, map[string]string{"user_id": "u1"}, got.Metadata)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(got.Data, &payload))
	assert.Equal(t, "o1", payload["order_id"])
}

func TestEvent_IDsAreTimeOrdered(t *testing.T) {
	a, err := NewEvent("x", "id", "t", "s", nil)
	require.NoError(t, err)
	b, err := NewEvent("x", "id", "t", "s", nil)
	require.NoError(t, err)

	assert.Less(t, a.EventID, b.EventID)
}

func TestEvent_AnnotateWithoutValuesKeepsMetadataNil(t *testing.T) {
	ev := &Event{}
	ev.Annotate("", "session_id", "")
	assert.Nil(t, ev.Metadata)
	assert.Empty(t, ev.CorrelationID)
}

func TestDefaultProducerConfig(t *testing.T) {
	brokers := []string{"broker1:9092", "broker2:9092"}
	cfg := DefaultProducerConfig(brokers)

	assert.Equal(t, brokers, cfg.Brokers)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 200*time.Millisecond, cfg.BatchTimeout)
	assert.True(t, cfg.Async)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "storefront", TopicPrefix)
	assert.Equal(t, "storefront.cart.rollback", Topic("cart", "rollback"))
	assert.Equal(t, "storefront.migration.timeout", Topic("migration", "timeout"))
}

func TestNewProducer_CreatesInstance(t *testing.T) {
	p := NewProducer(DefaultProducerConfig([]string{"localhost:19092"}), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NotNil(t, p)
	assert.Equal(t, []string{"localhost:19092"}, p.brokers)
	assert.NoError(t, p.Close())
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(t.Context(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers configured")
}
