package events

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fjod/electronics-store/internal/domain"
	"github.com/fjod/electronics-store/pkg/circuitbreaker"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafkaGo.Message
	err      error
	calls    int
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func basketCreated(id string) domain.Event {
	return domain.Event{
		Type:        domain.EventBasketCreated,
		AggregateID: id,
		Payload:     map[string]any{"items_added": 2},
		OccurredAt:  time.Now().UTC(),
	}
}

func TestPublish_WritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, nil)

	require.NoError(t, p.Publish(context.Background(), basketCreated("basket-1")))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "basket-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "basket.created", string(msg.Headers[0].Value))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "basket.created", body["event_type"])
	assert.Equal(t, "basket-1", body["aggregate_id"])
}

func TestPublish_WriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := NewPublisher(w, nil)

	err := p.Publish(context.Background(), basketCreated("basket-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
}

func TestPublish_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := NewPublisher(w, nil)
	ctx := context.Background()

	for i := 0; i < circuitbreaker.DefaultFailureThreshold; i++ {
		require.Error(t, p.Publish(ctx, basketCreated("basket-1")))
	}

	err := p.Publish(ctx, basketCreated("basket-1"))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, circuitbreaker.DefaultFailureThreshold, w.calls, "open breaker must not reach the writer")
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, nil)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNoopPublisher(t *testing.T) {
	var p NoopPublisher
	assert.NoError(t, p.Publish(context.Background(), basketCreated("basket-1")))
	assert.NoError(t, p.Close())
}

func setupKafka(t *testing.T) string {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")
	return brokers[0]
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestKafkaPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}
	broker := setupKafka(t)
	topic := "basket-events-test"

	createTopic(t, broker, topic)

	p := NewKafkaPublisher([]string{broker}, topic, nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, p.Publish(ctx, basketCreated("basket-42")))

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		GroupID:  "basket-events-test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "basket-42", string(msg.Key))
}
