package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/cartsync/internal/cache"
	"github.com/redis/go-redis/v9"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap/zaptest"
)

type fakeReader struct {
	msgs   chan kafkaGo.Message
	errs   chan error
	closed bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{msgs: make(chan kafkaGo.Message, 8), errs: make(chan error, 8)}
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafkaGo.Message, error) {
	select {
	case <-ctx.Done():
		return kafkaGo.Message{}, ctx.Err()
	case err := <-f.errs:
		return kafkaGo.Message{}, err
	case m := <-f.msgs:
		return m, nil
	}
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type recordingClearer struct {
	mu    sync.Mutex
	users []string
}

func (r *recordingClearer) ClearUser(_ context.Context, userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return 1
}

func (r *recordingClearer) cleared() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.users...)
}

func setupTestRedis(t *testing.T) *cache.RedisCache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewRedisCache(client, time.Minute)
}

func event(t *testing.T, payload map[string]interface{}) kafkaGo.Message {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafkaGo.Message{Key: []byte("chId"), Value: b}
}

func TestApply_ClearsCartsAndSnapshot(t *testing.T) {
	ctx := context.Background()
	snapshots := setupTestRedis(t)
	require.NoError(t, snapshots.Set(ctx, "123", &cache.Snapshot{UserID: "123"}))
	carts := &recordingClearer{}
	p := NewPollerWithReader(newFakeReader(), carts, snapshots, zaptest.NewLogger(t))

	err := p.apply(ctx, event(t, map[string]interface{}{"checkout_id": "chId", "user_id": "123", "total_amount": "1"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"123"}, carts.cleared())
	_, err = snapshots.Get(ctx, "123")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestApply_RejectsBadPayloads(t *testing.T) {
	carts := &recordingClearer{}
	p := NewPollerWithReader(newFakeReader(), carts, setupTestRedis(t), zaptest.NewLogger(t))

	assert.Error(t, p.apply(context.Background(), kafkaGo.Message{Value: []byte("{not json")}))
	assert.Error(t, p.apply(context.Background(), event(t, map[string]interface{}{"checkout_id": "x"})))
	assert.Error(t, p.apply(context.Background(), event(t, map[string]interface{}{"user_id": 42})))
	assert.Empty(t, carts.cleared())
}

func TestRun_KeepsGoingAfterErrorsAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := newFakeReader()
	carts := &recordingClearer{}
	p := NewPollerWithReader(reader, carts, setupTestRedis(t), zaptest.NewLogger(t))
	p.retryDelay = time.Millisecond

	reader.errs <- errors.New("broker unavailable")
	reader.msgs <- kafkaGo.Message{Value: []byte("garbage")}
	reader.msgs <- event(t, map[string]interface{}{"user_id": "u1"})

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(carts.cleared()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	p.Close()
	assert.True(t, reader.closed)
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

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
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

func TestPoller_KafkaIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a kafka container")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := setupKafka(t)
	createTopic(t, broker, Topic)
	snapshots := setupTestRedis(t)
	require.NoError(t, snapshots.Set(ctx, "123", &cache.Snapshot{UserID: "123"}))
	carts := &recordingClearer{}

	p := NewPoller(carts, snapshots, zaptest.NewLogger(t), broker)
	defer p.Close()

	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(broker),
		Topic:                  Topic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	err := w.WriteMessages(ctx, event(t, map[string]interface{}{
		"checkout_id":  "chId",
		"user_id":      "123",
		"total_amount": "1",
		"currency":     "SAR",
	}))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	go p.Run(ctx)

	require.Eventually(t, func() bool {
		return len(carts.cleared()) == 1
	}, 30*time.Second, 500*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := snapshots.Get(ctx, "123")
		return errors.Is(err, cache.ErrCacheMiss)
	}, 15*time.Second, 500*time.Millisecond)
}
