package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockvision/internal/logger"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(RedisConfig{Addr: mr.Addr(), ConsumerName: "test", MaxErrors: 2}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "stockvision_exchange:stock.data", StreamName(DefaultExchange, DefaultRoutingKey))
}

func TestToMessage(t *testing.T) {
	sent := time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC)

	m := toMessage(goredis.XMessage{
		ID: "1705334400000-0",
		Values: map[string]interface{}{
			"id":   "abc",
			"ts":   "1705334400000000000",
			"data": `{"ticker":"AAPL"}`,
		},
	})
	assert.Equal(t, "abc", m.ID)
	assert.Equal(t, `{"ticker":"AAPL"}`, string(m.Body))
	assert.True(t, sent.Equal(m.Timestamp))

	bare := toMessage(goredis.XMessage{ID: "1705334400000-3", Values: map[string]interface{}{"data": "x"}})
	assert.Equal(t, "1705334400000-3", bare.ID, "entry id stands in for a missing message id")
	assert.True(t, sent.Equal(bare.Timestamp), "timestamp falls back to the entry id")
}

func TestRedis_DeclareTwice(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()
	topo := Topology{Queue: "stock_data_queue"}

	require.NoError(t, r.Declare(ctx, topo))
	require.NoError(t, r.Declare(ctx, topo), "existing consumer group is reused")
}

func TestRedis_DeclareRejectsWildcards(t *testing.T) {
	r, _ := newTestRedis(t)
	err := r.Declare(context.Background(), Topology{Queue: "q", RoutingKey: "stock.*"})
	assert.ErrorContains(t, err, "wildcard")
}

func TestRedis_ConsumeUndeclared(t *testing.T) {
	r, _ := newTestRedis(t)
	_, err := r.Consume(context.Background(), "nope")
	assert.ErrorContains(t, err, "not declared")
}

func TestRedis_PublishConsume(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Declare(ctx, Topology{Queue: "q"}))
	sent := time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC)
	require.NoError(t, r.Publish(ctx, DefaultExchange, DefaultRoutingKey, Message{ID: "m1", Body: []byte("hello"), Timestamp: sent}))

	ch, err := r.Consume(ctx, "q")
	require.NoError(t, err)

	select {
	case m := <-ch:
		assert.Equal(t, "m1", m.ID)
		assert.Equal(t, "hello", string(m.Body))
		assert.True(t, sent.Equal(m.Timestamp))
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}
	assert.NoError(t, r.Err())
}

func TestRedis_PublishAfterServerLoss(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, r.Declare(ctx, Topology{Queue: "q"}))

	mr.Close()

	err := r.Publish(ctx, DefaultExchange, DefaultRoutingKey, Message{ID: "m1", Body: []byte("x")})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Error(t, r.Err())
}

func TestRedis_ServerLossStopsWorker(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Declare(ctx, Topology{Queue: "q"}))

	w := NewWorker("recorder", r, "q", &recordingHandler{}, logger.Discard())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	mr.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBusFailure)
		assert.Error(t, r.Err())
	case <-time.After(15 * time.Second):
		t.Fatal("worker did not stop after the server went away")
	}
}

func TestRedis_CloseTwice(t *testing.T) {
	r, _ := newTestRedis(t)
	require.NoError(t, r.Close())
	assert.NoError(t, r.Close())

	err := r.Publish(context.Background(), DefaultExchange, DefaultRoutingKey, Message{ID: "m1"})
	assert.ErrorIs(t, err, ErrClosed)
}
