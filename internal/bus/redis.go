package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	busyGroup   = "BUSYGROUP"
	pingTimeout = 2 * time.Second
)

// RedisConfig configures the Redis Streams driver.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	MaxLen       int64 // approximate stream trim length, 0 = 100000
	ConsumerName string
	MaxErrors    int // consecutive read errors before the consumer gives up, 0 = 10
}

// Redis is a Bus over Redis Streams. Each (exchange, routing key) pair is one
// stream "exchange:routingKey"; each queue is a consumer group on that stream.
// Routing is by exact key: topic wildcards are not supported.
type Redis struct {
	client   *goredis.Client
	log      *slog.Logger
	maxLen   int64
	consumer string
	maxErrs  int

	mu     sync.RWMutex
	queues map[string]string // queue (group) -> stream
	err    error

	closeOnce sync.Once
	closeErr  error
}

// NewRedis creates a Redis bus and pings the server.
func NewRedis(cfg RedisConfig, log *slog.Logger) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxLen := cfg.MaxLen
	if maxLen == 0 {
		maxLen = 100000
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	maxErrs := cfg.MaxErrors
	if maxErrs == 0 {
		maxErrs = 10
	}

	log.Info("connected to redis", "addr", cfg.Addr, "consumer", consumer)
	return &Redis{
		client:   client,
		log:      log,
		maxLen:   maxLen,
		consumer: consumer,
		maxErrs:  maxErrs,
		queues:   make(map[string]string),
	}, nil
}

// StreamName returns the stream key for an exchange and routing key.
func StreamName(exchange, routingKey string) string {
	return exchange + ":" + routingKey
}

// Declare creates the consumer group for topo.Queue, creating the stream if
// needed. A group that already exists is not an error.
func (r *Redis) Declare(ctx context.Context, topo Topology) error {
	topo = topo.withDefaults()
	if topo.Queue == "" {
		return nil
	}
	if strings.ContainsAny(topo.RoutingKey, "*#") {
		return fmt.Errorf("declare %s: redis driver does not support wildcard routing keys", topo)
	}

	stream := StreamName(topo.Exchange, topo.RoutingKey)
	err := r.client.XGroupCreateMkStream(ctx, stream, topo.Queue, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), busyGroup) {
		return fmt.Errorf("xgroup create %s/%s: %w", stream, topo.Queue, err)
	}

	r.mu.Lock()
	r.queues[topo.Queue] = stream
	r.mu.Unlock()
	return nil
}

// Publish appends msg to the exchange/routing key stream with approximate trimming.
func (r *Redis) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	stream := StreamName(exchange, routingKey)
	err := r.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":   msg.ID,
			"ts":   msg.Timestamp.UnixNano(),
			"data": string(msg.Body),
		},
	}).Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, goredis.ErrClosed) {
		return fmt.Errorf("%w: xadd %s: %v", ErrClosed, stream, err)
	}
	if ctx.Err() == nil && !r.reachable() {
		r.setErr(fmt.Errorf("redis unreachable: %w", err))
		return fmt.Errorf("%w: xadd %s: %v", ErrClosed, stream, err)
	}
	return fmt.Errorf("xadd %s: %w", stream, err)
}

// reachable pings the server after a failed command, so that a lost server
// is told apart from a rejected command.
func (r *Redis) reachable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err() == nil
}

// Consume reads the queue's consumer group with NOACK, so entries are
// acknowledged as they are delivered.
func (r *Redis) Consume(ctx context.Context, queue string) (<-chan Message, error) {
	r.mu.RLock()
	stream, ok := r.queues[queue]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("consume: queue %q not declared", queue)
	}

	out := make(chan Message, 100)
	go r.readLoop(ctx, stream, queue, out)
	return out, nil
}

func (r *Redis) readLoop(ctx context.Context, stream, group string, out chan<- Message) {
	defer close(out)

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    group,
			Consumer: r.consumer,
			Streams:  []string{stream, ">"},
			Count:    100,
			Block:    2 * time.Second,
			NoAck:    true,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			if errors.Is(err, goredis.ErrClosed) {
				r.setErr(ErrClosed)
				return
			}
			failures++
			r.log.Warn("xreadgroup error", "stream", stream, "error", err, "consecutive", failures)
			if failures >= r.maxErrs {
				r.setErr(fmt.Errorf("xreadgroup %s: %w", stream, err))
				return
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}
		failures = 0

		for _, s := range results {
			for _, xm := range s.Messages {
				select {
				case out <- toMessage(xm):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func toMessage(xm goredis.XMessage) Message {
	msg := Message{ID: xm.ID}
	if id, ok := xm.Values["id"].(string); ok && id != "" {
		msg.ID = id
	}
	if data, ok := xm.Values["data"].(string); ok {
		msg.Body = []byte(data)
	}
	if ts, ok := xm.Values["ts"].(string); ok {
		var nanos int64
		if _, err := fmt.Sscan(ts, &nanos); err == nil {
			msg.Timestamp = time.Unix(0, nanos)
		}
	}
	if i := strings.LastIndex(xm.ID, "-"); i > 0 && msg.Timestamp.IsZero() {
		var ms int64
		if _, err := fmt.Sscan(xm.ID[:i], &ms); err == nil {
			msg.Timestamp = time.UnixMilli(ms)
		}
	}
	return msg
}

func (r *Redis) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Err returns the error that stopped a read loop, if any.
func (r *Redis) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Close closes the Redis client. Safe to call more than once.
func (r *Redis) Close() error {
	r.closeOnce.Do(func() { r.closeErr = r.client.Close() })
	return r.closeErr
}
