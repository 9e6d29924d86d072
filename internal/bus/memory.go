package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Memory is an in-process Bus. Exchanges route by AMQP topic rules to
// buffered queues; several consumers on one queue compete for messages.
// Messages do not survive the process.
type Memory struct {
	mu       sync.RWMutex
	bindings map[string][]binding // exchange -> bindings
	queues   map[string]chan Message
	bufSize  int
	closed   bool
}

type binding struct {
	pattern string
	queue   string
}

// NewMemory creates a Memory bus whose queues buffer up to bufSize messages.
// A publish to a full queue blocks until space frees up or ctx is done.
func NewMemory(bufSize int) *Memory {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &Memory{
		bindings: make(map[string][]binding),
		queues:   make(map[string]chan Message),
		bufSize:  bufSize,
	}
}

// Declare registers the exchange, queue and binding. Repeated calls are no-ops.
func (m *Memory) Declare(_ context.Context, topo Topology) error {
	topo = topo.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.bindings[topo.Exchange]; !ok {
		m.bindings[topo.Exchange] = nil
	}
	if topo.Queue == "" {
		return nil
	}
	if _, ok := m.queues[topo.Queue]; !ok {
		m.queues[topo.Queue] = make(chan Message, m.bufSize)
	}
	for _, b := range m.bindings[topo.Exchange] {
		if b.queue == topo.Queue && b.pattern == topo.RoutingKey {
			return nil
		}
	}
	m.bindings[topo.Exchange] = append(m.bindings[topo.Exchange], binding{
		pattern: topo.RoutingKey,
		queue:   topo.Queue,
	})
	return nil
}

// Publish copies msg into every queue bound to exchange with a matching pattern.
// Publishing to an undeclared exchange is an error; no matching binding drops
// the message, as a broker would.
func (m *Memory) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	bs, ok := m.bindings[exchange]
	if !ok {
		return fmt.Errorf("publish: exchange %q not declared", exchange)
	}

	msg.RoutingKey = routingKey
	for _, b := range bs {
		if !TopicMatch(b.pattern, routingKey) {
			continue
		}
		q := m.queues[b.queue]
		select {
		case q <- msg:
			continue
		default:
		}
		select {
		case q <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Consume returns the queue's channel. Receiving from it is the acknowledgement.
func (m *Memory) Consume(_ context.Context, queue string) (<-chan Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	ch, ok := m.queues[queue]
	if !ok {
		return nil, fmt.Errorf("consume: queue %q not declared", queue)
	}
	return ch, nil
}

// Err reports ErrClosed once the bus is closed.
func (m *Memory) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close closes every queue channel. Buffered messages are still drained by consumers.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.queues {
		close(ch)
	}
	return nil
}

// QueueStat is the (length, capacity) of a queue.
type QueueStat struct {
	Len int
	Cap int
}

// Stats returns the fill level of every declared queue.
func (m *Memory) Stats() map[string]QueueStat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]QueueStat, len(m.queues))
	for name, ch := range m.queues {
		stats[name] = QueueStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}

// TopicMatch reports whether routingKey matches an AMQP topic pattern.
// Words are dot-separated; "*" matches exactly one word, "#" zero or more.
func TopicMatch(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(p, k []string) bool {
	for len(p) > 0 {
		switch p[0] {
		case "#":
			if len(p) == 1 {
				return true
			}
			for i := 0; i <= len(k); i++ {
				if matchWords(p[1:], k[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(k) == 0 {
				return false
			}
		default:
			if len(k) == 0 || p[0] != k[0] {
				return false
			}
		}
		p, k = p[1:], k[1:]
	}
	return len(k) == 0
}
