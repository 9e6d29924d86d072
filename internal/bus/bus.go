// Package bus is the durable topic/queue transport between the pipeline
// components. Publishers send to an exchange under a routing key; consumers
// read from durable queues bound to that exchange.
//
// Every driver acknowledges a delivery when it is received, before the
// handler runs: a crash between receipt and handling loses that message.
// Handlers make this safe by writing with keyed upserts only.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBusFailure marks a connection or channel loss. It is fatal for the
	// component loop; the process exits and is restarted by its supervisor.
	ErrBusFailure = errors.New("bus failure")

	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus closed")
)

// Default topology names.
const (
	DefaultExchange   = "stockvision_exchange"
	DefaultRoutingKey = "stock.data"
	ExchangeTopic     = "topic"
)

// Message is one delivery on the bus.
type Message struct {
	ID         string
	RoutingKey string
	Body       []byte
	Timestamp  time.Time
}

// Topology describes an exchange and, optionally, a durable queue bound to
// it under RoutingKey. Declaring a topology is idempotent.
type Topology struct {
	Exchange     string
	ExchangeType string
	Queue        string
	RoutingKey   string
}

func (t Topology) withDefaults() Topology {
	if t.Exchange == "" {
		t.Exchange = DefaultExchange
	}
	if t.ExchangeType == "" {
		t.ExchangeType = ExchangeTopic
	}
	if t.RoutingKey == "" {
		t.RoutingKey = DefaultRoutingKey
	}
	return t
}

func (t Topology) String() string {
	if t.Queue == "" {
		return fmt.Sprintf("%s(%s)", t.Exchange, t.ExchangeType)
	}
	return fmt.Sprintf("%s(%s) -[%s]-> %s", t.Exchange, t.ExchangeType, t.RoutingKey, t.Queue)
}

// Publisher sends messages to an exchange.
type Publisher interface {
	// Declare creates the exchange, queue and binding if missing.
	Declare(ctx context.Context, topo Topology) error

	// Publish sends msg to exchange under routingKey.
	Publish(ctx context.Context, exchange, routingKey string, msg Message) error
}

// Consumer reads deliveries from a durable queue.
type Consumer interface {
	// Declare creates the exchange, queue and binding if missing.
	Declare(ctx context.Context, topo Topology) error

	// Consume starts delivering messages from queue, acknowledged on receipt.
	// The returned channel is closed when ctx is done or the connection is
	// lost; in the latter case Err reports why.
	Consume(ctx context.Context, queue string) (<-chan Message, error)

	// Err returns the reason the bus stopped delivering, or nil.
	Err() error
}

// Bus is a full driver: publish, consume and close.
type Bus interface {
	Publisher
	Consumer

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Handler processes one delivered message.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }
