package bus

import (
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"stockvision/internal/logger"
)

func TestPublishError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		lost  bool
		fatal bool
	}{
		{"channel not open", amqp.ErrClosed, false, true},
		{"connection gone", errors.New("write: broken pipe"), true, true},
		{"rejected while connected", errors.New("context deadline exceeded"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := publishError(tt.err, tt.lost, DefaultExchange, DefaultRoutingKey)
			assert.ErrorContains(t, err, DefaultExchange+"/"+DefaultRoutingKey)
			assert.Equal(t, tt.fatal, errors.Is(err, ErrClosed))
		})
	}
}

func TestAMQP_WatchRecordsChannelClose(t *testing.T) {
	a := &AMQP{log: logger.Discard(), closed: make(chan struct{})}
	chClosed := make(chan *amqp.Error, 1)
	chClosed <- &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange"}

	a.watch(make(chan *amqp.Error), chClosed)

	var amqpErr *amqp.Error
	assert.ErrorAs(t, a.Err(), &amqpErr)
	assert.Equal(t, amqp.NotFound, amqpErr.Code)
}

func TestAMQP_WatchCleanClose(t *testing.T) {
	a := &AMQP{log: logger.Discard(), closed: make(chan struct{})}
	connClosed := make(chan *amqp.Error)
	close(connClosed)

	a.watch(connClosed, make(chan *amqp.Error))
	assert.ErrorIs(t, a.Err(), ErrClosed)
}

func TestAMQP_WatchStopsOnClose(t *testing.T) {
	a := &AMQP{log: logger.Discard(), closed: make(chan struct{})}
	close(a.closed)

	a.watch(make(chan *amqp.Error), make(chan *amqp.Error))
	assert.NoError(t, a.Err())
}

func TestFromDelivery(t *testing.T) {
	ts := time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC)
	m := fromDelivery(amqp.Delivery{
		MessageId:  "m1",
		RoutingKey: DefaultRoutingKey,
		Body:       []byte(`{"ticker":"AAPL"}`),
		Timestamp:  ts,
	})
	assert.Equal(t, Message{ID: "m1", RoutingKey: DefaultRoutingKey, Body: []byte(`{"ticker":"AAPL"}`), Timestamp: ts}, m)
}
