package bus

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Drivers accepted by Open.
const (
	DriverAMQP   = "amqp"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Options selects and configures a driver.
type Options struct {
	Driver string

	// amqp
	URL            string
	ConnectTimeout time.Duration

	// redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StreamMaxLen  int64

	// memory
	BufferSize int
}

// Open connects the configured driver.
func Open(ctx context.Context, opts Options, log *slog.Logger) (Bus, error) {
	switch opts.Driver {
	case DriverAMQP, "":
		return DialAMQP(ctx, AMQPConfig{URL: opts.URL, ConnectTimeout: opts.ConnectTimeout}, log)
	case DriverRedis:
		return NewRedis(RedisConfig{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			MaxLen:   opts.StreamMaxLen,
		}, log)
	case DriverMemory:
		return NewMemory(opts.BufferSize), nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", opts.Driver)
	}
}

// redactURL hides the password of a connection URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
